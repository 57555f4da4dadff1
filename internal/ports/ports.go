package ports

import (
	"context"

	"liveinterview/internal/domain"
)

// SessionAPI is the REST collaborator that owns interview session records.
type SessionAPI interface {
	// LookupSession returns domain.ErrSessionNotFound when no session exists.
	LookupSession(ctx context.Context, sessionID string) (domain.SessionRecord, error)
	IssueCredential(ctx context.Context, roomName string, sessionID string) (domain.SessionCredential, error)
	EndSession(ctx context.Context, sessionID string) error
}

// SessionCache reads entries written by the session-creation flow.
type SessionCache interface {
	// Get returns ok=false when no entry exists for the session.
	Get(ctx context.Context, sessionID string) (entry domain.CachedSessionEntry, ok bool, err error)
}

// TransportEventKind names a transport notification.
type TransportEventKind string

const (
	EventParticipantsChanged TransportEventKind = "participants_changed"
	EventTracksChanged       TransportEventKind = "tracks_changed"
	EventSpeakersChanged     TransportEventKind = "speakers_changed"
	EventDisconnected        TransportEventKind = "disconnected"
)

// TransportEvent is delivered to subscribers of a TransportEventKind.
type TransportEvent struct {
	Kind   TransportEventKind
	Reason string
}

// TextStreamInfo is the header of a tagged text stream.
type TextStreamInfo struct {
	ID                  string
	Topic               string
	ParticipantIdentity string
	Attributes          map[string]string
}

// TextStream is one incoming tagged text stream.
type TextStream interface {
	Info() TextStreamInfo
	// Next returns the next chunk, or io.EOF once the stream is complete.
	Next(ctx context.Context) (string, error)
	// ReadAll blocks until the stream completes and returns its full text.
	ReadAll(ctx context.Context) (string, error)
}

// TextStreamHandler is invoked once per incoming stream on a topic.
type TextStreamHandler func(ctx context.Context, stream TextStream)

// Transport is the realtime media room connection.
type Transport interface {
	Connect(ctx context.Context, credential domain.SessionCredential) error
	Disconnect(ctx context.Context) error
	LocalIdentity() string
	Participants() []domain.ParticipantState
	Subscribe(kind TransportEventKind, fn func(TransportEvent)) (unsubscribe func())
	RegisterTextStreamHandler(topic string, handler TextStreamHandler) error
	UnregisterTextStreamHandler(topic string)
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	SetCameraEnabled(ctx context.Context, enabled bool) error
}

// DeviceLister is an optional transport capability.
type DeviceLister interface {
	ListDevices(ctx context.Context, kind domain.DeviceKind) ([]domain.DeviceOption, error)
}

// DeviceSwitcher is an optional transport capability.
type DeviceSwitcher interface {
	SwitchActiveDevice(ctx context.Context, kind domain.DeviceKind, deviceID string) error
}

// DeviceChangeNotifier is an optional transport capability.
type DeviceChangeNotifier interface {
	OnDevicesChanged(fn func()) (unsubscribe func())
}

// EventSink emits controller state to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	SubtitlesChanged(entries []domain.SubtitleEntry)
	ElapsedChanged(value string)
	RosterChanged(tiles []domain.ParticipantTile)
	DevicesChanged(inventory domain.DeviceInventory)
	SessionError(code domain.ErrorCode, detail string)
}

// Navigator moves the UI away from the call view.
type Navigator interface {
	Navigate(route domain.Route)
}
