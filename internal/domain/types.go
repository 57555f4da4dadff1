package domain

import "time"

// SessionState models the live interview call lifecycle.
type SessionState string

const (
	SessionStateConnecting    SessionState = "connecting"
	SessionStateActive        SessionState = "active"
	SessionStateConfirmingEnd SessionState = "confirming-end"
	SessionStateEnding        SessionState = "ending"
	SessionStateEnded         SessionState = "ended"
	SessionStateFailed        SessionState = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s SessionState) Terminal() bool {
	return s == SessionStateEnded || s == SessionStateFailed
}

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonMounted          SessionStateReason = "mounted"
	SessionReasonConnected        SessionStateReason = "connected"
	SessionReasonEndRequested     SessionStateReason = "end_requested"
	SessionReasonEndCancelled     SessionStateReason = "end_cancelled"
	SessionReasonEndConfirmed     SessionStateReason = "end_confirmed"
	SessionReasonRemoteEnded      SessionStateReason = "remote_ended"
	SessionReasonFinalized        SessionStateReason = "finalized"
	SessionReasonFinalizeFailed   SessionStateReason = "finalize_failed"
	SessionReasonSessionNotFound  SessionStateReason = "session_not_found"
	SessionReasonSessionNotActive SessionStateReason = "session_not_active"
	SessionReasonSetupFailed      SessionStateReason = "setup_failed"
)

// ErrorCode identifies recoverable and terminal errors reported to the UI.
type ErrorCode string

const (
	ErrorCodeStartup      ErrorCode = "startup"
	ErrorCodeSetup        ErrorCode = "setup"
	ErrorCodeDeviceQuery  ErrorCode = "device_query"
	ErrorCodeDeviceSwitch ErrorCode = "device_switch"
	ErrorCodeMediaToggle  ErrorCode = "media_toggle"
	ErrorCodeFinalization ErrorCode = "finalization"
)

// SessionCredential is everything needed to join the realtime room.
type SessionCredential struct {
	Token                string `json:"token"`
	TransportEndpointURL string `json:"transportEndpointUrl"`
	RoomName             string `json:"roomName"`
	TargetRole           string `json:"targetRole,omitempty"`
}

// CachedSessionEntry is written by the session-creation flow and read once on mount.
type CachedSessionEntry struct {
	Token                string    `json:"token"`
	TransportEndpointURL string    `json:"serverUrl"`
	RoomName             string    `json:"roomName"`
	TargetRole           string    `json:"targetRole,omitempty"`
	CachedAt             time.Time `json:"cachedAt"`
}

// Usable reports whether the entry carries every field needed to connect.
func (e CachedSessionEntry) Usable() bool {
	return e.Token != "" && e.TransportEndpointURL != "" && e.RoomName != ""
}

// Credential converts the entry into a connection credential.
func (e CachedSessionEntry) Credential() SessionCredential {
	return SessionCredential{
		Token:                e.Token,
		TransportEndpointURL: e.TransportEndpointURL,
		RoomName:             e.RoomName,
		TargetRole:           e.TargetRole,
	}
}

// SessionRecord is what the session lookup collaborator returns.
type SessionRecord struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	RoomName   string `json:"roomName"`
	TargetRole string `json:"targetRole,omitempty"`
}

// SessionStatusActive is the only lookup status that allows joining.
const SessionStatusActive = "active"

// DeviceKind enumerates local media device kinds.
type DeviceKind string

const (
	DeviceKindMicrophone DeviceKind = "microphone"
	DeviceKindCamera     DeviceKind = "camera"
	DeviceKindSpeaker    DeviceKind = "speaker"
)

// DeviceKinds lists every kind in display order.
var DeviceKinds = []DeviceKind{DeviceKindMicrophone, DeviceKindCamera, DeviceKindSpeaker}

// DeviceOption is one selectable local device. Label may be empty without permission.
type DeviceOption struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Kind  DeviceKind `json:"kind"`
}

// DeviceInventory is the enumerated devices and the current selection per kind.
type DeviceInventory struct {
	Devices  map[DeviceKind][]DeviceOption `json:"devices"`
	Selected map[DeviceKind]string         `json:"selected"`
}

// TrackKind distinguishes published track media.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// TrackState is a published track as reported by the transport.
type TrackState struct {
	SID    string    `json:"sid"`
	Kind   TrackKind `json:"kind"`
	Source string    `json:"source,omitempty"`
	Muted  bool      `json:"muted"`
}

// ParticipantState is a connected participant as reported by the transport.
type ParticipantState struct {
	Identity   string       `json:"identity"`
	Name       string       `json:"name"`
	Metadata   string       `json:"metadata,omitempty"`
	Kind       string       `json:"kind,omitempty"`
	IsLocal    bool         `json:"isLocal"`
	IsSpeaking bool         `json:"isSpeaking"`
	Tracks     []TrackState `json:"tracks"`
}

// DisplayName falls back to the identity when no name is set.
func (p ParticipantState) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Identity
}

// ParticipantRole classifies a tile.
type ParticipantRole string

const (
	ParticipantRoleAI        ParticipantRole = "ai"
	ParticipantRoleCandidate ParticipantRole = "candidate"
	ParticipantRoleOther     ParticipantRole = "other"
)

// ParticipantTile is a display projection of one participant.
type ParticipantTile struct {
	ID           string          `json:"id"`
	DisplayName  string          `json:"displayName"`
	Role         ParticipantRole `json:"role"`
	IsLocal      bool            `json:"isLocal"`
	IsSpeaking   bool            `json:"isSpeaking"`
	HasAudio     bool            `json:"hasAudio"`
	HasVideo     bool            `json:"hasVideo"`
	VideoSurface string          `json:"videoSurface,omitempty"`
}

// SubtitleEntry is one caption line. Entries with the same ID are one segment.
type SubtitleEntry struct {
	ID      string `json:"id"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Speaker labels used on captions.
const (
	SpeakerLocal = "You"
	SpeakerAI    = "AI"
)

// ElapsedZero is shown until the first elapsed-time message arrives.
const ElapsedZero = "00:00"

// RouteKind names a navigation target outside the call view.
type RouteKind string

const (
	RouteResults   RouteKind = "results"
	RouteDashboard RouteKind = "dashboard"
)

// Route is an outbound navigation request.
type Route struct {
	Kind      RouteKind `json:"kind"`
	SessionID string    `json:"sessionId,omitempty"`
}

// Path renders the frontend path for the route.
func (r Route) Path() string {
	if r.Kind == RouteResults && r.SessionID != "" {
		return "/interview/" + r.SessionID + "/results"
	}
	return "/dashboard"
}

// MediaToggles is the local user's mic/camera intent.
type MediaToggles struct {
	Microphone bool `json:"microphone"`
	Camera     bool `json:"camera"`
}

// Failure describes a terminal setup error for display.
type Failure struct {
	Code    SetupErrorCode `json:"code"`
	Message string         `json:"message"`
}

// ViewState is a consistent snapshot of everything the call view renders.
type ViewState struct {
	SessionID    string            `json:"sessionId"`
	State        SessionState      `json:"state"`
	Failure      *Failure          `json:"failure,omitempty"`
	Elapsed      string            `json:"elapsed"`
	Subtitles    []SubtitleEntry   `json:"subtitles"`
	Tiles        []ParticipantTile `json:"tiles"`
	Devices      DeviceInventory   `json:"devices"`
	Media        MediaToggles      `json:"media"`
	AgentPresent bool              `json:"agentPresent"`
}

// Status summarizes the current runtime status.
type Status struct {
	State   SessionState `json:"state"`
	Active  bool         `json:"active"`
	Message string       `json:"message,omitempty"`
}
