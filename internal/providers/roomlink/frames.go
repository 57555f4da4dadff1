package roomlink

import "liveinterview/internal/domain"

// Server frame types.
const (
	frameJoined             = "joined"
	frameParticipantJoined  = "participant_joined"
	frameParticipantUpdated = "participant_updated"
	frameParticipantLeft    = "participant_left"
	frameTrackPublished     = "track_published"
	frameTrackUnpublished   = "track_unpublished"
	frameTrackMuted         = "track_muted"
	frameActiveSpeakers     = "active_speakers"
	frameStreamHeader       = "stream_header"
	frameStreamChunk        = "stream_chunk"
	frameStreamTrailer      = "stream_trailer"
	frameDisconnected       = "disconnected"
	frameError              = "error"
)

// Client frame types.
const (
	frameMute         = "mute"
	frameSwitchDevice = "switch_device"
	frameLeave        = "leave"
)

// Track sources the client can mute.
const (
	SourceMicrophone = "microphone"
	SourceCamera     = "camera"
)

type serverFrame struct {
	Type         string                    `json:"type"`
	Participant  *domain.ParticipantState  `json:"participant,omitempty"`
	Participants []domain.ParticipantState `json:"participants,omitempty"`
	Identity     string                    `json:"identity,omitempty"`
	Track        *domain.TrackState        `json:"track,omitempty"`
	TrackSID     string                    `json:"trackSid,omitempty"`
	Muted        bool                      `json:"muted,omitempty"`
	Speakers     []string                  `json:"speakers,omitempty"`
	Stream       *streamHeader             `json:"stream,omitempty"`
	StreamID     string                    `json:"streamId,omitempty"`
	Text         string                    `json:"text,omitempty"`
	Reason       string                    `json:"reason,omitempty"`
	Message      string                    `json:"message,omitempty"`
}

type streamHeader struct {
	ID                  string            `json:"id"`
	Topic               string            `json:"topic"`
	ParticipantIdentity string            `json:"participantIdentity"`
	Attributes          map[string]string `json:"attributes,omitempty"`
}

type clientFrame struct {
	Type     string `json:"type"`
	Source   string `json:"source,omitempty"`
	Muted    bool   `json:"muted"`
	DeviceID string `json:"deviceId,omitempty"`
}
