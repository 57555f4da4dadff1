package usecase

import (
	"context"
	"sync"

	"liveinterview/internal/domain"
	"liveinterview/internal/ports"
)

type activeSession struct {
	sessionID string
	ctx       context.Context
	cancel    func()

	transport     ports.Transport
	subscriptions *subscriptionRegistry
	devices       *DeviceManager
	transcription *TranscriptionAggregator
	elapsed       *ElapsedRelay

	toggleMu sync.Mutex

	stateMu       sync.Mutex
	state         domain.SessionState
	failure       *domain.Failure
	localIdentity string
	media         domain.MediaToggles
	tiles         []domain.ParticipantTile
	agentPresent  bool
	released      bool
	remoteGone    bool

	ended chan struct{}
}

func newActiveSession(parent context.Context, sessionID string) *activeSession {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &activeSession{
		sessionID:     sessionID,
		ctx:           ctx,
		cancel:        cancel,
		subscriptions: newSubscriptionRegistry(),
		state:         domain.SessionStateConnecting,
		ended:         make(chan struct{}),
	}
}

func (s *activeSession) getState() domain.SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// transition moves to next only from one of the allowed states.
func (s *activeSession) transition(next domain.SessionState, from ...domain.SessionState) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	for _, state := range from {
		if s.state == state {
			s.state = next
			return true
		}
	}
	return false
}

func (s *activeSession) fail(failure domain.Failure) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != domain.SessionStateConnecting {
		return false
	}
	s.state = domain.SessionStateFailed
	s.failure = &failure
	return true
}

func (s *activeSession) markEnded() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state = domain.SessionStateEnded
}

func (s *activeSession) release() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.released {
		return false
	}
	s.released = true
	return true
}

func (s *activeSession) isReleased() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.released
}

func (s *activeSession) setMedia(media domain.MediaToggles) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.media = media
}

func (s *activeSession) getMedia() domain.MediaToggles {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.media
}

func (s *activeSession) setRoster(tiles []domain.ParticipantTile, agentPresent bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.tiles = tiles
	s.agentPresent = agentPresent
}

// live reports whether the call is connected and not being torn down.
func (s *activeSession) live() bool {
	state := s.getState()
	return state == domain.SessionStateActive || state == domain.SessionStateConfirmingEnd
}

// attach records the connected transport unless the session was already released.
func (s *activeSession) attach(transport ports.Transport, localIdentity string) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.released {
		return false
	}
	s.transport = transport
	s.localIdentity = localIdentity
	return true
}

func (s *activeSession) connection() (ports.Transport, string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.transport, s.localIdentity
}

func (s *activeSession) noteEarlyDisconnect() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.remoteGone = true
}

func (s *activeSession) takeEarlyDisconnect() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	gone := s.remoteGone
	s.remoteGone = false
	return gone
}
