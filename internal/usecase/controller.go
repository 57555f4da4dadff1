package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"liveinterview/internal/domain"
	"liveinterview/internal/ports"
)

var (
	ErrNotMounted        = errors.New("no interview session is mounted")
	ErrInvalidTransition = errors.New("invalid session state transition")
)

const disconnectTimeout = 5 * time.Second

// Config controls topics and limits of the live session.
type Config struct {
	TranscriptionTopic string
	ElapsedTopic       string
	SubtitleLimit      int
	RequestTimeout     time.Duration
}

// TransportFactory returns a fresh, unconnected transport.
type TransportFactory func() ports.Transport

// SessionController owns the interview call from mount to termination.
type SessionController struct {
	resolver   *CredentialResolver
	transports TransportFactory
	classifier *InterviewerClassifier
	events     ports.EventSink
	navigator  ports.Navigator
	finalizer  sessionFinalizer
	cfg        Config
	logger     zerolog.Logger

	mu      sync.Mutex
	current *activeSession
}

func NewSessionController(
	resolver *CredentialResolver,
	api ports.SessionAPI,
	transports TransportFactory,
	classifier *InterviewerClassifier,
	events ports.EventSink,
	navigator ports.Navigator,
	cfg Config,
	logger zerolog.Logger,
) *SessionController {
	if cfg.TranscriptionTopic == "" {
		cfg.TranscriptionTopic = "lk.transcription"
	}
	if cfg.ElapsedTopic == "" {
		cfg.ElapsedTopic = "interview.elapsed"
	}
	if cfg.SubtitleLimit <= 0 || cfg.SubtitleLimit > defaultSubtitleLimit {
		cfg.SubtitleLimit = defaultSubtitleLimit
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &SessionController{
		resolver:   resolver,
		transports: transports,
		classifier: classifier,
		events:     events,
		navigator:  navigator,
		finalizer:  newSessionFinalizer(api, events, cfg.RequestTimeout, logger),
		cfg:        cfg,
		logger:     logger.With().Str("module", "usecase.controller").Logger(),
	}
}

// Mount resolves credentials, connects, and wires every subscription.
// A previously mounted session is torn down first.
func (c *SessionController) Mount(ctx context.Context, sessionID string) error {
	active := c.newSession(ctx, sessionID)

	c.mu.Lock()
	previous := c.current
	c.current = active
	c.mu.Unlock()

	if previous != nil {
		c.teardown(previous)
	}
	c.events.SessionStateChanged(domain.SessionStateConnecting, domain.SessionReasonMounted)

	credential, err := c.resolver.Resolve(ctx, sessionID)
	if err != nil {
		return c.failSetup(active, err)
	}

	transport := c.transports()
	// Registered before Connect so a room closed mid-setup is never missed.
	active.subscriptions.event(transport, ports.EventDisconnected, func(event ports.TransportEvent) {
		c.handleRemoteDisconnect(active, event.Reason)
	})
	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	err = transport.Connect(connectCtx, credential)
	cancel()
	if err != nil {
		active.subscriptions.releaseAll()
		return c.failSetup(active, domain.NewConnectionSetupFailed(fmt.Errorf("connect: %w", err)))
	}

	localIdentity := transport.LocalIdentity()
	if localIdentity == "" {
		localIdentity = tokenSubject(credential.Token)
	}
	if !active.attach(transport, localIdentity) {
		c.disconnect(transport, sessionID)
		return ErrNotMounted
	}

	caps := detectCapabilities(transport)
	active.devices.bind(caps.lister, caps.switcher)
	if err := c.subscribe(active, transport, caps); err != nil {
		setupErr := c.failSetup(active, domain.NewConnectionSetupFailed(err))
		c.teardown(active)
		return setupErr
	}

	if !active.transition(domain.SessionStateActive, domain.SessionStateConnecting) {
		return ErrNotMounted
	}
	c.logger.Info().Str("session_id", sessionID).Str("room", credential.RoomName).Str("identity", localIdentity).Msg("interview connected")
	c.events.SessionStateChanged(domain.SessionStateActive, domain.SessionReasonConnected)

	c.enableMedia(active, transport)
	active.devices.Refresh(active.ctx)
	c.rebuildRoster(active)

	if active.takeEarlyDisconnect() {
		c.handleRemoteDisconnect(active, "disconnected during setup")
	}
	return nil
}

func (c *SessionController) newSession(ctx context.Context, sessionID string) *activeSession {
	active := newActiveSession(ctx, sessionID)
	active.devices = NewDeviceManager(nil, nil, c.guardedSink(active), c.logger)
	active.transcription = NewTranscriptionAggregator(
		c.cfg.SubtitleLimit,
		func(info ports.TextStreamInfo) string {
			transport, localIdentity := active.connection()
			if transport == nil {
				return domain.SpeakerAI
			}
			return resolveSpeaker(info, transport.Participants(), localIdentity)
		},
		func(entries []domain.SubtitleEntry) {
			if !active.isReleased() {
				c.events.SubtitlesChanged(entries)
			}
		},
		c.logger,
	)
	active.elapsed = NewElapsedRelay(func(value string) {
		if !active.isReleased() {
			c.events.ElapsedChanged(value)
		}
	}, c.logger)
	return active
}

func (c *SessionController) subscribe(active *activeSession, transport ports.Transport, caps transportCapabilities) error {
	subs := active.subscriptions

	err := subs.textStream(transport, c.cfg.TranscriptionTopic, func(_ context.Context, stream ports.TextStream) {
		active.transcription.HandleStream(active.ctx, stream)
	})
	if err != nil {
		return err
	}
	err = subs.textStream(transport, c.cfg.ElapsedTopic, func(_ context.Context, stream ports.TextStream) {
		active.elapsed.HandleStream(active.ctx, stream)
	})
	if err != nil {
		return err
	}

	rebuild := func(ports.TransportEvent) { c.rebuildRoster(active) }
	subs.event(transport, ports.EventParticipantsChanged, rebuild)
	subs.event(transport, ports.EventTracksChanged, rebuild)
	subs.event(transport, ports.EventSpeakersChanged, rebuild)
	subs.deviceChanges(caps.notifier, func() {
		active.devices.Refresh(active.ctx)
	})
	return nil
}

func (c *SessionController) enableMedia(active *activeSession, transport ports.Transport) {
	media := domain.MediaToggles{Microphone: true, Camera: true}
	if err := transport.SetMicrophoneEnabled(active.ctx, true); err != nil {
		c.logger.Warn().Err(err).Str("session_id", active.sessionID).Msg("could not enable microphone")
		media.Microphone = false
	}
	if err := transport.SetCameraEnabled(active.ctx, true); err != nil {
		c.logger.Warn().Err(err).Str("session_id", active.sessionID).Msg("could not enable camera")
		media.Camera = false
	}
	active.setMedia(media)
}

func (c *SessionController) failSetup(active *activeSession, err error) error {
	setupErr := domain.AsSetupError(err)
	if !active.fail(domain.Failure{Code: setupErr.Code, Message: setupErr.UserMessage()}) || active.isReleased() {
		return setupErr
	}

	c.logger.Error().Err(setupErr).Str("session_id", active.sessionID).Str("code", string(setupErr.Code)).Msg("interview setup failed")
	c.events.SessionError(domain.ErrorCodeSetup, setupErr.UserMessage())
	c.events.SessionStateChanged(domain.SessionStateFailed, setupReason(setupErr.Code))
	return setupErr
}

func setupReason(code domain.SetupErrorCode) domain.SessionStateReason {
	switch code {
	case domain.SetupSessionNotFound:
		return domain.SessionReasonSessionNotFound
	case domain.SetupSessionNotActive:
		return domain.SessionReasonSessionNotActive
	default:
		return domain.SessionReasonSetupFailed
	}
}

// RequestEnd asks for confirmation before ending the call.
func (c *SessionController) RequestEnd() error {
	active, err := c.getCurrent()
	if err != nil {
		return err
	}
	if active.transition(domain.SessionStateConfirmingEnd, domain.SessionStateActive) {
		c.events.SessionStateChanged(domain.SessionStateConfirmingEnd, domain.SessionReasonEndRequested)
		return nil
	}
	return ignoreWhileEnding(active.getState())
}

// CancelEnd dismisses the confirmation and returns to the call.
func (c *SessionController) CancelEnd() error {
	active, err := c.getCurrent()
	if err != nil {
		return err
	}
	if active.transition(domain.SessionStateActive, domain.SessionStateConfirmingEnd) {
		c.events.SessionStateChanged(domain.SessionStateActive, domain.SessionReasonEndCancelled)
		return nil
	}
	return ignoreWhileEnding(active.getState())
}

// ConfirmEnd ends the call. Repeated confirmations are no-ops.
func (c *SessionController) ConfirmEnd(ctx context.Context) error {
	active, err := c.getCurrent()
	if err != nil {
		return err
	}
	if !active.transition(domain.SessionStateEnding, domain.SessionStateConfirmingEnd) {
		return ignoreWhileEnding(active.getState())
	}
	c.finishEnd(ctx, active, domain.SessionReasonEndConfirmed)
	return nil
}

func ignoreWhileEnding(state domain.SessionState) error {
	switch state {
	case domain.SessionStateEnding, domain.SessionStateEnded:
		return nil
	default:
		return fmt.Errorf("%w from %s", ErrInvalidTransition, state)
	}
}

func (c *SessionController) handleRemoteDisconnect(active *activeSession, reason string) {
	if active.transition(domain.SessionStateEnding, domain.SessionStateActive, domain.SessionStateConfirmingEnd) {
		c.logger.Info().Str("session_id", active.sessionID).Str("reason", reason).Msg("room closed remotely")
		go c.finishEnd(context.Background(), active, domain.SessionReasonRemoteEnded)
		return
	}
	if active.getState() == domain.SessionStateConnecting {
		active.noteEarlyDisconnect()
	}
}

// finishEnd runs exactly once per session, after the state moved to ending.
func (c *SessionController) finishEnd(ctx context.Context, active *activeSession, reason domain.SessionStateReason) {
	defer close(active.ended)
	c.events.SessionStateChanged(domain.SessionStateEnding, reason)
	active.subscriptions.releaseAll()

	result := c.finalizer.Finalize(ctx, active.sessionID)
	c.teardown(active)
	active.markEnded()

	c.events.SessionStateChanged(domain.SessionStateEnded, result)
	c.navigator.Navigate(domain.Route{Kind: domain.RouteResults, SessionID: active.sessionID})
}

// Unmount releases the view without ending the interview on the server.
func (c *SessionController) Unmount() {
	c.mu.Lock()
	active := c.current
	c.current = nil
	c.mu.Unlock()

	if active != nil {
		c.teardown(active)
	}
}

// ReturnToDashboard is the only way out of a failed setup.
func (c *SessionController) ReturnToDashboard() error {
	active, err := c.getCurrent()
	if err != nil {
		return err
	}
	if active.getState() != domain.SessionStateFailed {
		return fmt.Errorf("%w from %s", ErrInvalidTransition, active.getState())
	}
	c.Unmount()
	c.navigator.Navigate(domain.Route{Kind: domain.RouteDashboard})
	return nil
}

func (c *SessionController) teardown(active *activeSession) {
	if !active.release() {
		return
	}
	active.cancel()
	active.subscriptions.releaseAll()
	if transport, _ := active.connection(); transport != nil {
		c.disconnect(transport, active.sessionID)
	}
}

func (c *SessionController) disconnect(transport ports.Transport, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := transport.Disconnect(ctx); err != nil {
		c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("transport disconnect failed")
	}
}

// ToggleMicrophone flips the local microphone. A failed toggle keeps the old state.
func (c *SessionController) ToggleMicrophone(ctx context.Context) (bool, error) {
	return c.toggle("microphone",
		func(m domain.MediaToggles) bool { return m.Microphone },
		func(m *domain.MediaToggles, v bool) { m.Microphone = v },
		func(t ports.Transport, v bool) error { return t.SetMicrophoneEnabled(ctx, v) },
	)
}

// ToggleCamera flips the local camera. A failed toggle keeps the old state.
func (c *SessionController) ToggleCamera(ctx context.Context) (bool, error) {
	return c.toggle("camera",
		func(m domain.MediaToggles) bool { return m.Camera },
		func(m *domain.MediaToggles, v bool) { m.Camera = v },
		func(t ports.Transport, v bool) error { return t.SetCameraEnabled(ctx, v) },
	)
}

func (c *SessionController) toggle(
	name string,
	get func(domain.MediaToggles) bool,
	set func(*domain.MediaToggles, bool),
	apply func(ports.Transport, bool) error,
) (bool, error) {
	active, transport, err := c.liveSession()
	if err != nil {
		return false, err
	}

	active.toggleMu.Lock()
	defer active.toggleMu.Unlock()

	media := active.getMedia()
	next := !get(media)
	if err := apply(transport, next); err != nil {
		c.logger.Warn().Err(err).Str("session_id", active.sessionID).Str("media", name).Bool("enabled", next).Msg("media toggle failed")
		c.events.SessionError(domain.ErrorCodeMediaToggle, fmt.Sprintf("could not change %s", name))
		return get(media), nil
	}
	set(&media, next)
	active.setMedia(media)
	c.rebuildRoster(active)
	return next, nil
}

// SelectDevice switches a device on the live connection. Switch failures are
// logged and leave the previous selection in place.
func (c *SessionController) SelectDevice(ctx context.Context, kind domain.DeviceKind, deviceID string) error {
	active, _, err := c.liveSession()
	if err != nil {
		return err
	}
	if err := active.devices.Select(ctx, kind, deviceID); err != nil {
		if errors.Is(err, ErrDeviceSwitchUnsupported) {
			return err
		}
	}
	return nil
}

// RefreshDevices re-enumerates local devices.
func (c *SessionController) RefreshDevices(ctx context.Context) (domain.DeviceInventory, error) {
	active, _, err := c.liveSession()
	if err != nil {
		return domain.DeviceInventory{}, err
	}
	return active.devices.Refresh(ctx), nil
}

func (c *SessionController) rebuildRoster(active *activeSession) {
	transport, localIdentity := active.connection()
	if transport == nil || active.isReleased() {
		return
	}
	participants := transport.Participants()
	tiles := ProjectRoster(participants, localIdentity, active.getMedia(), c.classifier)
	agentPresent := lo.SomeBy(participants, c.classifier.IsInterviewer)
	active.setRoster(tiles, agentPresent)
	c.events.RosterChanged(tiles)
}

// Snapshot returns everything the call view renders.
func (c *SessionController) Snapshot() domain.ViewState {
	c.mu.Lock()
	active := c.current
	c.mu.Unlock()
	if active == nil {
		return domain.ViewState{Elapsed: domain.ElapsedZero}
	}

	active.stateMu.Lock()
	view := domain.ViewState{
		SessionID:    active.sessionID,
		State:        active.state,
		Failure:      active.failure,
		Media:        active.media,
		Tiles:        append([]domain.ParticipantTile(nil), active.tiles...),
		AgentPresent: active.agentPresent,
	}
	active.stateMu.Unlock()

	view.Elapsed = active.elapsed.Value()
	view.Subtitles = active.transcription.Entries()
	view.Devices = active.devices.Inventory()
	return view
}

// Status returns the current lifecycle status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return domain.Status{Message: "no interview mounted"}
	}
	return domain.Status{State: c.current.getState(), Active: c.current.live()}
}

// endedSignal is closed once the mounted session reaches the ended state.
func (c *SessionController) endedSignal() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current.ended
}

func (c *SessionController) getCurrent() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNotMounted
	}
	return c.current, nil
}

func (c *SessionController) liveSession() (*activeSession, ports.Transport, error) {
	active, err := c.getCurrent()
	if err != nil {
		return nil, nil, err
	}
	if !active.live() {
		return nil, nil, fmt.Errorf("%w from %s", ErrInvalidTransition, active.getState())
	}
	transport, _ := active.connection()
	if transport == nil {
		return nil, nil, ErrNotMounted
	}
	return active, transport, nil
}

// guardedSink drops device updates once the session is released.
func (c *SessionController) guardedSink(active *activeSession) ports.EventSink {
	return releasedGuardSink{EventSink: c.events, active: active}
}

type releasedGuardSink struct {
	ports.EventSink
	active *activeSession
}

func (s releasedGuardSink) DevicesChanged(inventory domain.DeviceInventory) {
	if !s.active.isReleased() {
		s.EventSink.DevicesChanged(inventory)
	}
}

func (s releasedGuardSink) SessionError(code domain.ErrorCode, detail string) {
	if !s.active.isReleased() {
		s.EventSink.SessionError(code, detail)
	}
}
