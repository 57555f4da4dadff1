package roomlink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"liveinterview/internal/domain"
	"liveinterview/internal/ports"
)

var (
	ErrAlreadyConnected = errors.New("room connection already established")
	ErrNotConnected     = errors.New("room connection is not established")
)

// Config controls the room websocket.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	OutboxSize       int
}

// Client implements ports.Transport over the room signaling websocket.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	local       *domain.ParticipantState
	remotes     map[string]*domain.ParticipantState
	handlers    map[string]ports.TextStreamHandler
	streams     map[string]*textStream
	subscribers map[ports.TransportEventKind]map[int]func(ports.TransportEvent)
	nextSubID   int
	leaving     bool
	gone        *ports.TransportEvent
	handlerCtx  context.Context

	outbox chan clientFrame
	stop   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup

	stopOnce       sync.Once
	disconnectOnce sync.Once

	errMu sync.Mutex
	err   error
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = 16
	}
	return &Client{
		cfg:         cfg,
		dialer:      &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		logger:      logger.With().Str("module", "providers.roomlink").Logger(),
		remotes:     make(map[string]*domain.ParticipantState),
		handlers:    make(map[string]ports.TextStreamHandler),
		streams:     make(map[string]*textStream),
		subscribers: make(map[ports.TransportEventKind]map[int]func(ports.TransportEvent)),
	}
}

// Connect dials the room and waits for the join acknowledgement.
func (c *Client) Connect(ctx context.Context, credential domain.SessionCredential) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	if strings.TrimSpace(credential.Token) == "" {
		return errors.New("room token is empty")
	}
	wsURL, err := buildRoomURL(credential.TransportEndpointURL, credential.RoomName)
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+credential.Token)

	conn, _, err := c.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("failed to connect to room websocket: %w", err)
	}

	joined, err := awaitJoin(ctx, conn, c.cfg.HandshakeTimeout)
	if err != nil {
		_ = conn.Close()
		return err
	}

	handlerCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return ErrAlreadyConnected
	}
	c.conn = conn
	local := *joined.Participant
	local.IsLocal = true
	c.local = &local
	for i := range joined.Participants {
		p := joined.Participants[i]
		if p.Identity == "" || p.Identity == local.Identity {
			continue
		}
		p.IsLocal = false
		c.remotes[p.Identity] = &p
	}
	c.handlerCtx = handlerCtx
	c.outbox = make(chan clientFrame, c.cfg.OutboxSize)
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.logger.Info().Str("room", credential.RoomName).Str("identity", local.Identity).Int("participants", len(joined.Participants)).Msg("joined room")

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.writeLoop(conn)
	go func() {
		c.wg.Wait()
		c.abortStreams()
		cancel()
		close(c.done)
		_ = conn.Close()
	}()
	return nil
}

func awaitJoin(ctx context.Context, conn *websocket.Conn, timeout time.Duration) (serverFrame, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var frame serverFrame
	if err := conn.ReadJSON(&frame); err != nil {
		return serverFrame{}, fmt.Errorf("failed to read join acknowledgement: %w", err)
	}
	switch frame.Type {
	case frameJoined:
		if frame.Participant == nil || frame.Participant.Identity == "" {
			return serverFrame{}, errors.New("join acknowledgement has no local participant")
		}
		return frame, nil
	case frameError:
		return serverFrame{}, fmt.Errorf("room rejected join: %s", strings.TrimSpace(frame.Message))
	default:
		return serverFrame{}, fmt.Errorf("unexpected frame %q before join", frame.Type)
	}
}

// Disconnect leaves the room. It must not be called synchronously from an
// event callback, since it waits for the read loop to exit.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.leaving = true
	done := c.done
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stop) })

	select {
	case <-done:
		return c.waitErr()
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}
}

func (c *Client) LocalIdentity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil {
		return ""
	}
	return c.local.Identity
}

// Participants returns the local participant first, then remotes by identity.
func (c *Client) Participants() []domain.ParticipantState {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.ParticipantState, 0, len(c.remotes)+1)
	if c.local != nil {
		out = append(out, cloneParticipant(*c.local))
	}
	identities := lo.Keys(c.remotes)
	sort.Strings(identities)
	for _, identity := range identities {
		out = append(out, cloneParticipant(*c.remotes[identity]))
	}
	return out
}

func (c *Client) Subscribe(kind ports.TransportEventKind, fn func(ports.TransportEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribers[kind] == nil {
		c.subscribers[kind] = make(map[int]func(ports.TransportEvent))
	}
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[kind][id] = fn
	// A late disconnect subscriber still learns the room is gone.
	if kind == ports.EventDisconnected && c.gone != nil {
		event := *c.gone
		go fn(event)
	}
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers[kind], id)
	}
}

// RegisterTextStreamHandler fails when the topic already has a handler.
func (c *Client) RegisterTextStreamHandler(topic string, handler ports.TextStreamHandler) error {
	if strings.TrimSpace(topic) == "" {
		return errors.New("text stream topic is empty")
	}
	if handler == nil {
		return errors.New("text stream handler is nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.handlers[topic]; exists {
		return fmt.Errorf("a text stream handler is already registered for topic %q", topic)
	}
	c.handlers[topic] = handler
	return nil
}

func (c *Client) UnregisterTextStreamHandler(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, topic)
}

func (c *Client) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	return c.setSourceEnabled(ctx, SourceMicrophone, domain.TrackKindAudio, enabled)
}

func (c *Client) SetCameraEnabled(ctx context.Context, enabled bool) error {
	return c.setSourceEnabled(ctx, SourceCamera, domain.TrackKindVideo, enabled)
}

func (c *Client) setSourceEnabled(ctx context.Context, source string, kind domain.TrackKind, enabled bool) error {
	if err := c.send(ctx, clientFrame{Type: frameMute, Source: source, Muted: !enabled}); err != nil {
		return fmt.Errorf("set %s enabled=%t: %w", source, enabled, err)
	}

	c.mu.Lock()
	if c.local != nil {
		for i := range c.local.Tracks {
			track := &c.local.Tracks[i]
			if track.Source == source || (track.Source == "" && track.Kind == kind) {
				track.Muted = !enabled
			}
		}
	}
	c.mu.Unlock()
	c.emit(ports.EventTracksChanged, "")
	return nil
}

// SwitchCamera asks the room to publish video from deviceID.
func (c *Client) SwitchCamera(ctx context.Context, deviceID string) error {
	if err := c.send(ctx, clientFrame{Type: frameSwitchDevice, Source: SourceCamera, DeviceID: deviceID}); err != nil {
		return fmt.Errorf("switch camera to %s: %w", deviceID, err)
	}
	c.emit(ports.EventTracksChanged, "")
	return nil
}

func (c *Client) send(ctx context.Context, frame clientFrame) error {
	c.mu.Lock()
	outbox, stop, connected := c.outbox, c.stop, c.conn != nil
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	select {
	case <-stop:
		return ErrNotConnected
	default:
	}

	select {
	case outbox <- frame:
		return nil
	case <-stop:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) writeLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		select {
		case frame := <-c.outbox:
			_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				c.setErr(fmt.Errorf("failed to send %s frame: %w", frame.Type, err))
				c.stopOnce.Do(func() { close(c.stop) })
				_ = conn.Close()
				return
			}
		case <-c.stop:
			c.mu.Lock()
			leaving := c.leaving
			c.mu.Unlock()
			if leaving {
				_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
				_ = conn.WriteJSON(clientFrame{Type: frameLeave})
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leave"),
					time.Now().Add(c.cfg.WriteTimeout),
				)
			}
			_ = conn.Close()
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		var frame serverFrame
		if err := conn.ReadJSON(&frame); err != nil {
			c.mu.Lock()
			leaving := c.leaving
			c.mu.Unlock()
			if !leaving {
				c.setErr(fmt.Errorf("failed to read room frame: %w", err))
				c.remoteDisconnect(closeReason(err))
			}
			c.stopOnce.Do(func() { close(c.stop) })
			return
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame serverFrame) {
	switch frame.Type {
	case frameParticipantJoined, frameParticipantUpdated:
		if frame.Participant == nil || frame.Participant.Identity == "" {
			return
		}
		c.mu.Lock()
		if c.local != nil && frame.Participant.Identity == c.local.Identity {
			c.mu.Unlock()
			return
		}
		p := cloneParticipant(*frame.Participant)
		p.IsLocal = false
		c.remotes[p.Identity] = &p
		c.mu.Unlock()
		c.emit(ports.EventParticipantsChanged, "")

	case frameParticipantLeft:
		c.mu.Lock()
		_, known := c.remotes[frame.Identity]
		delete(c.remotes, frame.Identity)
		c.mu.Unlock()
		if known {
			c.emit(ports.EventParticipantsChanged, "")
		}

	case frameTrackPublished, frameTrackUnpublished, frameTrackMuted:
		if c.applyTrackFrame(frame) {
			c.emit(ports.EventTracksChanged, "")
		}

	case frameActiveSpeakers:
		c.mu.Lock()
		speaking := lo.SliceToMap(frame.Speakers, func(identity string) (string, bool) { return identity, true })
		if c.local != nil {
			c.local.IsSpeaking = speaking[c.local.Identity]
		}
		for identity, p := range c.remotes {
			p.IsSpeaking = speaking[identity]
		}
		c.mu.Unlock()
		c.emit(ports.EventSpeakersChanged, "")

	case frameStreamHeader:
		c.openStream(frame.Stream)

	case frameStreamChunk:
		c.mu.Lock()
		stream := c.streams[frame.StreamID]
		c.mu.Unlock()
		if stream != nil {
			stream.push(frame.Text)
		}

	case frameStreamTrailer:
		c.mu.Lock()
		stream := c.streams[frame.StreamID]
		delete(c.streams, frame.StreamID)
		c.mu.Unlock()
		if stream != nil {
			stream.finish(nil)
		}

	case frameDisconnected:
		c.remoteDisconnect(frame.Reason)

	case frameError:
		c.logger.Warn().Str("message", frame.Message).Msg("room reported an error")

	default:
		c.logger.Debug().Str("type", frame.Type).Msg("ignoring unknown room frame")
	}
}

func (c *Client) applyTrackFrame(frame serverFrame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.participantLocked(frame.Identity)
	if p == nil {
		return false
	}
	switch frame.Type {
	case frameTrackPublished:
		if frame.Track == nil || frame.Track.SID == "" {
			return false
		}
		p.Tracks = lo.Reject(p.Tracks, func(t domain.TrackState, _ int) bool { return t.SID == frame.Track.SID })
		p.Tracks = append(p.Tracks, *frame.Track)
	case frameTrackUnpublished:
		p.Tracks = lo.Reject(p.Tracks, func(t domain.TrackState, _ int) bool { return t.SID == frame.TrackSID })
	case frameTrackMuted:
		for i := range p.Tracks {
			if p.Tracks[i].SID == frame.TrackSID {
				p.Tracks[i].Muted = frame.Muted
			}
		}
	}
	return true
}

func (c *Client) participantLocked(identity string) *domain.ParticipantState {
	if c.local != nil && c.local.Identity == identity {
		return c.local
	}
	return c.remotes[identity]
}

func (c *Client) openStream(header *streamHeader) {
	if header == nil || header.ID == "" {
		return
	}

	c.mu.Lock()
	handler := c.handlers[header.Topic]
	if handler == nil {
		c.mu.Unlock()
		c.logger.Debug().Str("topic", header.Topic).Str("stream_id", header.ID).Msg("no handler for text stream topic")
		return
	}
	stream := newTextStream(*header)
	c.streams[header.ID] = stream
	ctx := c.handlerCtx
	c.mu.Unlock()

	go handler(ctx, stream)
}

func (c *Client) abortStreams() {
	c.mu.Lock()
	streams := c.streams
	c.streams = make(map[string]*textStream)
	c.mu.Unlock()

	for _, stream := range streams {
		stream.finish(errStreamAborted)
	}
}

func (c *Client) remoteDisconnect(reason string) {
	c.disconnectOnce.Do(func() {
		c.logger.Info().Str("reason", reason).Msg("room disconnected")
		c.mu.Lock()
		c.gone = &ports.TransportEvent{Kind: ports.EventDisconnected, Reason: reason}
		c.mu.Unlock()
		c.emit(ports.EventDisconnected, reason)
	})
}

func (c *Client) emit(kind ports.TransportEventKind, reason string) {
	c.mu.Lock()
	fns := lo.Values(c.subscribers[kind])
	c.mu.Unlock()

	event := ports.TransportEvent{Kind: kind, Reason: reason}
	for _, fn := range fns {
		fn(event)
	}
}

func (c *Client) waitErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func closeReason(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Text != "" {
		return closeErr.Text
	}
	return "connection lost"
}

func cloneParticipant(p domain.ParticipantState) domain.ParticipantState {
	p.Tracks = append([]domain.TrackState(nil), p.Tracks...)
	return p
}

func buildRoomURL(endpoint string, room string) (string, error) {
	base := strings.TrimSpace(endpoint)
	if base == "" {
		return "", errors.New("transport endpoint URL is empty")
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	roomURL, err := url.Parse(base + "/rtc")
	if err != nil {
		return "", fmt.Errorf("invalid transport endpoint URL: %w", err)
	}
	if roomURL.Scheme != "ws" && roomURL.Scheme != "wss" {
		return "", fmt.Errorf("unsupported transport endpoint scheme %q", roomURL.Scheme)
	}
	if room != "" {
		query := roomURL.Query()
		query.Set("room", room)
		roomURL.RawQuery = query.Encode()
	}
	return roomURL.String(), nil
}
