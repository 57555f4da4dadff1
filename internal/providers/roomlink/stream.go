package roomlink

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"liveinterview/internal/ports"
)

var errStreamAborted = errors.New("text stream aborted before completion")

// textStream buffers chunks from the read loop so a slow handler never
// blocks the connection.
type textStream struct {
	info ports.TextStreamInfo

	mu       sync.Mutex
	queue    []string
	received strings.Builder
	finished bool
	err      error
	notify   chan struct{}
}

func newTextStream(header streamHeader) *textStream {
	attributes := make(map[string]string, len(header.Attributes))
	for k, v := range header.Attributes {
		attributes[k] = v
	}
	return &textStream{
		info: ports.TextStreamInfo{
			ID:                  header.ID,
			Topic:               header.Topic,
			ParticipantIdentity: header.ParticipantIdentity,
			Attributes:          attributes,
		},
		notify: make(chan struct{}, 1),
	}
}

func (s *textStream) Info() ports.TextStreamInfo { return s.info }

func (s *textStream) Next(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			chunk := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return chunk, nil
		}
		if s.finished {
			err := s.err
			s.mu.Unlock()
			if err != nil {
				return "", err
			}
			return "", io.EOF
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.notify:
		}
	}
}

// ReadAll waits for the trailer and returns every chunk received, including
// chunks already consumed through Next.
func (s *textStream) ReadAll(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		if s.finished {
			text, err := s.received.String(), s.err
			s.queue = nil
			s.mu.Unlock()
			return text, err
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.notify:
		}
	}
}

func (s *textStream) push(chunk string) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, chunk)
	s.received.WriteString(chunk)
	s.mu.Unlock()
	s.wake()
}

func (s *textStream) finish(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.err = err
	s.mu.Unlock()
	s.wake()
}

func (s *textStream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
