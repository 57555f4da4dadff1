package usecase

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"liveinterview/internal/domain"
	"liveinterview/internal/ports"
)

var elapsedPattern = regexp.MustCompile(`^\d{2}:\d{2}$`)

// ElapsedRelay mirrors the room's authoritative elapsed-time broadcast.
// It never advances on its own.
type ElapsedRelay struct {
	onChange func(string)
	logger   zerolog.Logger

	mu    sync.Mutex
	value string
}

func NewElapsedRelay(onChange func(string), logger zerolog.Logger) *ElapsedRelay {
	return &ElapsedRelay{
		onChange: onChange,
		logger:   logger.With().Str("module", "usecase.elapsed").Logger(),
		value:    domain.ElapsedZero,
	}
}

// HandleStream applies one complete elapsed-time message.
func (r *ElapsedRelay) HandleStream(ctx context.Context, stream ports.TextStream) {
	text, err := stream.ReadAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn().Err(err).Str("stream_id", stream.Info().ID).Msg("elapsed message read failed")
		}
		return
	}
	if !r.Apply(text) {
		r.logger.Debug().Str("message", text).Msg("ignoring malformed elapsed message")
	}
}

// Apply replaces the displayed value when message is MM:SS. It reports
// whether the message was accepted.
func (r *ElapsedRelay) Apply(message string) bool {
	message = strings.TrimSpace(message)
	if !elapsedPattern.MatchString(message) {
		return false
	}

	r.mu.Lock()
	changed := r.value != message
	r.value = message
	r.mu.Unlock()

	if changed && r.onChange != nil {
		r.onChange(message)
	}
	return true
}

func (r *ElapsedRelay) Value() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}
