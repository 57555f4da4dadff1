package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"liveinterview/internal/domain"
	"liveinterview/internal/ports"
)

// sessionFinalizer tells the backend the interview is over. It is best-effort.
type sessionFinalizer struct {
	api     ports.SessionAPI
	events  ports.EventSink
	timeout time.Duration
	logger  zerolog.Logger
}

func newSessionFinalizer(api ports.SessionAPI, events ports.EventSink, timeout time.Duration, logger zerolog.Logger) sessionFinalizer {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return sessionFinalizer{
		api:     api,
		events:  events,
		timeout: timeout,
		logger:  logger.With().Str("module", "usecase.finalizer").Logger(),
	}
}

// Finalize never fails; the returned reason records whether the backend call succeeded.
func (f sessionFinalizer) Finalize(ctx context.Context, sessionID string) domain.SessionStateReason {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	if err := f.api.EndSession(ctx, sessionID); err != nil {
		f.logger.Warn().Err(err).Str("session_id", sessionID).Msg("end session call failed, leaving anyway")
		f.events.SessionError(domain.ErrorCodeFinalization, "the interview could not be closed on the server")
		return domain.SessionReasonFinalizeFailed
	}
	f.logger.Info().Str("session_id", sessionID).Msg("session finalized")
	return domain.SessionReasonFinalized
}
