package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"liveinterview/internal/domain"
	"liveinterview/internal/ports"
)

const defaultRequestTimeout = 12 * time.Second

// CredentialResolver turns a session id into connection credentials.
type CredentialResolver struct {
	cache   ports.SessionCache
	api     ports.SessionAPI
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

func NewCredentialResolver(cache ports.SessionCache, api ports.SessionAPI, timeout time.Duration, logger zerolog.Logger) *CredentialResolver {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &CredentialResolver{
		cache:   cache,
		api:     api,
		timeout: timeout,
		now:     time.Now,
		logger:  logger.With().Str("module", "usecase.credentials").Logger(),
	}
}

// Resolve prefers a usable cached entry and otherwise asks the session API.
// Every failure is a *domain.SetupError.
func (r *CredentialResolver) Resolve(ctx context.Context, sessionID string) (domain.SessionCredential, error) {
	if credential, ok := r.fromCache(ctx, sessionID); ok {
		r.logger.Info().Str("session_id", sessionID).Str("room", credential.RoomName).Msg("using cached credential")
		return credential, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	record, err := r.api.LookupSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.SessionCredential{}, domain.NewSessionNotFound()
		}
		return domain.SessionCredential{}, domain.NewConnectionSetupFailed(fmt.Errorf("lookup session: %w", err))
	}
	if record.Status != domain.SessionStatusActive {
		return domain.SessionCredential{}, domain.NewSessionNotActive(record.Status)
	}

	credential, err := r.api.IssueCredential(ctx, record.RoomName, sessionID)
	if err != nil {
		return domain.SessionCredential{}, domain.NewConnectionSetupFailed(fmt.Errorf("issue credential: %w", err))
	}
	if credential.Token == "" || credential.TransportEndpointURL == "" {
		return domain.SessionCredential{}, domain.NewConnectionSetupFailed(errors.New("credential response is incomplete"))
	}
	if credential.RoomName == "" {
		credential.RoomName = record.RoomName
	}
	if credential.TargetRole == "" {
		credential.TargetRole = record.TargetRole
	}

	r.logger.Info().Str("session_id", sessionID).Str("room", credential.RoomName).Msg("issued fresh credential")
	return credential, nil
}

func (r *CredentialResolver) fromCache(ctx context.Context, sessionID string) (domain.SessionCredential, bool) {
	if r.cache == nil {
		return domain.SessionCredential{}, false
	}
	entry, ok, err := r.cache.Get(ctx, sessionID)
	if err != nil {
		r.logger.Warn().Err(err).Str("session_id", sessionID).Msg("session cache read failed")
		return domain.SessionCredential{}, false
	}
	if !ok || !entry.Usable() {
		return domain.SessionCredential{}, false
	}
	if tokenExpired(entry.Token, r.now()) {
		r.logger.Info().Str("session_id", sessionID).Msg("cached token expired")
		return domain.SessionCredential{}, false
	}
	return entry.Credential(), true
}

type transportClaims struct {
	jwt.RegisteredClaims
	Name  string `json:"name,omitempty"`
	Video struct {
		Room string `json:"room,omitempty"`
	} `json:"video"`
}

func parseTokenClaims(token string) (transportClaims, bool) {
	var claims transportClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return transportClaims{}, false
	}
	return claims, true
}

// tokenExpired is false for opaque tokens and tokens without an exp claim.
func tokenExpired(token string, now time.Time) bool {
	claims, ok := parseTokenClaims(token)
	if !ok || claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.After(now)
}

// tokenSubject is the participant identity the token was issued for.
func tokenSubject(token string) string {
	claims, ok := parseTokenClaims(token)
	if !ok {
		return ""
	}
	return claims.Subject
}
