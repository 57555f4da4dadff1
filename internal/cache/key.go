package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"liveinterview/internal/domain"
)

const keyPrefix = "interview_"

var ErrEmptySessionID = errors.New("session id is required")

// Key returns the cache key the session-creation flow writes under.
func Key(sessionID string) string {
	return keyPrefix + sessionID
}

func validSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrEmptySessionID
	}
	return nil
}

func encodeEntry(entry domain.CachedSessionEntry) ([]byte, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return raw, nil
}

func decodeEntry(raw []byte) (domain.CachedSessionEntry, error) {
	var entry domain.CachedSessionEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.CachedSessionEntry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry, nil
}
