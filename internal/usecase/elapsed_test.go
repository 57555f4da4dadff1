package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"liveinterview/internal/domain"
	"liveinterview/internal/ports"
)

func TestElapsedRelayApply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		message  string
		accepted bool
		want     string
	}{
		{name: "valid", message: "07:42", accepted: true, want: "07:42"},
		{name: "surrounding whitespace", message: " 12:05\n", accepted: true, want: "12:05"},
		{name: "single digits", message: "7:4", want: domain.ElapsedZero},
		{name: "letters", message: "ab:cd", want: domain.ElapsedZero},
		{name: "hours", message: "01:02:03", want: domain.ElapsedZero},
		{name: "empty", message: "", want: domain.ElapsedZero},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			relay := NewElapsedRelay(nil, zerolog.Nop())
			if got := relay.Apply(tt.message); got != tt.accepted {
				t.Fatalf("expected accepted=%v, got %v", tt.accepted, got)
			}
			if got := relay.Value(); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestElapsedRelayKeepsPreviousOnMalformed(t *testing.T) {
	t.Parallel()

	var changes []string
	relay := NewElapsedRelay(func(value string) { changes = append(changes, value) }, zerolog.Nop())

	relay.Apply("07:42")
	relay.Apply("7:4")
	relay.Apply("ab:cd")
	relay.Apply("07:42")

	if got := relay.Value(); got != "07:42" {
		t.Fatalf("expected 07:42, got %q", got)
	}
	if len(changes) != 1 {
		t.Fatalf("expected one change notification, got %v", changes)
	}
}

func TestElapsedRelayLastMessageWins(t *testing.T) {
	t.Parallel()

	relay := NewElapsedRelay(nil, zerolog.Nop())
	relay.Apply("10:00")
	relay.Apply("09:59")

	if got := relay.Value(); got != "09:59" {
		t.Fatalf("expected last applied value, got %q", got)
	}
}

func TestElapsedRelayHandleStream(t *testing.T) {
	t.Parallel()

	relay := NewElapsedRelay(nil, zerolog.Nop())
	relay.HandleStream(context.Background(), newChunkStream(ports.TextStreamInfo{ID: "e1"}, "03:", "15"))
	if got := relay.Value(); got != "03:15" {
		t.Fatalf("expected 03:15, got %q", got)
	}

	broken := newChunkStream(ports.TextStreamInfo{ID: "e2"}, "04:00")
	broken.readErr = errors.New("reset")
	relay.HandleStream(context.Background(), broken)
	if got := relay.Value(); got != "03:15" {
		t.Fatalf("read failure must keep previous value, got %q", got)
	}
}
