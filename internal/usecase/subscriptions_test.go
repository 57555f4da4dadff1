package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"liveinterview/internal/ports"
)

func TestSubscriptionRegistryReleasesInReverseOrder(t *testing.T) {
	t.Parallel()

	registry := newSubscriptionRegistry()
	var released []string
	for _, key := range []string{"a", "b", "c"} {
		key := key
		registry.add(key, func() { released = append(released, key) })
	}
	registry.add("nil", nil)

	if got := registry.keys(); !reflect.DeepEqual(got, []string{"a", "b", "c", "nil"}) {
		t.Fatalf("unexpected keys: %v", got)
	}

	registry.releaseAll()
	registry.releaseAll()

	if !reflect.DeepEqual(released, []string{"c", "b", "a"}) {
		t.Fatalf("unexpected release order: %v", released)
	}
	if len(registry.keys()) != 0 {
		t.Fatalf("expected empty registry after release")
	}
}

func TestSubscriptionRegistryAddAfterReleaseReleasesImmediately(t *testing.T) {
	t.Parallel()

	registry := newSubscriptionRegistry()
	registry.releaseAll()

	released := false
	registry.add("late", func() { released = true })

	if !released {
		t.Fatalf("late registration must be released immediately")
	}
	if len(registry.keys()) != 0 {
		t.Fatalf("late registration must not be tracked")
	}
}

func TestSubscriptionRegistryPairsTopicRegistration(t *testing.T) {
	t.Parallel()

	transport := newDefaultFakeTransport()
	registry := newSubscriptionRegistry()
	handler := func(context.Context, ports.TextStream) {}

	if err := registry.textStream(transport, "interview.elapsed", handler); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	registry.event(transport, ports.EventDisconnected, func(ports.TransportEvent) {})
	registry.deviceChanges(transport, func() {})
	registry.deviceChanges(nil, func() {})

	want := []string{"topic:interview.elapsed", "event:disconnected", "devices"}
	if got := registry.keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected keys: %v", got)
	}

	registry.releaseAll()
	if n := transport.registrations(); n != 0 {
		t.Fatalf("expected transport registrations released, %d left", n)
	}
	if err := registry.textStream(transport, "interview.elapsed", handler); err != nil {
		t.Fatalf("topic should be free after release: %v", err)
	}
}

func TestSubscriptionRegistryTopicConflict(t *testing.T) {
	t.Parallel()

	transport := newDefaultFakeTransport()
	if err := transport.RegisterTextStreamHandler("lk.transcription", func(context.Context, ports.TextStream) {}); err != nil {
		t.Fatalf("seed handler: %v", err)
	}

	registry := newSubscriptionRegistry()
	err := registry.textStream(transport, "lk.transcription", func(context.Context, ports.TextStream) {})
	if err == nil {
		t.Fatalf("expected conflict error")
	}
	if errors.Unwrap(err) == nil {
		t.Fatalf("expected wrapped transport error")
	}
	if len(registry.keys()) != 0 {
		t.Fatalf("failed registration must not be tracked")
	}
}

func TestDetectCapabilities(t *testing.T) {
	t.Parallel()

	full := detectCapabilities(newDefaultFakeTransport())
	if full.lister == nil || full.switcher == nil || full.notifier == nil {
		t.Fatalf("expected every capability detected: %+v", full)
	}

	bare := detectCapabilities(plainTransport{newDefaultFakeTransport()})
	if bare.lister != nil || bare.switcher != nil || bare.notifier != nil {
		t.Fatalf("expected no capabilities: %+v", bare)
	}
}
