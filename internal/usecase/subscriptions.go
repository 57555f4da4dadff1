package usecase

import (
	"fmt"
	"sync"

	"liveinterview/internal/ports"
)

type subscription struct {
	key     string
	release func()
}

// subscriptionRegistry owns every handler registered for one connection and
// releases them together, so none can outlive the connection.
type subscriptionRegistry struct {
	mu       sync.Mutex
	entries  []subscription
	released bool
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{}
}

func (r *subscriptionRegistry) add(key string, release func()) {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		release()
		return
	}
	r.entries = append(r.entries, subscription{key: key, release: release})
	r.mu.Unlock()
}

func (r *subscriptionRegistry) textStream(transport ports.Transport, topic string, handler ports.TextStreamHandler) error {
	if err := transport.RegisterTextStreamHandler(topic, handler); err != nil {
		return fmt.Errorf("register text stream handler %q: %w", topic, err)
	}
	r.add("topic:"+topic, func() { transport.UnregisterTextStreamHandler(topic) })
	return nil
}

func (r *subscriptionRegistry) event(transport ports.Transport, kind ports.TransportEventKind, fn func(ports.TransportEvent)) {
	r.add("event:"+string(kind), transport.Subscribe(kind, fn))
}

func (r *subscriptionRegistry) deviceChanges(notifier ports.DeviceChangeNotifier, fn func()) {
	if notifier == nil {
		return
	}
	r.add("devices", notifier.OnDevicesChanged(fn))
}

// releaseAll unregisters in reverse order. Later calls are no-ops.
func (r *subscriptionRegistry) releaseAll() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].release != nil {
			entries[i].release()
		}
	}
}

func (r *subscriptionRegistry) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.key)
	}
	return out
}

// transportCapabilities are the optional transport features, detected once at connect.
type transportCapabilities struct {
	lister   ports.DeviceLister
	switcher ports.DeviceSwitcher
	notifier ports.DeviceChangeNotifier
}

func detectCapabilities(transport ports.Transport) transportCapabilities {
	var caps transportCapabilities
	if lister, ok := transport.(ports.DeviceLister); ok {
		caps.lister = lister
	}
	if switcher, ok := transport.(ports.DeviceSwitcher); ok {
		caps.switcher = switcher
	}
	if notifier, ok := transport.(ports.DeviceChangeNotifier); ok {
		caps.notifier = notifier
	}
	return caps
}
