package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"liveinterview/internal/audio"
	"liveinterview/internal/cache"
	"liveinterview/internal/config"
	"liveinterview/internal/domain"
	"liveinterview/internal/ports"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		API: config.APIConfig{BaseURL: "http://127.0.0.1:9", RequestTimeout: time.Second},
		Cache: config.CacheConfig{
			Driver: config.CacheDriverSQLite,
			Path:   filepath.Join(t.TempDir(), "cache.db"),
		},
		Session: config.SessionConfig{
			ElapsedTopic:       config.DefaultElapsedTopic,
			TranscriptionTopic: config.DefaultTranscriptionTopic,
			SubtitleLimit:      config.DefaultSubtitleLimit,
			AgentPattern:       config.DefaultAgentPattern,
		},
		Devices: config.DevicesConfig{PactlCommand: "pactl", VideoDir: t.TempDir(), Watch: true},
	}
}

func TestBuildSuccess(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("INTERVIEW_ENV_FILE", filepath.Join(home, "missing.env"))
	t.Setenv("INTERVIEW_CONFIG_FILE", "")
	t.Setenv("INTERVIEW_CACHE_DRIVER", "")
	t.Setenv("INTERVIEW_CACHE_PATH", filepath.Join(home, "cache.db"))

	services, err := Build(noopEventSink{}, noopNavigator{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()
	if services.Controller == nil {
		t.Fatalf("expected controller")
	}
	if _, ok := services.Cache.(*cache.SQLiteStore); !ok {
		t.Fatalf("expected sqlite cache by default, got %T", services.Cache)
	}
}

func TestBuildWithRedisCache(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Cache.Driver = config.CacheDriverRedis
	cfg.Cache.RedisAddr = "127.0.0.1:1"

	services, err := BuildWithConfig(cfg, noopEventSink{}, noopNavigator{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()
	if _, ok := services.Cache.(*cache.RedisStore); !ok {
		t.Fatalf("expected redis cache, got %T", services.Cache)
	}
}

func TestBuildFailsOnInvalidAgentPattern(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Session.AgentPattern = "([unclosed"

	if _, err := BuildWithConfig(cfg, noopEventSink{}, noopNavigator{}, zerolog.Nop()); err == nil {
		t.Fatalf("expected build error due to invalid pattern")
	}
}

func TestBuildFailsOnInvalidAPIBaseURL(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.API.BaseURL = "ftp://example.test"

	if _, err := BuildWithConfig(cfg, noopEventSink{}, noopNavigator{}, zerolog.Nop()); err == nil {
		t.Fatalf("expected build error due to unsupported scheme")
	}
}

func TestTransportFactoryCapabilities(t *testing.T) {
	t.Parallel()

	inventory := audio.NewInventory(audio.InventoryConfig{VideoDir: t.TempDir()}, zerolog.Nop())
	defer inventory.Close()

	watched := newTransportFactory(config.TransportConfig{}, inventory, true, zerolog.Nop())()
	if _, ok := watched.(ports.DeviceLister); !ok {
		t.Fatalf("expected device lister")
	}
	if _, ok := watched.(ports.DeviceSwitcher); !ok {
		t.Fatalf("expected device switcher")
	}
	if _, ok := watched.(ports.DeviceChangeNotifier); !ok {
		t.Fatalf("expected change notifier when watching")
	}

	static := newTransportFactory(config.TransportConfig{}, inventory, false, zerolog.Nop())()
	if _, ok := static.(ports.DeviceChangeNotifier); ok {
		t.Fatalf("expected no change notifier when watching is disabled")
	}
	if _, ok := static.(ports.DeviceLister); !ok {
		t.Fatalf("expected device lister")
	}
}

func TestTransportSwitchesCameraThroughRoom(t *testing.T) {
	t.Parallel()

	devDir := t.TempDir()
	camera := filepath.Join(devDir, "video0")
	if err := os.WriteFile(camera, nil, 0o600); err != nil {
		t.Fatalf("write node: %v", err)
	}
	inventory := audio.NewInventory(audio.InventoryConfig{VideoDir: devDir}, zerolog.Nop())
	defer inventory.Close()

	frames := make(chan map[string]any, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(map[string]any{
			"type":        "joined",
			"participant": map[string]any{"identity": "cand-1"},
		})
		for {
			var frame map[string]any
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			frames <- frame
		}
	}))
	defer srv.Close()

	transport := newTransportFactory(config.TransportConfig{}, inventory, false, zerolog.Nop())()
	ctx := context.Background()
	if err := transport.Connect(ctx, domain.SessionCredential{Token: "tok", TransportEndpointURL: srv.URL, RoomName: "room-1"}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer transport.Disconnect(ctx)

	switcher, ok := transport.(ports.DeviceSwitcher)
	if !ok {
		t.Fatalf("expected device switcher")
	}
	if err := switcher.SwitchActiveDevice(ctx, domain.DeviceKindCamera, filepath.Join(devDir, "video9")); !errors.Is(err, audio.ErrUnknownDevice) {
		t.Fatalf("expected unknown camera rejected, got %v", err)
	}
	if err := switcher.SwitchActiveDevice(ctx, domain.DeviceKindCamera, camera); err != nil {
		t.Fatalf("switch camera: %v", err)
	}

	select {
	case frame := <-frames:
		if frame["type"] != "switch_device" || frame["source"] != "camera" || frame["deviceId"] != camera {
			t.Fatalf("unexpected frame: %v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("room never saw the camera switch")
	}
}

type noopEventSink struct{}

func (noopEventSink) SessionStateChanged(domain.SessionState, domain.SessionStateReason) {}
func (noopEventSink) SubtitlesChanged([]domain.SubtitleEntry)                          {}
func (noopEventSink) ElapsedChanged(string)                                            {}
func (noopEventSink) RosterChanged([]domain.ParticipantTile)                           {}
func (noopEventSink) DevicesChanged(domain.DeviceInventory)                            {}
func (noopEventSink) SessionError(domain.ErrorCode, string)                            {}

type noopNavigator struct{}

func (noopNavigator) Navigate(domain.Route) {}
