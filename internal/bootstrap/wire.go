package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"liveinterview/internal/audio"
	"liveinterview/internal/cache"
	"liveinterview/internal/config"
	"liveinterview/internal/domain"
	"liveinterview/internal/ports"
	"liveinterview/internal/providers/interviewapi"
	"liveinterview/internal/providers/roomlink"
	"liveinterview/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Config     config.Config
	Cache      SessionStore

	closers []func() error
}

// SessionStore is the cache surface shared by the SQLite and Redis stores.
type SessionStore interface {
	ports.SessionCache
	Close() error
}

// Close releases stores and device watchers.
func (s Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink, navigator ports.Navigator, logger zerolog.Logger) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWithConfig(cfg, eventSink, navigator, logger)
}

// BuildWithConfig wires the graph from an already resolved configuration.
func BuildWithConfig(cfg config.Config, eventSink ports.EventSink, navigator ports.Navigator, logger zerolog.Logger) (Services, error) {
	classifier, err := usecase.NewInterviewerClassifier(cfg.Session.AgentPattern)
	if err != nil {
		return Services{}, err
	}

	api, err := interviewapi.NewClient(
		cfg.API.BaseURL,
		cfg.API.RequestTimeout,
		interviewapi.WithToken(cfg.API.Token),
		interviewapi.WithLogger(logger),
	)
	if err != nil {
		return Services{}, err
	}

	store, err := openCache(cfg.Cache, logger)
	if err != nil {
		return Services{}, err
	}

	inventory := audio.NewInventory(audio.InventoryConfig{
		PactlCommand: cfg.Devices.PactlCommand,
		VideoDir:     cfg.Devices.VideoDir,
	}, logger)

	resolver := usecase.NewCredentialResolver(store, api, cfg.API.RequestTimeout, logger)
	controller := usecase.NewSessionController(
		resolver,
		api,
		newTransportFactory(cfg.Transport, inventory, cfg.Devices.Watch, logger),
		classifier,
		eventSink,
		navigator,
		usecase.Config{
			TranscriptionTopic: cfg.Session.TranscriptionTopic,
			ElapsedTopic:       cfg.Session.ElapsedTopic,
			SubtitleLimit:      cfg.Session.SubtitleLimit,
			RequestTimeout:     cfg.API.RequestTimeout,
		},
		logger,
	)

	return Services{
		Controller: controller,
		Config:     cfg,
		Cache:      store,
		closers:    []func() error{store.Close, inventory.Close},
	}, nil
}

func openCache(cfg config.CacheConfig, logger zerolog.Logger) (SessionStore, error) {
	switch cfg.Driver {
	case config.CacheDriverRedis:
		return cache.NewRedisStore(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger), nil
	case config.CacheDriverSQLite, "":
		store, err := cache.NewSQLiteStore(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported cache driver %q", cfg.Driver)
	}
}

// roomTransport adds local device control to the room connection. Audio
// devices switch on the host; the camera switch goes to the room.
type roomTransport struct {
	*roomlink.Client
	devices *audio.Inventory
}

func (t roomTransport) ListDevices(ctx context.Context, kind domain.DeviceKind) ([]domain.DeviceOption, error) {
	return t.devices.ListDevices(ctx, kind)
}

func (t roomTransport) SwitchActiveDevice(ctx context.Context, kind domain.DeviceKind, deviceID string) error {
	if kind != domain.DeviceKindCamera {
		return t.devices.SwitchActiveDevice(ctx, kind, deviceID)
	}
	if err := t.devices.CheckCamera(deviceID); err != nil {
		return err
	}
	return t.Client.SwitchCamera(ctx, deviceID)
}

// watchedRoomTransport also reports device hot-plug.
type watchedRoomTransport struct {
	roomTransport
	ports.DeviceChangeNotifier
}

func newTransportFactory(cfg config.TransportConfig, inventory *audio.Inventory, watch bool, logger zerolog.Logger) usecase.TransportFactory {
	return func() ports.Transport {
		transport := roomTransport{
			Client: roomlink.NewClient(roomlink.Config{
				HandshakeTimeout: cfg.HandshakeTimeout,
				WriteTimeout:     cfg.WriteTimeout,
			}, logger),
			devices: inventory,
		}
		if !watch {
			return transport
		}
		return watchedRoomTransport{roomTransport: transport, DeviceChangeNotifier: inventory}
	}
}
