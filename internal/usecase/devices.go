package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"liveinterview/internal/domain"
	"liveinterview/internal/ports"
)

var ErrDeviceSwitchUnsupported = errors.New("transport cannot switch devices")

// DeviceManager tracks local devices and the selected device per kind.
type DeviceManager struct {
	lister   ports.DeviceLister
	switcher ports.DeviceSwitcher
	events   ports.EventSink
	logger   zerolog.Logger

	mu       sync.Mutex
	devices  map[domain.DeviceKind][]domain.DeviceOption
	selected map[domain.DeviceKind]string
}

func NewDeviceManager(lister ports.DeviceLister, switcher ports.DeviceSwitcher, events ports.EventSink, logger zerolog.Logger) *DeviceManager {
	return &DeviceManager{
		lister:   lister,
		switcher: switcher,
		events:   events,
		logger:   logger.With().Str("module", "usecase.devices").Logger(),
		devices:  make(map[domain.DeviceKind][]domain.DeviceOption),
		selected: make(map[domain.DeviceKind]string),
	}
}

// bind installs the transport's device capabilities once it is connected.
func (m *DeviceManager) bind(lister ports.DeviceLister, switcher ports.DeviceSwitcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lister = lister
	m.switcher = switcher
}

func (m *DeviceManager) capabilities() (ports.DeviceLister, ports.DeviceSwitcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lister, m.switcher
}

// Refresh re-enumerates every kind. A failed kind degrades to an empty list.
func (m *DeviceManager) Refresh(ctx context.Context) domain.DeviceInventory {
	lister, _ := m.capabilities()
	found := make(map[domain.DeviceKind][]domain.DeviceOption, len(domain.DeviceKinds))
	var failed []domain.DeviceKind
	for _, kind := range domain.DeviceKinds {
		options, err := m.list(ctx, lister, kind)
		if err != nil {
			m.logger.Warn().Err(err).Str("kind", string(kind)).Msg("device query failed")
			failed = append(failed, kind)
		}
		found[kind] = options
	}

	m.mu.Lock()
	for kind, options := range found {
		m.devices[kind] = options
		if m.selected[kind] == "" && len(options) > 0 {
			m.selected[kind] = options[0].ID
		}
	}
	inventory := m.snapshotLocked()
	m.mu.Unlock()

	if m.events != nil {
		if len(failed) > 0 {
			m.events.SessionError(domain.ErrorCodeDeviceQuery, fmt.Sprintf("could not list %v devices", failed))
		}
		m.events.DevicesChanged(inventory)
	}
	return inventory
}

func (m *DeviceManager) list(ctx context.Context, lister ports.DeviceLister, kind domain.DeviceKind) ([]domain.DeviceOption, error) {
	if lister == nil {
		return []domain.DeviceOption{}, nil
	}
	options, err := lister.ListDevices(ctx, kind)
	if err != nil {
		return []domain.DeviceOption{}, err
	}
	options = lo.Filter(options, func(option domain.DeviceOption, _ int) bool {
		return option.ID != ""
	})
	return lo.Map(options, func(option domain.DeviceOption, _ int) domain.DeviceOption {
		option.Kind = kind
		return option
	}), nil
}

// Select switches the live device. On failure the previous selection is kept.
func (m *DeviceManager) Select(ctx context.Context, kind domain.DeviceKind, deviceID string) error {
	_, switcher := m.capabilities()
	if switcher == nil {
		return ErrDeviceSwitchUnsupported
	}

	m.mu.Lock()
	previous := m.selected[kind]
	m.mu.Unlock()
	if previous == deviceID {
		return nil
	}

	if err := switcher.SwitchActiveDevice(ctx, kind, deviceID); err != nil {
		m.logger.Warn().Err(err).Str("kind", string(kind)).Str("device_id", deviceID).Str("kept", previous).Msg("device switch failed")
		if m.events != nil {
			m.events.SessionError(domain.ErrorCodeDeviceSwitch, fmt.Sprintf("could not switch %s", kind))
		}
		return fmt.Errorf("switch %s: %w", kind, err)
	}

	m.mu.Lock()
	m.selected[kind] = deviceID
	inventory := m.snapshotLocked()
	m.mu.Unlock()

	if m.events != nil {
		m.events.DevicesChanged(inventory)
	}
	return nil
}

// Inventory returns a copy of the current devices and selection.
func (m *DeviceManager) Inventory() domain.DeviceInventory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *DeviceManager) snapshotLocked() domain.DeviceInventory {
	inventory := domain.DeviceInventory{
		Devices:  make(map[domain.DeviceKind][]domain.DeviceOption, len(m.devices)),
		Selected: make(map[domain.DeviceKind]string, len(m.selected)),
	}
	for kind, options := range m.devices {
		inventory.Devices[kind] = append([]domain.DeviceOption(nil), options...)
	}
	for kind, id := range m.selected {
		inventory.Selected[kind] = id
	}
	return inventory
}
