package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"liveinterview/internal/domain"
)

const (
	defaultPactlCommand = "pactl"
	defaultVideoDir     = "/dev"
	defaultSoundDir     = "/dev/snd"
	defaultSysfsDir     = "/sys/class/video4linux"
	defaultDebounce     = 300 * time.Millisecond
	monitorSuffix       = ".monitor"
	videoPrefix         = "video"
)

var (
	ErrUnknownDevice = errors.New("unknown device")
	// ErrCameraSwitchUnsupported is returned for cameras; the room
	// connection publishes video and must perform the switch.
	ErrCameraSwitchUnsupported = errors.New("camera switching requires the room connection")
)

type InventoryConfig struct {
	PactlCommand string
	VideoDir     string
	SoundDir     string
	SysfsDir     string
	Debounce     time.Duration
}

// Inventory lists and switches local media devices. Audio goes through the
// PulseAudio CLI; cameras are V4L2 nodes under VideoDir.
type Inventory struct {
	cfg    InventoryConfig
	logger zerolog.Logger

	mu        sync.Mutex
	listeners map[int]func()
	nextID    int
	watcher   *fsnotify.Watcher
}

func NewInventory(cfg InventoryConfig, logger zerolog.Logger) *Inventory {
	if strings.TrimSpace(cfg.PactlCommand) == "" {
		cfg.PactlCommand = defaultPactlCommand
	}
	if strings.TrimSpace(cfg.VideoDir) == "" {
		cfg.VideoDir = defaultVideoDir
	}
	if strings.TrimSpace(cfg.SoundDir) == "" {
		cfg.SoundDir = defaultSoundDir
	}
	if strings.TrimSpace(cfg.SysfsDir) == "" {
		cfg.SysfsDir = defaultSysfsDir
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	return &Inventory{
		cfg:       cfg,
		logger:    logger.With().Str("module", "audio.inventory").Logger(),
		listeners: map[int]func(){},
	}
}

func (i *Inventory) ListDevices(ctx context.Context, kind domain.DeviceKind) ([]domain.DeviceOption, error) {
	switch kind {
	case domain.DeviceKindMicrophone:
		names, err := i.pactlNames(ctx, "sources")
		if err != nil {
			return nil, err
		}
		names = lo.Reject(names, func(name string, _ int) bool {
			return strings.HasSuffix(name, monitorSuffix)
		})
		return toOptions(kind, names, nil), nil
	case domain.DeviceKindSpeaker:
		names, err := i.pactlNames(ctx, "sinks")
		if err != nil {
			return nil, err
		}
		return toOptions(kind, names, nil), nil
	case domain.DeviceKindCamera:
		paths, err := i.cameraPaths()
		if err != nil {
			return nil, err
		}
		return toOptions(kind, paths, i.cameraLabel), nil
	default:
		return nil, fmt.Errorf("unsupported device kind %q", kind)
	}
}

func (i *Inventory) SwitchActiveDevice(ctx context.Context, kind domain.DeviceKind, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ErrUnknownDevice
	}
	switch kind {
	case domain.DeviceKindMicrophone:
		_, err := i.runPactl(ctx, "set-default-source", deviceID)
		return err
	case domain.DeviceKindSpeaker:
		_, err := i.runPactl(ctx, "set-default-sink", deviceID)
		return err
	case domain.DeviceKindCamera:
		return ErrCameraSwitchUnsupported
	default:
		return fmt.Errorf("unsupported device kind %q", kind)
	}
}

// CheckCamera reports whether deviceID is a present video node.
func (i *Inventory) CheckCamera(deviceID string) error {
	paths, err := i.cameraPaths()
	if err != nil {
		return err
	}
	if !lo.Contains(paths, deviceID) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return nil
}

// OnDevicesChanged starts watching device nodes on the first listener and
// stops when the last one unsubscribes.
func (i *Inventory) OnDevicesChanged(fn func()) func() {
	if fn == nil {
		return func() {}
	}

	i.mu.Lock()
	id := i.nextID
	i.nextID++
	i.listeners[id] = fn
	if i.watcher == nil {
		if err := i.startWatchLocked(); err != nil {
			i.logger.Warn().Err(err).Msg("device watch unavailable")
		}
	}
	i.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			i.mu.Lock()
			delete(i.listeners, id)
			var watcher *fsnotify.Watcher
			if len(i.listeners) == 0 {
				watcher = i.watcher
				i.watcher = nil
			}
			i.mu.Unlock()
			if watcher != nil {
				_ = watcher.Close()
			}
		})
	}
}

func (i *Inventory) Close() error {
	i.mu.Lock()
	watcher := i.watcher
	i.watcher = nil
	i.listeners = map[int]func(){}
	i.mu.Unlock()
	if watcher == nil {
		return nil
	}
	return watcher.Close()
}

func (i *Inventory) startWatchLocked() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	added := 0
	for _, dir := range []string{i.cfg.VideoDir, i.cfg.SoundDir} {
		if err := watcher.Add(dir); err != nil {
			i.logger.Debug().Err(err).Str("dir", dir).Msg("skip device dir")
			continue
		}
		added++
	}
	if added == 0 {
		_ = watcher.Close()
		return fmt.Errorf("no device directory could be watched")
	}
	i.watcher = watcher
	go i.watch(watcher)
	return nil
}

func (i *Inventory) watch(watcher *fsnotify.Watcher) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !i.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(i.cfg.Debounce, i.notify)
			} else {
				timer.Reset(i.cfg.Debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			i.logger.Warn().Err(err).Msg("device watch error")
		}
	}
}

func (i *Inventory) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	dir := filepath.Clean(filepath.Dir(event.Name))
	if dir == filepath.Clean(i.cfg.SoundDir) {
		return true
	}
	return strings.HasPrefix(filepath.Base(event.Name), videoPrefix)
}

func (i *Inventory) notify() {
	i.mu.Lock()
	listeners := lo.Values(i.listeners)
	i.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (i *Inventory) pactlNames(ctx context.Context, what string) ([]string, error) {
	out, err := i.runPactl(ctx, "list", "short", what)
	if err != nil {
		return nil, err
	}
	return parseShortList(out), nil
}

func (i *Inventory) runPactl(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, i.cfg.PactlCommand, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%s %s: %w: %s", i.cfg.PactlCommand, strings.Join(args, " "), err, stringsTrimSpaceSafe(stderr.String()))
	}
	return stdout.String(), nil
}

func (i *Inventory) cameraPaths() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(i.cfg.VideoDir, videoPrefix+"*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func (i *Inventory) cameraLabel(path string) string {
	raw, err := os.ReadFile(filepath.Join(i.cfg.SysfsDir, filepath.Base(path), "name"))
	if err != nil {
		return ""
	}
	return stringsTrimSpaceSafe(string(raw))
}

// parseShortList reads the name column of `pactl list short` output.
func parseShortList(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			fields = strings.Fields(line)
		}
		if len(fields) < 2 {
			continue
		}
		name := strings.TrimSpace(fields[1])
		if name != "" {
			names = append(names, name)
		}
	}
	return lo.Uniq(names)
}

func toOptions(kind domain.DeviceKind, ids []string, label func(string) string) []domain.DeviceOption {
	return lo.Map(ids, func(id string, _ int) domain.DeviceOption {
		option := domain.DeviceOption{ID: id, Kind: kind}
		if label != nil {
			option.Label = label(id)
		}
		return option
	})
}

func stringsTrimSpaceSafe(v string) string {
	if len(v) > 512 {
		v = v[:512]
	}
	return strings.TrimSpace(v)
}
