package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"liveinterview/internal/bootstrap"
	"liveinterview/internal/config"
	"liveinterview/internal/domain"
	"liveinterview/internal/usecase"
)

const (
	eventSession   = "interview:session"
	eventSubtitles = "interview:subtitles"
	eventElapsed   = "interview:elapsed"
	eventRoster    = "interview:roster"
	eventDevices   = "interview:devices"
	eventError     = "interview:error"
	eventNavigate  = "interview:navigate"
)

type emitFunc func(ctx context.Context, name string, data ...interface{})

// App is the Wails application root.
type App struct {
	ctx    context.Context
	emit   emitFunc
	logger zerolog.Logger

	controller *usecase.SessionController
	services   bootstrap.Services
	cfg        config.Config
	bootErr    error
}

func NewApp(logger zerolog.Logger) *App {
	return &App{
		emit:   runtime.EventsEmit,
		logger: logger.With().Str("module", "app").Logger(),
	}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, a, a.logger)
	if err != nil {
		a.bootErr = err
		a.logger.Error().Err(err).Msg("startup failed")
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}
	if level, err := zerolog.ParseLevel(services.Config.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	a.services = services
	a.cfg = services.Config
	a.controller = services.Controller
}

func (a *App) shutdown(_ context.Context) {
	if a.controller != nil {
		a.controller.Unmount()
	}
	if err := a.services.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close services")
	}
}

// Mount opens the call view for a session. Setup failures are reported
// through the session event, not as a binding error.
func (a *App) Mount(sessionID string) (domain.ViewState, error) {
	if err := a.requireReady(); err != nil {
		return domain.ViewState{}, err
	}
	if err := a.controller.Mount(a.ctx, sessionID); err != nil {
		var setupErr *domain.SetupError
		if !errors.As(err, &setupErr) {
			return domain.ViewState{}, err
		}
	}
	return a.controller.Snapshot(), nil
}

// Unmount leaves the call view without ending the interview.
func (a *App) Unmount() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.Unmount()
	return nil
}

// RequestEnd opens the end-call confirmation.
func (a *App) RequestEnd() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.RequestEnd()
}

// CancelEnd dismisses the end-call confirmation.
func (a *App) CancelEnd() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.CancelEnd()
}

// ConfirmEnd ends the interview and navigates to its results.
func (a *App) ConfirmEnd() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.ConfirmEnd(a.ctx)
}

// ReturnToDashboard leaves a failed session.
func (a *App) ReturnToDashboard() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.ReturnToDashboard()
}

func (a *App) ToggleMicrophone() (bool, error) {
	if err := a.requireReady(); err != nil {
		return false, err
	}
	return a.controller.ToggleMicrophone(a.ctx)
}

func (a *App) ToggleCamera() (bool, error) {
	if err := a.requireReady(); err != nil {
		return false, err
	}
	return a.controller.ToggleCamera(a.ctx)
}

// SelectDevice switches the active device of a kind.
func (a *App) SelectDevice(kind string, deviceID string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.SelectDevice(a.ctx, domain.DeviceKind(kind), deviceID)
}

// RefreshDevices re-enumerates local devices.
func (a *App) RefreshDevices() (domain.DeviceInventory, error) {
	if err := a.requireReady(); err != nil {
		return domain.DeviceInventory{}, err
	}
	return a.controller.RefreshDevices(a.ctx)
}

// GetState returns the full call view snapshot.
func (a *App) GetState() domain.ViewState {
	if a.controller == nil {
		return domain.ViewState{Elapsed: domain.ElapsedZero}
	}
	return a.controller.Snapshot()
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateFailed, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{Message: "not initialized"}
	}
	return a.controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"apiBaseUrl":         a.cfg.API.BaseURL,
		"cacheDriver":        a.cfg.Cache.Driver,
		"configFile":         a.cfg.File,
		"transcriptionTopic": a.cfg.Session.TranscriptionTopic,
		"elapsedTopic":       a.cfg.Session.ElapsedTopic,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func (a *App) send(name string, payload interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, payload)
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	a.send(eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

func (a *App) SubtitlesChanged(entries []domain.SubtitleEntry) {
	a.send(eventSubtitles, entries)
}

func (a *App) ElapsedChanged(value string) {
	a.send(eventElapsed, map[string]string{"elapsed": value})
}

func (a *App) RosterChanged(tiles []domain.ParticipantTile) {
	a.send(eventRoster, tiles)
}

func (a *App) DevicesChanged(inventory domain.DeviceInventory) {
	a.send(eventDevices, inventory)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.send(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

// Navigate asks the frontend router to leave the call view.
func (a *App) Navigate(route domain.Route) {
	a.send(eventNavigate, map[string]string{
		"kind":      string(route.Kind),
		"sessionId": route.SessionID,
		"path":      route.Path(),
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonMounted:
		return "Connecting to your interview..."
	case domain.SessionReasonConnected:
		return "Connected"
	case domain.SessionReasonEndRequested:
		return "End the interview?"
	case domain.SessionReasonEndCancelled:
		return "Interview resumed"
	case domain.SessionReasonEndConfirmed:
		return "Ending interview..."
	case domain.SessionReasonRemoteEnded:
		return "The interviewer ended the session"
	case domain.SessionReasonFinalized:
		return "Interview ended"
	case domain.SessionReasonFinalizeFailed:
		return "Interview ended (results may be delayed)"
	case domain.SessionReasonSessionNotFound:
		return "Interview session not found"
	case domain.SessionReasonSessionNotActive:
		return "Interview session is no longer active"
	case domain.SessionReasonSetupFailed:
		return "Could not connect to the interview"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeSetup:
		return "Interview setup failed"
	case domain.ErrorCodeDeviceQuery:
		return "Could not list devices"
	case domain.ErrorCodeDeviceSwitch:
		return "Could not switch device"
	case domain.ErrorCodeMediaToggle:
		return "Could not change microphone or camera"
	case domain.ErrorCodeFinalization:
		return "Could not finalize the interview"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
