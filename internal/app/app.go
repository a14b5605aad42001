package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/graphmeld/internal/adapter"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *adapter.Registry
	profile  *Profile
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
func NewApp(outW io.Writer, appConfig *Config, modules ...adapter.Module) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	profile, err := LoadProfile(appConfig.ProfilePath)
	if err != nil {
		// A failure to load the profile is a fatal startup error.
		panic(fmt.Errorf("failed to load profile: %w", err))
	}
	logger.Debug("Profile loaded.", "sources", len(profile.Sources), "sinks", len(profile.Sinks))

	reg := adapter.NewRegistry()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All format modules registered.", "count", len(modules), "formats", reg.Formats())

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		profile:  profile,
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *adapter.Registry {
	return a.registry
}

// Profile returns the loaded profile. This is primarily for testing.
func (a *App) Profile() *Profile {
	return a.profile
}
