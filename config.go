package toystory

import (
	"errors"
	"time"
)

// Config defines engine behavior. Obtain defaults through [DefaultConfig] and
// override fields before passing it to [Builder.WithConfig].
type Config struct {
	Login   LoginConfig
	Sync    SyncConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
LOGIN CONFIG
====================================
*/

// LoginConfig controls the login and logout flows.
type LoginConfig struct {
	// Timeout bounds the credential exchange and the profile follow-up together.
	Timeout time.Duration
	// ProfileTimeout bounds each profile fetch, including the ones made by Refresh.
	ProfileTimeout time.Duration
	// RequireProfile turns a failed profile fetch after a successful credential
	// exchange into a full login failure. The profile is then fetched before any
	// key is written, so storage is left untouched on failure.
	RequireProfile bool
	// RemoteLogout fires AccountService.LogoutRemote in the background on Logout.
	RemoteLogout        bool
	RemoteLogoutTimeout time.Duration
}

/*
====================================
SYNC CONFIG
====================================
*/

// SyncConfig controls cross-tab consistency.
type SyncConfig struct {
	// Enabled starts the storage event listener on Build.
	Enabled bool
	// RefreshOnStart runs Refresh once during Build so the engine leaves
	// StateUnknown before the first caller sees it.
	RefreshOnStart bool
}

// AuditConfig controls audit dispatching.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// SinkTimeout bounds each delivery to the audit sink. Zero disables it.
	SinkTimeout time.Duration
}

// MetricsConfig controls in-process metrics.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the configuration used when [Builder.WithConfig] is
// never called.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Login: LoginConfig{
			Timeout:             15 * time.Second,
			ProfileTimeout:      5 * time.Second,
			RequireProfile:      false,
			RemoteLogout:        false,
			RemoteLogoutTimeout: 3 * time.Second,
		},
		Sync: SyncConfig{
			Enabled:        true,
			RefreshOnStart: true,
		},
		Audit: AuditConfig{
			Enabled:     false,
			BufferSize:  256,
			DropIfFull:  true,
			SinkTimeout: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Login.Timeout <= 0 {
		return errors.New("Login Timeout must be > 0")
	}
	if c.Login.ProfileTimeout <= 0 {
		return errors.New("Login ProfileTimeout must be > 0")
	}
	if c.Login.ProfileTimeout > c.Login.Timeout {
		return errors.New("Login ProfileTimeout must be <= Login Timeout")
	}
	if c.Login.RemoteLogout && c.Login.RemoteLogoutTimeout <= 0 {
		return errors.New("Login RemoteLogoutTimeout must be > 0 when RemoteLogout is enabled")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}

	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
