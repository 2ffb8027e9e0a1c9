package config

import (
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReconcileConfig holds tunables for the entitlement reconciler.
type ReconcileConfig struct {
	// FallbackWindowDays is the entitlement window granted when a plan
	// carries no recurring interval (one-time purchase).
	FallbackWindowDays int `mapstructure:"fallbackWindowDays"`

	// SweepInterval controls how often the expiry sweeper runs.
	SweepInterval time.Duration `mapstructure:"sweepInterval"`

	// GatewayTimeout bounds every outbound payment-provider call.
	GatewayTimeout time.Duration `mapstructure:"gatewayTimeout"`
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		FallbackWindowDays: 30,
		SweepInterval:      15 * time.Minute,
		GatewayTimeout:     12 * time.Second,
	}
}

// ReconcileConfigHolder serves the current tunables and hot-reloads them
// when the underlying file changes.
type ReconcileConfigHolder struct {
	current atomic.Value // holds ReconcileConfig
}

func NewReconcileConfigHolder() (*ReconcileConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("reconcile")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/fastingvibe")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FASTINGVIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultReconcileConfig()
	v.SetDefault("reconcile.fallbackWindowDays", defaults.FallbackWindowDays)
	v.SetDefault("reconcile.sweepInterval", defaults.SweepInterval)
	v.SetDefault("reconcile.gatewayTimeout", defaults.GatewayTimeout)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	holder := &ReconcileConfigHolder{}
	if err := holder.reload(v); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if err := holder.reload(v); err != nil {
			log.Printf("reconcile config reload failed: %v", err)
		}
	})
	v.WatchConfig()

	return holder, nil
}

// NewStaticReconcileConfigHolder wraps fixed tunables, for tests and tools
// that do not watch a config file.
func NewStaticReconcileConfigHolder(cfg ReconcileConfig) *ReconcileConfigHolder {
	holder := &ReconcileConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *ReconcileConfigHolder) reload(v *viper.Viper) error {
	var cfg ReconcileConfig
	if err := v.UnmarshalKey("reconcile", &cfg); err != nil {
		return err
	}
	if cfg.FallbackWindowDays <= 0 {
		cfg.FallbackWindowDays = DefaultReconcileConfig().FallbackWindowDays
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultReconcileConfig().SweepInterval
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = DefaultReconcileConfig().GatewayTimeout
	}
	h.current.Store(cfg)
	return nil
}

// Get returns the current tunables.
func (h *ReconcileConfigHolder) Get() ReconcileConfig {
	if v, ok := h.current.Load().(ReconcileConfig); ok {
		return v
	}
	return DefaultReconcileConfig()
}
