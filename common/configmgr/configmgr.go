// Package configmgr merges configuration from flags, environment variables and an optional
// configuration file into an application specific struct, and reloads the file on SIGHUP.
//
// Precedence (highest->lowest): flags, environment variables, configuration file, defaults.
package configmgr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ErrConfiguration is returned for invalid or incomplete configuration. It is always fatal at
// startup.
var ErrConfiguration = errors.New("invalid configuration")

// CfgFileKey is the flag every application uses to point at its configuration file.
const CfgFileKey = "cfg-file"

// Configurable is implemented by the top level configuration struct of each application.
type Configurable interface {
	// NewEmptyInstance returns a new zero value used as the decode target.
	NewEmptyInstance() Configurable
	// UpdateAllowed rejects configuration changes that require a restart.
	UpdateAllowed(newConfig Configurable) error
	ValidateConfig() error
}

// Listener is notified after a configuration reload was validated and applied.
type Listener interface {
	UpdateConfiguration(newConfig any) error
}

type ConfigManager struct {
	flags        *pflag.FlagSet
	envVarPrefix string
	mu           sync.RWMutex
	current      Configurable
	listeners    []Listener
}

// New builds the initial configuration. The envVarPrefix should end with an underscore, for
// example "ASSETS_EDGE_" allows setting log.level using ASSETS_EDGE_LOG__LEVEL.
func New(flags *pflag.FlagSet, envVarPrefix string, template Configurable) (*ConfigManager, error) {
	m := &ConfigManager{
		flags:        flags,
		envVarPrefix: envVarPrefix,
	}
	cfg, err := m.load(template)
	if err != nil {
		return nil, err
	}
	m.current = cfg
	return m, nil
}

func (m *ConfigManager) load(template Configurable) (Configurable, error) {
	v := viper.New()
	if err := v.BindPFlags(m.flags); err != nil {
		return nil, fmt.Errorf("unable to bind flags: %w", err)
	}
	v.SetEnvPrefix(strings.TrimSuffix(m.envVarPrefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__", "-", "_"))
	v.AutomaticEnv()

	if cfgFile := v.GetString(CfgFileKey); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine, everything can be set using flags and/or environment variables.
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: unable to read %s: %w", ErrConfiguration, cfgFile, err)
			}
		}
	}

	cfg := template.NewEmptyInstance()
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err := cfg.ValidateConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns the current configuration.
func (m *ConfigManager) Get() Configurable {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *ConfigManager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Reload reads the configuration again and notifies listeners if the update is allowed.
func (m *ConfigManager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	newCfg, err := m.load(m.current)
	if err != nil {
		return err
	}
	if err := m.current.UpdateAllowed(newCfg); err != nil {
		return err
	}
	m.current = newCfg
	var errs []error
	for _, l := range m.listeners {
		if err := l.UpdateConfiguration(newCfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Manage reloads the configuration each time the process receives SIGHUP until ctx is cancelled.
func (m *ConfigManager) Manage(ctx context.Context, log *zap.Logger) {
	log = log.With(zap.String("component", "configmgr"))
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP)
	defer signal.Stop(sigs)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			if err := m.Reload(); err != nil {
				log.Warn("unable to apply configuration update", zap.Error(err))
				continue
			}
			log.Info("applied configuration update")
		}
	}
}
