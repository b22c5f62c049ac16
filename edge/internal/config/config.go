package config

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/portfolio-assets/assets-go/common/configmgr"
	"github.com/portfolio-assets/assets-go/common/logger"
	"github.com/portfolio-assets/assets-go/common/objstore"
	"github.com/portfolio-assets/assets-go/edge/internal/server"
	"github.com/portfolio-assets/assets-go/edge/pkg/resolver"
	"github.com/portfolio-assets/assets-go/edge/pkg/respcache"
)

type AppConfig struct {
	Log       logger.Config    `mapstructure:"log"`
	Server    server.Config    `mapstructure:"server"`
	Store     objstore.Config  `mapstructure:"store"`
	Resolver  resolver.Config  `mapstructure:"resolver"`
	Cache     respcache.Config `mapstructure:"cache"`
	Developer struct {
		DumpConfig bool `mapstructure:"dump-config"`
	}
}

func (c *AppConfig) NewEmptyInstance() configmgr.Configurable {
	return new(AppConfig)
}

// UpdateAllowed only allows the resolver configuration to change at runtime.
func (c *AppConfig) UpdateAllowed(newConfig configmgr.Configurable) error {
	n, ok := newConfig.(*AppConfig)
	if !ok {
		return fmt.Errorf("invalid configuration type %T", newConfig)
	}
	var errs []error
	if !reflect.DeepEqual(c.Log, n.Log) {
		errs = append(errs, errors.New("log configuration cannot be changed without a restart"))
	}
	if !reflect.DeepEqual(c.Server, n.Server) {
		errs = append(errs, errors.New("server configuration cannot be changed without a restart"))
	}
	if !reflect.DeepEqual(c.Store, n.Store) {
		errs = append(errs, errors.New("store configuration cannot be changed without a restart"))
	}
	if !reflect.DeepEqual(c.Cache, n.Cache) {
		errs = append(errs, errors.New("cache configuration cannot be changed without a restart"))
	}
	return errors.Join(errs...)
}

func (c *AppConfig) ValidateConfig() error {
	return errors.Join(c.Store.Validate(), c.Resolver.Validate())
}

func (c *AppConfig) GetResolverConfig() resolver.Config {
	return c.Resolver
}
