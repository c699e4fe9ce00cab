// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the settings of a scopesync process from a YAML file
// and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tiendc/go-deepcopy"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/scopesync/pkg/conflict"
	"github.com/united-manufacturing-hub/scopesync/pkg/constants"
	"github.com/united-manufacturing-hub/scopesync/pkg/logger"
	"github.com/united-manufacturing-hub/scopesync/pkg/record"
	"github.com/united-manufacturing-hub/scopesync/pkg/scope"
)

type Config struct {
	Scope       ScopeConfig       `yaml:"scope"`
	DataManager DataManagerConfig `yaml:"dataManager"`
	Transport   TransportConfig   `yaml:"transport"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Retry       RetryConfig       `yaml:"retry"`
	Logging     LoggingConfig     `yaml:"logging"`
	MetricsPort int               `yaml:"metricsPort"` // Port to expose metrics on, 0 disables
	InspectPort int               `yaml:"inspectPort"` // Port of the inspection API, 0 disables
}

// ScopeConfig spells the reserved scope tokens.
type ScopeConfig struct {
	Root         string `yaml:"root"`
	Separator    string `yaml:"separator"`
	ArrayElement string `yaml:"arrayElement"`
	ArrayType    string `yaml:"arrayType"`
}

type DataManagerConfig struct {
	// OverridePolicy is "wait" or "cancel".
	OverridePolicy         string          `yaml:"overridePolicy"`
	AutoCancelOnError      bool            `yaml:"autoCancelOnError"`
	IDField                string          `yaml:"idField"`
	MaintainNetworkOnFlush MaintainNetwork `yaml:"maintainNetworkOnFlush,omitempty"`
}

// MaintainNetwork decides whether a flush lets network calls finish. A global
// value overrides the per-mutation entries.
type MaintainNetwork struct {
	Global    *bool           `yaml:"global,omitempty"`
	Mutations map[string]bool `yaml:"mutations,omitempty"`
}

// For reports whether operations of kind m keep their network call on flush.
func (mn MaintainNetwork) For(m record.Mutation) bool {
	if mn.Global != nil {
		return *mn.Global
	}

	return mn.Mutations[string(m)]
}

type TransportConfig struct {
	BaseURL     string            `yaml:"baseUrl"`
	Timeout     time.Duration     `yaml:"timeout"`
	InsecureTLS bool              `yaml:"insecureTls,omitempty"`
	Gzip        bool              `yaml:"gzip,omitempty"`
	Header      map[string]string `yaml:"header,omitempty"`
}

type PersistenceConfig struct {
	// Driver is "memory" or "sqlite".
	Driver     string `yaml:"driver"`
	Path       string `yaml:"path,omitempty"`
	Collection string `yaml:"collection"`
}

// RetryConfig enables the automatic retry view on the root scope.
type RetryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
	MaxRetries      uint64        `yaml:"maxRetries"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Default returns the settings used for everything the file leaves out.
func Default() Config {
	return Config{
		Scope: ScopeConfig{
			Root:         constants.DefaultRootScope,
			Separator:    constants.DefaultScopeSeparator,
			ArrayElement: constants.DefaultArrayElementMarker,
			ArrayType:    constants.DefaultArrayTypeMarker,
		},
		DataManager: DataManagerConfig{
			OverridePolicy:    constants.DefaultOverridePolicy,
			AutoCancelOnError: true,
			IDField:           constants.DefaultIDField,
		},
		Transport: TransportConfig{
			Timeout: constants.DefaultRequestTimeout,
		},
		Persistence: PersistenceConfig{
			Driver:     DriverMemory,
			Collection: constants.RecordsCollection,
		},
		Retry: RetryConfig{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
			MaxRetries:      5,
		},
		Logging: LoggingConfig{
			Level:  string(logger.ProductionLevel),
			Format: string(logger.FormatJSON),
		},
		MetricsPort: constants.DefaultMetricsPort,
		InspectPort: constants.DefaultInspectPort,
	}
}

// Syntax returns the scope syntax described by the config.
func (c Config) Syntax() scope.Syntax {
	return scope.Syntax{
		Root:         c.Scope.Root,
		Separator:    c.Scope.Separator,
		ArrayElement: c.Scope.ArrayElement,
		ArrayType:    c.Scope.ArrayType,
	}
}

// Policy returns the parsed override policy.
func (c Config) Policy() (conflict.Policy, error) {
	return conflict.ParsePolicy(c.DataManager.OverridePolicy)
}

// Validate reports every problem of the config at once.
func (c Config) Validate() error {
	var errs []error

	if err := c.Syntax().Validate(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.Policy(); err != nil {
		errs = append(errs, err)
	}

	if c.DataManager.IDField == "" {
		errs = append(errs, errors.New("dataManager.idField must be set"))
	}

	for name := range c.DataManager.MaintainNetworkOnFlush.Mutations {
		if _, err := record.ParseMutation(name); err != nil {
			errs = append(errs, fmt.Errorf("dataManager.maintainNetworkOnFlush: %w", err))
		}
	}

	if c.Transport.Timeout < 0 {
		errs = append(errs, errors.New("transport.timeout must not be negative"))
	}

	switch c.Persistence.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Persistence.Path == "" {
			errs = append(errs, errors.New("persistence.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("persistence.driver %q is not one of memory, sqlite", c.Persistence.Driver))
	}

	if c.Persistence.Collection == "" {
		errs = append(errs, errors.New("persistence.collection must be set"))
	}

	if c.Retry.Enabled && c.Retry.InitialInterval <= 0 {
		errs = append(errs, errors.New("retry.initialInterval must be positive"))
	}

	for name, port := range map[string]int{"metricsPort": c.MetricsPort, "inspectPort": c.InspectPort} {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d is out of range", name, port))
		}
	}

	return errors.Join(errs...)
}

// Clone creates a deep copy of Config.
func (c Config) Clone() Config {
	var clone Config
	if err := deepcopy.Copy(&clone, &c); err != nil {
		// Config only holds plain values, maps and pointers to bool
		panic(fmt.Sprintf("cloning config: %v", err))
	}

	return clone
}

// Parse decodes YAML on top of the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Load reads the config file at path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Marshal encodes the config as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
