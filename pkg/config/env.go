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

package config

import (
	"errors"

	"github.com/united-manufacturing-hub/scopesync/pkg/env"
)

// LoadWithEnvOverrides loads the config file and applies environment variable
// overrides, then validates the result.
//
// Order of precedence (highest to lowest):
//  1. Environment variables (OVERRIDE_POLICY, AUTO_CANCEL_ON_ERROR, MAINTAIN_NETWORK_ON_FLUSH,
//     API_URL, REQUEST_TIMEOUT, PERSISTENCE_DRIVER, PERSISTENCE_PATH, LOGGING_LEVEL,
//     LOGGING_FORMAT, METRICS_PORT, INSPECT_PORT)
//  2. Config file values
//  3. Default values
//
// Unlike the file, the environment is never written back.
func LoadWithEnvOverrides(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}

	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyEnv overwrites cfg with every override that is set.
func ApplyEnv(cfg *Config) error {
	var errs []error

	str := func(key string, target *string) {
		if value, ok := env.Lookup(key); ok {
			*target = value
		}
	}

	str("OVERRIDE_POLICY", &cfg.DataManager.OverridePolicy)
	str("API_URL", &cfg.Transport.BaseURL)
	str("PERSISTENCE_DRIVER", &cfg.Persistence.Driver)
	str("PERSISTENCE_PATH", &cfg.Persistence.Path)
	str("LOGGING_LEVEL", &cfg.Logging.Level)
	str("LOGGING_FORMAT", &cfg.Logging.Format)

	if autoCancel, err := env.GetAsBool("AUTO_CANCEL_ON_ERROR", false, cfg.DataManager.AutoCancelOnError); err != nil {
		errs = append(errs, err)
	} else {
		cfg.DataManager.AutoCancelOnError = autoCancel
	}

	if _, ok := env.Lookup("MAINTAIN_NETWORK_ON_FLUSH"); ok {
		if maintain, err := env.GetAsBool("MAINTAIN_NETWORK_ON_FLUSH", true, false); err != nil {
			errs = append(errs, err)
		} else {
			cfg.DataManager.MaintainNetworkOnFlush.Global = &maintain
		}
	}

	if timeout, err := env.GetAsDuration("REQUEST_TIMEOUT", false, cfg.Transport.Timeout); err != nil {
		errs = append(errs, err)
	} else {
		cfg.Transport.Timeout = timeout
	}

	port := func(key string, target *int) {
		value, err := env.GetAsInt(key, false, *target)
		if err != nil {
			errs = append(errs, err)

			return
		}

		*target = value
	}

	port("METRICS_PORT", &cfg.MetricsPort)
	port("INSPECT_PORT", &cfg.InspectPort)

	return errors.Join(errs...)
}
