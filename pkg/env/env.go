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

// Package env reads typed settings from environment variables.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Lookup returns the value of key and whether it is set to something non-empty.
func Lookup(key string) (string, bool) {
	value := os.Getenv(key)

	return value, value != ""
}

func GetAsString(key string, required bool, defaultValue string) (string, error) {
	value, ok := Lookup(key)
	if !ok {
		if required {
			return "", fmt.Errorf("required environment variable %s is not set", key)
		}

		return defaultValue, nil
	}

	return value, nil
}

// GetAsInt parses key as an integer. A malformed value is an error, unlike an
// unset one.
func GetAsInt(key string, required bool, defaultValue int) (int, error) {
	value, ok := Lookup(key)
	if !ok {
		if required {
			return 0, fmt.Errorf("required environment variable %s is not set", key)
		}

		return defaultValue, nil
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
	}

	return intValue, nil
}

func GetAsBool(key string, required bool, defaultValue bool) (bool, error) {
	value, ok := Lookup(key)
	if !ok {
		if required {
			return false, fmt.Errorf("required environment variable %s is not set", key)
		}

		return defaultValue, nil
	}

	switch strings.ToLower(value) {
	case "true", "1", "yes", "y", "on":
		return true, nil
	case "false", "0", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("environment variable %s must be a boolean value, got %q", key, value)
	}
}

// GetAsDuration parses key with time.ParseDuration.
func GetAsDuration(key string, required bool, defaultValue time.Duration) (time.Duration, error) {
	value, ok := Lookup(key)
	if !ok {
		if required {
			return 0, fmt.Errorf("required environment variable %s is not set", key)
		}

		return defaultValue, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be a duration: %w", key, err)
	}

	return d, nil
}
