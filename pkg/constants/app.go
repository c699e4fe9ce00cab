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

package constants

const (
	// DefaultAppVersion is reported when the binary was built without version ldflags.
	DefaultAppVersion = "0.0.0-dev"

	DefaultDevelopmentEnvironment = "development"
	DefaultProductionEnvironment  = "production"

	// DefaultMetricsPort serves the prometheus endpoint.
	DefaultMetricsPort = 8080

	// DefaultInspectPort serves the read-only inspection API.
	DefaultInspectPort = 8090

	// DefaultConfigPath is used when CONFIG_PATH is not set.
	DefaultConfigPath = "/data/scopesync.yaml"
)
