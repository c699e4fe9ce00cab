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

import "time"

// Scope syntax defaults. They can be overridden through the scope section of the
// config file, but must never change after the data manager was created.
const (
	// DefaultRootScope names the scope that addresses a whole record.
	DefaultRootScope = "MODEL_ROOT"

	// DefaultScopeSeparator joins the segments of a scope path.
	DefaultScopeSeparator = "."

	// DefaultArrayElementMarker is the reserved segment meaning "one element of the
	// enclosing array", selected by the next ordered index.
	DefaultArrayElementMarker = "[]"

	// DefaultArrayTypeMarker is the reserved segment meaning "the array's own element
	// type". Without an ordered index it resolves to element 0.
	DefaultArrayTypeMarker = "[*]"

	// ChildIDMarker separates a scope from a list item identifier in a mapped scope key.
	ChildIDMarker = "#"
)

// Data manager defaults.
const (
	// DefaultOverridePolicy decides what happens when a request hits an identical
	// mapped scope that is still in flight.
	DefaultOverridePolicy = "wait"

	// DefaultIDField is the property used to extract record ids from collection loads.
	DefaultIDField = "id"

	// RecordsCollection is the persistence collection holding committed records.
	RecordsCollection = "records"
)

// Transport defaults.
const (
	// DefaultRequestTimeout bounds a single HTTP round trip. Builds themselves never time out.
	DefaultRequestTimeout = 30 * time.Second

	// LatencyWindow is how long transport latency samples are kept.
	LatencyWindow = 5 * time.Minute
)
