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

package transport

import (
	"sort"
	"time"

	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
)

// Latency summarizes the round trips of the last window.
type Latency struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
	Avg time.Duration `json:"avg"`
}

// CalculateLatency summarizes every duration still held by latencies.
func CalculateLatency(latencies *expiremap.ExpireMap[time.Time, time.Duration]) Latency {
	var (
		out       Latency
		total     time.Duration
		durations []time.Duration
	)

	latencies.Range(func(_ time.Time, value time.Duration) bool {
		durations = append(durations, value)
		total += value

		return true
	})

	if len(durations) == 0 {
		return out
	}

	sort.Slice(durations, func(i, j int) bool {
		return durations[i] < durations[j]
	})

	percentile := func(p float64) time.Duration {
		idx := int(float64(len(durations)) * p)
		if idx >= len(durations) {
			idx = len(durations) - 1
		}

		return durations[idx]
	}

	out.Min = durations[0]
	out.Max = durations[len(durations)-1]
	out.P95 = percentile(0.95)
	out.P99 = percentile(0.99)
	out.Avg = total / time.Duration(len(durations))

	return out
}
