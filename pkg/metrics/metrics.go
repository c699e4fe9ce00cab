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

package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	// Component Labels.
	ComponentDataManager = "data_manager"
	ComponentTracker     = "conflict_tracker"
	ComponentPipeline    = "pipeline_worker"
	ComponentTransport   = "transport"
	ComponentPersistence = "persistence"
	ComponentInspect     = "inspect"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "umh"
	subsystem = "scopesync"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	admissionCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "admissions_total",
			Help:      "Admission decisions of the conflict tracker by mutation and outcome",
		},
		[]string{"mutation", "decision"},
	)

	buildCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "builds_total",
			Help:      "Finished pipeline builds by worker and final state",
		},
		[]string{"worker", "state"},
	)

	buildDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "build_duration_milliseconds",
			Help:      "Time from build start to its final state (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
		[]string{"worker"},
	)

	transportRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transport_requests_total",
			Help:      "HTTP requests sent by the transport by method and status code",
		},
		[]string{"method", "status"},
	)

	transportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transport_request_duration_seconds",
			Help:      "Duration of HTTP round trips in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)

	recordsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "records",
			Help:      "Number of committed records held by the data manager",
		},
	)
)

// SetupMetricsEndpoint starts an HTTP server to expose metrics
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string, log *zap.SugaredLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics endpoint stopped: %v", err)
		}
	}()

	return server
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// IncAdmission counts one admission decision.
func IncAdmission(mutation, decision string) {
	admissionCounter.WithLabelValues(mutation, decision).Inc()
}

// ObserveBuild records a finished build.
func ObserveBuild(worker, finalState string, duration time.Duration) {
	buildCounter.WithLabelValues(worker, finalState).Inc()
	buildDuration.WithLabelValues(worker).Observe(float64(duration.Milliseconds()))
}

// ObserveTransport records one HTTP round trip. A status of 0 means no response.
func ObserveTransport(method string, status int, duration time.Duration) {
	transportRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	transportDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// SetRecords updates the committed record gauge.
func SetRecords(n int) {
	recordsGauge.Set(float64(n))
}
