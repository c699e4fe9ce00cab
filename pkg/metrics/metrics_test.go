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

package metrics_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/scopesync/pkg/conflict"
	"github.com/united-manufacturing-hub/scopesync/pkg/metrics"
	"github.com/united-manufacturing-hub/scopesync/pkg/record"
	"github.com/united-manufacturing-hub/scopesync/pkg/scope"
)

func family(name string) *dto.MetricFamily {
	families, err := prometheus.DefaultGatherer.Gather()
	Expect(err).NotTo(HaveOccurred())

	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}

	return nil
}

func matches(m *dto.Metric, labels map[string]string) bool {
	found := 0

	for _, pair := range m.GetLabel() {
		if want, ok := labels[pair.GetName()]; ok {
			if pair.GetValue() != want {
				return false
			}

			found++
		}
	}

	return found == len(labels)
}

// value returns the counter or gauge value of a series, or the sample count
// of a summary or histogram. Missing series read as zero.
func value(name string, labels map[string]string) float64 {
	mf := family(name)
	if mf == nil {
		return 0
	}

	for _, m := range mf.GetMetric() {
		if !matches(m, labels) {
			continue
		}

		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			return m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			return m.GetGauge().GetValue()
		case dto.MetricType_SUMMARY:
			return float64(m.GetSummary().GetSampleCount())
		case dto.MetricType_HISTOGRAM:
			return float64(m.GetHistogram().GetSampleCount())
		}
	}

	return 0
}

var _ = Describe("Metrics", func() {
	Describe("admissions", func() {
		It("counts admitted and denied decisions of the tracker", func() {
			syntax := scope.DefaultSyntax()
			tracker := conflict.NewTracker(conflict.Config{Syntax: syntax}, zap.NewNop().Sugar())

			admitted := map[string]string{"mutation": string(record.MutationUpdate), "decision": "admitted"}
			denied := map[string]string{"mutation": string(record.MutationUpdate), "decision": "denied"}
			admittedBefore := value("umh_scopesync_admissions_total", admitted)
			deniedBefore := value("umh_scopesync_admissions_total", denied)

			req := conflict.Request{
				Stamp:    tracker.Stamp(),
				RecordID: "r1",
				Mutation: record.MutationUpdate,
				Scope:    syntax.MustParse("profile"),
			}

			first, err := tracker.Admit(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Operable).To(BeTrue())

			second, err := tracker.Admit(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Operable).To(BeFalse())

			Expect(value("umh_scopesync_admissions_total", admitted)).To(Equal(admittedBefore + 1))
			Expect(value("umh_scopesync_admissions_total", denied)).To(Equal(deniedBefore + 1))

			var text strings.Builder
			_, err = expfmt.MetricFamilyToText(&text, family("umh_scopesync_admissions_total"))
			Expect(err).NotTo(HaveOccurred())
			Expect(text.String()).To(ContainSubstring(`decision="denied"`))
		})
	})

	Describe("builds", func() {
		It("counts builds by final state and times them", func() {
			labels := map[string]string{"worker": "metrics-test", "state": "finalize"}
			before := value("umh_scopesync_builds_total", labels)
			observedBefore := value("umh_scopesync_build_duration_milliseconds", map[string]string{"worker": "metrics-test"})

			metrics.ObserveBuild("metrics-test", "finalize", 12*time.Millisecond)
			metrics.ObserveBuild("metrics-test", "finalize", 30*time.Millisecond)

			Expect(value("umh_scopesync_builds_total", labels)).To(Equal(before + 2))
			Expect(value("umh_scopesync_build_duration_milliseconds", map[string]string{"worker": "metrics-test"})).To(Equal(observedBefore + 2))
		})
	})

	Describe("records and errors", func() {
		It("sets the record gauge", func() {
			metrics.SetRecords(7)
			Expect(value("umh_scopesync_records", nil)).To(Equal(7.0))

			metrics.SetRecords(0)
			Expect(value("umh_scopesync_records", nil)).To(BeZero())
		})

		It("exposes initialized error counters before the first error", func() {
			labels := map[string]string{"component": metrics.ComponentPersistence, "instance": "metrics-test"}

			metrics.InitErrorCounter(metrics.ComponentPersistence, "metrics-test")
			Expect(family("umh_scopesync_errors_total")).NotTo(BeNil())
			Expect(value("umh_scopesync_errors_total", labels)).To(BeZero())

			metrics.IncErrorCount(metrics.ComponentPersistence, "metrics-test")
			Expect(value("umh_scopesync_errors_total", labels)).To(Equal(1.0))
		})

		It("counts transport round trips by status", func() {
			metrics.ObserveTransport("PATCH", 503, 40*time.Millisecond)

			count, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "umh_scopesync_transport_requests_total")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeNumerically(">=", 1))
			Expect(value("umh_scopesync_transport_requests_total", map[string]string{"method": "PATCH", "status": "503"})).To(BeNumerically(">=", 1))
		})
	})

	Describe("endpoint", func() {
		It("serves the registry over HTTP", func() {
			listener, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())

			addr := listener.Addr().String()
			Expect(listener.Close()).To(Succeed())

			metrics.SetRecords(3)

			server := metrics.SetupMetricsEndpoint(addr, zap.NewNop().Sugar())
			DeferCleanup(server.Close)

			var body string

			Eventually(func() error {
				resp, err := http.Get("http://" + addr + "/metrics")
				if err != nil {
					return err
				}
				defer resp.Body.Close()

				raw, err := io.ReadAll(resp.Body)
				if err != nil {
					return err
				}

				body = string(raw)

				return nil
			}).Should(Succeed())

			Expect(body).To(ContainSubstring("umh_scopesync_records 3"))
		})
	})
})
