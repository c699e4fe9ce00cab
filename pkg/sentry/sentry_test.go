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

package sentry_test

import (
	"context"
	"errors"
	"sync"
	"time"

	sentrygo "github.com/getsentry/sentry-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/scopesync/pkg/constants"
	"github.com/united-manufacturing-hub/scopesync/pkg/sentry"
)

type captureTransport struct {
	mu     sync.Mutex
	events []*sentrygo.Event
}

func (t *captureTransport) Configure(sentrygo.ClientOptions)      {}
func (t *captureTransport) Flush(time.Duration) bool              { return true }
func (t *captureTransport) FlushWithContext(context.Context) bool { return true }
func (t *captureTransport) Close()                                {}

func (t *captureTransport) SendEvent(event *sentrygo.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.events = append(t.events, event)
}

func (t *captureTransport) Events() []*sentrygo.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]*sentrygo.Event(nil), t.events...)
}

var _ = Describe("Reporting", func() {
	var (
		logger    *zap.SugaredLogger
		transport *captureTransport
	)

	BeforeEach(func() {
		logger = zaptest.NewLogger(GinkgoT()).Sugar()
		transport = &captureTransport{}
		Expect(sentrygo.Init(sentrygo.ClientOptions{
			Dsn:       "https://public@sentry.example.com/1",
			Transport: transport,
		})).To(Succeed())
	})

	AfterEach(func() {
		sentry.DisableTestMode()
	})

	It("tags build errors with their pipeline position", func() {
		sentry.EnableTestMode()
		sentry.ReportBuildError(logger, "update", "b-1", "send_request", errors.New("boom: connection reset"))

		Eventually(transport.Events).Should(HaveLen(1))
		event := transport.Events()[0]
		Expect(event.Level).To(Equal(sentrygo.LevelError))
		Expect(event.Tags).To(HaveKeyWithValue("worker", "update"))
		Expect(event.Tags).To(HaveKeyWithValue("state", "send_request"))
		Expect(event.Exception[0].Type).To(Equal("boom"))
		Expect(event.Fingerprint).To(ContainElement("state: send_request"))
	})

	It("debounces repeated issues with the same title", func() {
		sentry.ReportIssuef(sentry.IssueTypeWarning, logger, "scope %s vanished", "a.b")
		sentry.ReportIssuef(sentry.IssueTypeWarning, logger, "scope %s vanished", "a.b")

		Eventually(transport.Events).Should(HaveLen(1))
		Consistently(transport.Events, 50*time.Millisecond).Should(HaveLen(1))
	})

	It("puts structured context into extras", func() {
		sentry.EnableTestMode()
		sentry.ReportIssueWithContext(errors.New("odd record"), sentry.IssueTypeWarning, logger, map[string]interface{}{
			"indices": []int{1, 2},
		})

		Eventually(transport.Events).Should(HaveLen(1))
		Expect(transport.Events()[0].Extra).To(HaveKeyWithValue("indices", []int{1, 2}))
	})
})

var _ = Describe("Environment", func() {
	It("separates releases from prereleases", func() {
		Expect(sentry.Environment("1.4.0")).To(Equal(constants.DefaultProductionEnvironment))
		Expect(sentry.Environment("1.4.0-rc.1")).To(Equal(constants.DefaultDevelopmentEnvironment))
		Expect(sentry.Environment("not-a-version")).To(Equal(constants.DefaultDevelopmentEnvironment))
	})
})
