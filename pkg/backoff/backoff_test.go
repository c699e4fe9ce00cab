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

package backoff_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/scopesync/pkg/backoff"
	"github.com/united-manufacturing-hub/scopesync/pkg/observer"
	"github.com/united-manufacturing-hub/scopesync/pkg/record"
	"github.com/united-manufacturing-hub/scopesync/pkg/scope"
	"github.com/united-manufacturing-hub/scopesync/pkg/standarderrors"
)

type answers struct {
	mu  sync.Mutex
	got []bool
}

func (a *answers) Retry(retry bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.got = append(a.got, retry)
}

func (a *answers) get() []bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]bool(nil), a.got...)
}

var _ = Describe("Error categories", func() {
	It("classifies the engine's sentinels", func() {
		Expect(backoff.Classify(nil)).To(Equal(backoff.CategoryIgnored))
		Expect(backoff.Classify(fmt.Errorf("x: %w", standarderrors.ErrCancelled))).To(Equal(backoff.CategoryIgnored))
		Expect(backoff.Classify(fmt.Errorf("x: %w", standarderrors.ErrNetwork))).To(Equal(backoff.CategoryTransient))
		Expect(backoff.Classify(fmt.Errorf("x: %w", standarderrors.ErrRequestConstruction))).To(Equal(backoff.CategoryPermanent))
		Expect(backoff.Classify(standarderrors.ErrDenied)).To(Equal(backoff.CategoryPermanent))
		Expect(backoff.Classify(errors.New("socket closed"))).To(Equal(backoff.CategoryTransient)) //nolint:err113 // Test needs dynamic error
	})

	It("lets an explicit category win", func() {
		err := backoff.NewPermanentError(fmt.Errorf("quota: %w", standarderrors.ErrNetwork))

		Expect(backoff.Classify(err)).To(Equal(backoff.CategoryPermanent))
		Expect(backoff.Classify(fmt.Errorf("send: %w", err))).To(Equal(backoff.CategoryPermanent))
		Expect(errors.Is(err, standarderrors.ErrNetwork)).To(BeTrue())
		Expect(backoff.CategoryPermanent.String()).To(Equal("permanent"))
	})
})

var _ = Describe("Retrier", func() {
	var (
		ctx     context.Context
		retrier *backoff.Retrier
		evt     observer.Event
	)

	BeforeEach(func() {
		ctx = context.Background()
		retrier = backoff.NewRetrier(backoff.RetrierConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			MaxRetries:      2,
		}, zap.NewNop().Sugar())

		evt = observer.Event{
			Mutation:  record.MutationUpdate,
			RecordIDs: []string{"r1"},
			Scope:     scope.DefaultSyntax().MustParse("profile"),
			Err:       fmt.Errorf("status 503: %w", standarderrors.ErrNetwork),
		}
	})

	It("retries transient failures until the budget is spent", func() {
		got := &answers{}

		retrier.OnError(ctx, evt, got)
		Eventually(got.get).Should(Equal([]bool{true}))

		retrier.OnError(ctx, evt, got)
		Eventually(got.get).Should(Equal([]bool{true, true}))

		retrier.OnError(ctx, evt, got)
		Expect(got.get()).To(Equal([]bool{true, true, false}))
	})

	It("starts over after a commit", func() {
		got := &answers{}

		retrier.OnError(ctx, evt, got)
		retrier.OnError(ctx, evt, got)
		Eventually(got.get).Should(HaveLen(2))

		done := make(chan struct{})
		retrier.OnCommit(ctx, evt, func() { close(done) })
		Expect(done).To(BeClosed())

		retrier.OnError(ctx, evt, got)
		Eventually(got.get).Should(Equal([]bool{true, true, true}))
	})

	It("denies permanent failures at once", func() {
		got := &answers{}
		evt.Err = fmt.Errorf("no endpoint: %w", standarderrors.ErrRequestConstruction)

		retrier.OnError(ctx, evt, got)
		Expect(got.get()).To(Equal([]bool{false}))
	})

	It("keeps budgets apart per scope", func() {
		got := &answers{}
		other := evt
		other.Scope = scope.DefaultSyntax().MustParse("name")

		retrier.OnError(ctx, evt, got)
		retrier.OnError(ctx, evt, got)
		Eventually(got.get).Should(HaveLen(2))

		retrier.OnError(ctx, other, got)
		Eventually(got.get).Should(Equal([]bool{true, true, true}))
	})

	It("drops a pending retry when the context ends", func() {
		slow := backoff.NewRetrier(backoff.RetrierConfig{
			InitialInterval: time.Hour,
			MaxInterval:     time.Hour,
			MaxRetries:      1,
		}, zap.NewNop().Sugar())

		got := &answers{}
		cancelled, cancel := context.WithCancel(ctx)

		slow.OnError(cancelled, evt, got)
		cancel()

		Consistently(got.get, 50*time.Millisecond).Should(BeEmpty())
	})
})
