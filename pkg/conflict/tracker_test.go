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

package conflict_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/scopesync/pkg/conflict"
	"github.com/united-manufacturing-hub/scopesync/pkg/record"
	"github.com/united-manufacturing-hub/scopesync/pkg/scope"
)

type cancelCall struct {
	mutation record.Mutation
	recordID string
	key      string
}

type fakeCanceller struct {
	mu     sync.Mutex
	calls  []cancelCall
	err    error
	onCall func(call cancelCall)
}

func (f *fakeCanceller) CancelOperation(_ context.Context, mutation record.Mutation, recordID, key string) error {
	call := cancelCall{mutation: mutation, recordID: recordID, key: key}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if f.onCall != nil {
		f.onCall(call)
	}

	return f.err
}

type tempSink struct {
	mu      sync.Mutex
	entries map[string]record.TempEntry
}

func (s *tempSink) SetTemp(recordID, key string, entry record.TempEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[recordID+"/"+key] = entry

	return nil
}

var _ = Describe("Tracker", func() {
	var (
		ctx       context.Context
		syntax    scope.Syntax
		canceller *fakeCanceller
		temp      *tempSink
		tracker   *conflict.Tracker
		policy    conflict.Policy
		maintain  bool
	)

	newTracker := func() {
		tracker = conflict.NewTracker(conflict.Config{
			Syntax:          syntax,
			Policy:          policy,
			MaintainNetwork: func(record.Mutation) bool { return maintain },
			Canceller:       canceller,
			Temp:            temp,
		}, zap.NewNop().Sugar())
	}

	request := func(recordID string, m record.Mutation, raw, childID string) conflict.Request {
		return conflict.Request{
			Stamp:    tracker.Stamp(),
			RecordID: recordID,
			Mutation: m,
			Scope:    syntax.MustParse(raw),
			ChildID:  childID,
		}
	}

	admit := func(req conflict.Request) conflict.Decision {
		decision, err := tracker.Admit(ctx, req)
		Expect(err).NotTo(HaveOccurred())

		return decision
	}

	BeforeEach(func() {
		ctx = context.Background()
		syntax = scope.DefaultSyntax()
		canceller = &fakeCanceller{}
		temp = &tempSink{entries: map[string]record.TempEntry{}}
		policy = conflict.PolicyWait
		maintain = false
		newTracker()
	})

	It("admits the first operation of a record and stamps its temp entry", func() {
		decision := admit(request("r1", record.MutationUpdate, "profile", ""))
		Expect(decision.Operable).To(BeTrue())
		Expect(decision.Token).NotTo(BeEmpty())

		entry := temp.entries["r1/profile"]
		Expect(entry.State).To(Equal(record.StateMutate))
		Expect(entry.Mutation).To(Equal(record.MutationUpdate))
		Expect(entry.Value).To(Equal(map[string]any{}))
	})

	Describe("scope ancestry", func() {
		It("denies descendants and ancestors of in-flight scopes", func() {
			Expect(admit(request("r1", record.MutationUpdate, "a.b.c", "")).Operable).To(BeTrue())
			Expect(admit(request("r1", record.MutationUpdate, "a.b", "")).Operable).To(BeFalse())

			tracker.Rotate(true)
			Expect(admit(request("r1", record.MutationUpdate, "a.b", "")).Operable).To(BeTrue())
			Expect(admit(request("r1", record.MutationUpdate, "a", "")).Operable).To(BeFalse())
			Expect(admit(request("r1", record.MutationUpdate, "x", "")).Operable).To(BeTrue())
		})

		It("keeps records independent", func() {
			Expect(admit(request("r1", record.MutationUpdate, "a", "")).Operable).To(BeTrue())
			Expect(admit(request("r2", record.MutationUpdate, "a", "")).Operable).To(BeTrue())
		})

		It("denies whole-record requests while narrower operations run", func() {
			Expect(admit(request("r1", record.MutationUpdate, "a", "")).Operable).To(BeTrue())
			decision := admit(request("r1", record.MutationLoad, "MODEL_ROOT", ""))
			Expect(decision.Operable).To(BeFalse())
			Expect(decision.Previous).To(Equal(record.MutationUpdate))
		})

		It("denies narrower requests while a whole-record operation runs", func() {
			Expect(admit(request("r1", record.MutationLoad, "MODEL_ROOT", "")).Operable).To(BeTrue())
			Expect(admit(request("r1", record.MutationUpdate, "a", "")).Operable).To(BeFalse())
		})

		It("admits sibling list items that share a scope", func() {
			Expect(admit(request("r1", record.MutationUpdate, "items", "1")).Operable).To(BeTrue())
			Expect(admit(request("r1", record.MutationUpdate, "items", "2")).Operable).To(BeTrue())
			Expect(admit(request("r1", record.MutationUpdate, "items", "")).Operable).To(BeFalse())
			Expect(admit(request("r1", record.MutationUpdate, "items.[]", "3")).Operable).To(BeFalse())
		})
	})

	Describe("identical mapped scopes", func() {
		It("denies under the wait policy and names the scope", func() {
			Expect(admit(request("r1", record.MutationUpdate, "profile", "")).Operable).To(BeTrue())

			decision := admit(request("r1", record.MutationUpdate, "profile", ""))
			Expect(decision.Operable).To(BeFalse())
			Expect(decision.Msg).To(ContainSubstring("profile"))
			Expect(canceller.calls).To(BeEmpty())
		})

		It("cancels and replaces under the cancel policy", func() {
			policy = conflict.PolicyCancel
			newTracker()

			first := admit(request("r1", record.MutationUpdate, "profile", ""))
			stamp := tracker.Stamp()
			canceller.onCall = func(call cancelCall) {
				tracker.Release(stamp, call.recordID, call.key, first.Token)
			}

			second := admit(request("r1", record.MutationLoad, "profile", ""))
			Expect(second.Operable).To(BeTrue())
			Expect(second.Previous).To(Equal(record.MutationUpdate))
			Expect(second.Token).NotTo(Equal(first.Token))
			Expect(canceller.calls).To(ConsistOf(cancelCall{record.MutationUpdate, "r1", "profile"}))

			op, ok := tracker.Lookup("r1", "profile")
			Expect(ok).To(BeTrue())
			Expect(op.Mutation).To(Equal(record.MutationLoad))

			tracker.Release(stamp, "r1", "profile", first.Token)
			Expect(tracker.HasRecord("r1")).To(BeTrue(), "stale tokens never release the replacement")

			tracker.Release(stamp, "r1", "profile", second.Token)
			Expect(tracker.HasRecord("r1")).To(BeFalse())
		})

		It("denies when the running operation cannot be cancelled", func() {
			policy = conflict.PolicyCancel
			newTracker()
			canceller.err = errors.New("stuck")

			first := admit(request("r1", record.MutationUpdate, "profile", ""))
			Expect(admit(request("r1", record.MutationUpdate, "profile", "")).Operable).To(BeFalse())

			op, ok := tracker.Lookup("r1", "profile")
			Expect(ok).To(BeTrue())
			Expect(op.Mutation).To(Equal(record.MutationUpdate))

			tracker.Release(tracker.Stamp(), "r1", "profile", first.Token)
			Expect(tracker.Pending()).To(BeEmpty())
		})
	})

	It("admits an identical request fresh after the release", func() {
		first := admit(request("r1", record.MutationUpdate, "profile", ""))
		tracker.Release(tracker.Stamp(), "r1", "profile", first.Token)

		second := admit(request("r1", record.MutationUpdate, "profile", ""))
		Expect(second.Operable).To(BeTrue())
		Expect(second.Previous).To(BeEmpty())
	})

	Describe("generations", func() {
		It("forgets all operations on rotate", func() {
			admit(request("r1", record.MutationUpdate, "a", ""))
			admit(request("r2", record.MutationUpdate, "b", ""))
			Expect(tracker.Pending()).To(HaveLen(2))

			previous, dropped, ok := tracker.Rotate(true)
			Expect(ok).To(BeTrue())
			Expect(previous).NotTo(Equal(tracker.Stamp()))
			Expect(dropped).To(ConsistOf(
				HaveField("RecordID", "r1"),
				HaveField("RecordID", "r2"),
			))
			Expect(tracker.Pending()).To(BeEmpty())
		})

		It("refuses to rotate over operations unless forced", func() {
			stamp := tracker.Stamp()
			admit(request("r1", record.MutationUpdate, "a", ""))

			previous, dropped, ok := tracker.Rotate(false)
			Expect(ok).To(BeFalse())
			Expect(previous).To(Equal(stamp))
			Expect(dropped).To(HaveLen(1))
			Expect(tracker.Stamp()).To(Equal(stamp))
			Expect(tracker.Pending()).To(HaveLen(1))

			newTracker()
			_, dropped, ok = tracker.Rotate(false)
			Expect(ok).To(BeTrue())
			Expect(dropped).To(BeEmpty())
		})

		It("hands every operation admitted before the rotation to the caller", func() {
			var wg sync.WaitGroup

			admitted := make(chan string, 20)

			for i := 0; i < 20; i++ {
				wg.Add(1)

				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()

					key := fmt.Sprintf("k%d", i)
					if admit(request("r1", record.MutationUpdate, key, "")).Operable {
						admitted <- key
					}
				}(i)
			}

			_, dropped, ok := tracker.Rotate(true)
			Expect(ok).To(BeTrue())

			wg.Wait()
			close(admitted)

			// an admission either landed in the dropped set or in the new generation
			remaining := tracker.Pending()
			Expect(len(dropped) + len(remaining)).To(Equal(len(admitted)))
		})

		It("downgrades stale admissions to the network policy", func() {
			req := request("r1", record.MutationUpload, "a", "")
			tracker.Rotate(true)

			decision := admit(req)
			Expect(decision.Stale).To(BeTrue())
			Expect(decision.Operable).To(BeFalse())
			Expect(tracker.Pending()).To(BeEmpty())

			maintain = true
			newTracker()
			req = request("r1", record.MutationUpload, "a", "")
			tracker.Rotate(true)
			Expect(admit(req).Operable).To(BeTrue())
		})
	})

	It("stays unlocked while a replaced operation is being cancelled", func() {
		policy = conflict.PolicyCancel
		newTracker()
		admit(request("r1", record.MutationUpdate, "p", ""))

		release := make(chan struct{})
		canceller.onCall = func(cancelCall) { <-release }

		done := make(chan struct{})
		req := request("r1", record.MutationUpdate, "p", "")

		go func() {
			defer GinkgoRecover()
			defer close(done)
			Expect(admit(req).Operable).To(BeTrue())
		}()

		Eventually(func() int {
			canceller.mu.Lock()
			defer canceller.mu.Unlock()

			return len(canceller.calls)
		}).Should(Equal(1))

		// the tracker is unlocked while the cancellation runs
		Expect(admit(request("r2", record.MutationUpdate, "p", "")).Operable).To(BeTrue())
		close(release)
		Eventually(done).Should(BeClosed())
	})

	It("parses policies", func() {
		p, err := conflict.ParsePolicy("cancel")
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(Equal(conflict.PolicyCancel))

		_, err = conflict.ParsePolicy("queue")
		Expect(err).To(HaveOccurred())
	})
})
