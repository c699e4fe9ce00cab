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

package pipeline_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/scopesync/pkg/pipeline"
	"github.com/united-manufacturing-hub/scopesync/pkg/standarderrors"
)

type trail struct {
	mu      sync.Mutex
	visited []string
}

func (t *trail) add(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.visited = append(t.visited, name)
}

func (t *trail) get() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string(nil), t.visited...)
}

type args struct {
	failAt   string
	attempts int
	gate     chan bool
}

func newArgs(failAt string) args {
	return args{failAt: failAt, gate: make(chan bool, 1)}
}

var _ = Describe("Worker", func() {
	var (
		ctx      context.Context
		visited  *trail
		sendCtx  chan context.Context
		worker   *pipeline.Worker[args]
		passing  func(name string) pipeline.Callback[args]
		newTable func() pipeline.Config[args]
	)

	BeforeEach(func() {
		ctx = context.Background()
		visited = &trail{}
		sendCtx = make(chan context.Context, 1)

		passing = func(name string) pipeline.Callback[args] {
			return func(_ context.Context, b *pipeline.Build[args], advance pipeline.Advance) {
				visited.add(name)
				advance(b.Args().failAt != name)
			}
		}

		newTable = func() pipeline.Config[args] {
			return pipeline.Config[args]{
				Name:        "test",
				Entry:       "prepare",
				CancelEntry: "cancel_notify",
				States: []pipeline.State[args]{
					{Name: "prepare", Flow: pipeline.FlowSuccess, Next: "send", Fail: "cancel_notify", Callback: passing("prepare")},
					{Name: "send", Flow: pipeline.FlowSuccess, Prev: "prepare", Next: "commit", Fail: "error_notify",
						Callback: func(stateCtx context.Context, b *pipeline.Build[args], advance pipeline.Advance) {
							visited.add("send")
							b.NewRequest()
							select {
							case sendCtx <- stateCtx:
							default:
							}

							select {
							case ok := <-b.Args().gate:
								b.ClearRequest()
								advance(ok)
							case <-stateCtx.Done():
							}
						}},
					{Name: "commit", Flow: pipeline.FlowSuccess, Prev: "send", Fail: "dead", Callback: passing("commit")},
					{Name: "error_notify", Flow: pipeline.FlowFailure, Prev: "send", Next: "send", Fail: "cancel_notify",
						Callback: func(_ context.Context, b *pipeline.Build[args], advance pipeline.Advance) {
							visited.add("error_notify")
							b.Update(func(a *args) { a.attempts++ })
							if b.Args().attempts > 2 {
								advance(false)

								return
							}

							b.Hold(func(retry bool) { advance(retry) })
						}},
					{Name: "cancel_notify", Flow: pipeline.FlowCancel, Next: "abort", Callback: passing("cancel_notify")},
					{Name: "abort", Flow: pipeline.FlowCancel, Prev: "cancel_notify", Callback: passing("abort")},
					{Name: "dead", Flow: pipeline.FlowFailure, Prev: "commit", Fail: "", Callback: passing("dead")},
				},
				Interruptible: []string{"prepare", "send", "error_notify"},
			}
		}

		var err error
		worker, err = pipeline.NewWorker(newTable(), zap.NewNop().Sugar())
		Expect(err).NotTo(HaveOccurred())
	})

	wait := func(b *pipeline.Build[args]) pipeline.Outcome {
		Eventually(b.Done()).Should(BeClosed())

		return b.Outcome()
	}

	start := func(id string, a args) *pipeline.Build[args] {
		b, err := worker.Start(ctx, id, a)
		Expect(err).NotTo(HaveOccurred())

		return b
	}

	It("walks the success flow to its end", func() {
		a := newArgs("")
		b := start("b1", a)

		a.gate <- true
		outcome := wait(b)

		Expect(visited.get()).To(Equal([]string{"prepare", "send", "commit"}))
		Expect(outcome.State).To(Equal("commit"))
		Expect(outcome.Flow).To(Equal(pipeline.FlowSuccess))
		Expect(outcome.Aborted).To(BeFalse())
		Expect(outcome.DeadEnd).To(BeFalse())
		Expect(worker.RunningIDs()).To(BeEmpty())
	})

	It("follows the fail target of a success state", func() {
		a := newArgs("commit")
		b := start("b1", a)

		a.gate <- true
		outcome := wait(b)

		Expect(visited.get()).To(Equal([]string{"prepare", "send", "commit", "dead"}))
		Expect(outcome.State).To(Equal("dead"))
		Expect(outcome.Flow).To(Equal(pipeline.FlowFailure))
		Expect(outcome.DeadEnd).To(BeFalse())
	})

	It("stops on a failure without fail target", func() {
		b := start("b1", newArgs("abort"))

		_, ok := worker.Abort("b1")
		Expect(ok).To(BeTrue())

		_, ok = worker.Abort("unknown")
		Expect(ok).To(BeFalse())

		outcome := wait(b)
		Expect(outcome.State).To(Equal("abort"))
		Expect(outcome.Aborted).To(BeTrue())
		Expect(outcome.DeadEnd).To(BeTrue())
	})

	It("retries from the failure flow when the hold is answered", func() {
		a := newArgs("")
		b := start("b1", a)

		a.gate <- false
		Eventually(func() bool {
			_, ok := worker.Held("b1")

			return ok
		}).Should(BeTrue())

		retry, _ := worker.Held("b1")
		retry(true)
		a.gate <- true

		outcome := wait(b)
		Expect(visited.get()).To(Equal([]string{"prepare", "send", "error_notify", "send", "commit"}))
		Expect(outcome.State).To(Equal("commit"))

		_, ok := worker.Held("b1")
		Expect(ok).To(BeFalse())
	})

	It("moves into the cancel flow when the failure is denied", func() {
		a := newArgs("")
		b := start("b1", a)

		a.gate <- false
		Eventually(func() bool {
			_, ok := worker.Held("b1")

			return ok
		}).Should(BeTrue())

		deny, _ := worker.Held("b1")
		deny(false)

		outcome := wait(b)
		Expect(visited.get()).To(Equal([]string{"prepare", "send", "error_notify", "cancel_notify", "abort"}))
		Expect(outcome.Flow).To(Equal(pipeline.FlowCancel))
		Expect(outcome.Aborted).To(BeFalse())
	})

	It("ignores a late answer to a hold that was replaced", func() {
		a := newArgs("")
		b := start("b1", a)

		isHeld := func() bool {
			_, ok := worker.Held("b1")

			return ok
		}

		a.gate <- false
		Eventually(isHeld).Should(BeTrue())

		first, _ := worker.Held("b1")
		first(true)
		Expect(isHeld()).To(BeFalse())

		a.gate <- false
		Eventually(visited.get).Should(HaveLen(5))
		Eventually(isHeld).Should(BeTrue())

		first(false)
		Expect(isHeld()).To(BeTrue(), "the second failure must stay parked")
		Consistently(b.Done(), 50*time.Millisecond).ShouldNot(BeClosed())

		second, _ := worker.Held("b1")
		second(true)
		a.gate <- true

		outcome := wait(b)
		Expect(outcome.State).To(Equal("commit"))
		Expect(visited.get()).To(Equal([]string{"prepare", "send", "error_notify", "send", "error_notify", "send", "commit"}))
	})

	It("aborts a waiting state and cancels its context", func() {
		b := start("b1", newArgs(""))

		var stateCtx context.Context
		Eventually(sendCtx).Should(Receive(&stateCtx))
		Expect(worker.Requests()).To(HaveLen(1))

		_, ok := worker.Abort("b1")
		Expect(ok).To(BeTrue())

		outcome := wait(b)
		Expect(stateCtx.Err()).To(MatchError(context.Canceled))
		Expect(outcome.Aborted).To(BeTrue())
		Expect(outcome.State).To(Equal("abort"))
		Expect(b.Aborted()).To(BeTrue())
		Expect(visited.get()).To(Equal([]string{"prepare", "send", "cancel_notify", "abort"}))
		Expect(worker.Requests()).To(BeEmpty())
	})

	It("keeps build ids exclusive until the build ends or is detached", func() {
		firstArgs := newArgs("")
		first := start("b1", firstArgs)

		_, err := worker.Start(ctx, "b1", newArgs(""))
		Expect(err).To(MatchError(standarderrors.ErrBuildRunning))

		detached, ok := worker.Detach("b1")
		Expect(ok).To(BeTrue())
		Expect(detached).To(BeIdenticalTo(first))

		secondArgs := newArgs("")
		second := start("b1", secondArgs)

		firstArgs.gate <- true
		Eventually(first.Done()).Should(BeClosed())

		running, ok := worker.Running("b1")
		Expect(ok).To(BeTrue(), "the detached build must not evict its successor")
		Expect(running).To(BeIdenticalTo(second))

		secondArgs.gate <- true
		wait(second)
		Expect(worker.RunningIDs()).To(BeEmpty())
	})

	It("turns callback panics into failures", func() {
		table := newTable()
		table.States[0].Callback = func(context.Context, *pipeline.Build[args], pipeline.Advance) {
			panic("broken callback")
		}

		panicking, err := pipeline.NewWorker(table, zap.NewNop().Sugar())
		Expect(err).NotTo(HaveOccurred())

		b, err := panicking.Start(ctx, "b1", newArgs(""))
		Expect(err).NotTo(HaveOccurred())

		outcome := wait(b)
		Expect(outcome.Flow).To(Equal(pipeline.FlowCancel))
		Expect(visited.get()).To(Equal([]string{"cancel_notify", "abort"}))
	})

	Describe("OnEnd", func() {
		It("sees a dead end caused by a panicking callback", func() {
			ended := make(chan pipeline.Outcome, 1)

			table := newTable()
			table.OnEnd = func(_ *pipeline.Build[args], outcome pipeline.Outcome) {
				ended <- outcome
			}
			table.States[5].Callback = func(context.Context, *pipeline.Build[args], pipeline.Advance) {
				panic("broken abort")
			}

			ending, err := pipeline.NewWorker(table, zap.NewNop().Sugar())
			Expect(err).NotTo(HaveOccurred())

			b, err := ending.Start(ctx, "b1", newArgs("prepare"))
			Expect(err).NotTo(HaveOccurred())

			var outcome pipeline.Outcome
			Eventually(ended).Should(Receive(&outcome))
			Expect(outcome.State).To(Equal("abort"))
			Expect(outcome.DeadEnd).To(BeTrue())
			Expect(outcome.Err).To(MatchError(ContainSubstring("broken abort")))

			Eventually(b.Done()).Should(BeClosed())
			Expect(b.Outcome().Err).To(MatchError(ContainSubstring("broken abort")))
			Expect(ending.RunningIDs()).To(BeEmpty())
		})

		It("closes Done even when the hook panics", func() {
			table := newTable()
			table.OnEnd = func(*pipeline.Build[args], pipeline.Outcome) {
				panic("broken hook")
			}

			ending, err := pipeline.NewWorker(table, zap.NewNop().Sugar())
			Expect(err).NotTo(HaveOccurred())

			b, err := ending.Start(ctx, "b1", newArgs("prepare"))
			Expect(err).NotTo(HaveOccurred())

			Eventually(b.Done()).Should(BeClosed())
			Expect(b.Outcome().State).To(Equal("abort"))
		})
	})

	Describe("validation", func() {
		It("rejects dangling references", func() {
			table := newTable()
			table.States[0].Next = "nowhere"
			_, err := pipeline.NewWorker(table, zap.NewNop().Sugar())
			Expect(err).To(MatchError(ContainSubstring("unknown state \"nowhere\"")))
		})

		It("rejects a cancel entry outside the cancel flow", func() {
			table := newTable()
			table.CancelEntry = "commit"
			_, err := pipeline.NewWorker(table, zap.NewNop().Sugar())
			Expect(err).To(MatchError(ContainSubstring("not in the cancel flow")))
		})

		It("rejects a predecessor that never leads to the state", func() {
			table := newTable()
			table.States[2].Prev = "prepare"
			_, err := pipeline.NewWorker(table, zap.NewNop().Sugar())
			Expect(err).To(MatchError(ContainSubstring("does not follow")))
		})

		It("rejects interruptible cancel states", func() {
			table := newTable()
			table.Interruptible = []string{"abort"}
			_, err := pipeline.NewWorker(table, zap.NewNop().Sugar())
			Expect(err).To(HaveOccurred())
		})
	})
})
