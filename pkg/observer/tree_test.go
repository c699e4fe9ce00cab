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

package observer_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/scopesync/internal/fakes"
	"github.com/united-manufacturing-hub/scopesync/pkg/observer"
	"github.com/united-manufacturing-hub/scopesync/pkg/record"
	"github.com/united-manufacturing-hub/scopesync/pkg/scope"
)

var _ = Describe("Tree", func() {
	var (
		syntax  scope.Syntax
		tree    *observer.Tree
		journal *fakes.Journal
		views   map[string]*fakes.View
	)

	attach := func(name, raw string) *fakes.View {
		v := &fakes.View{Name: name, Journal: journal}
		views[name] = v
		tree.Attach(syntax.MustParse(raw), v)

		return v
	}

	BeforeEach(func() {
		syntax = scope.DefaultSyntax()
		tree = observer.NewTree()
		journal = &fakes.Journal{}
		views = map[string]*fakes.View{}

		attach("root", "")
		attach("profile", "profile")
		attach("address", "profile.address")
		attach("avatar", "profile.avatar")
		attach("items", "items")
	})

	It("orders ancestors, the scope itself and its descendants", func() {
		Expect(tree.NotifyMutate(context.Background(), observer.Event{Scope: syntax.MustParse("profile")})).To(Succeed())
		Expect(journal.Entries()).To(Equal([]string{
			"root:onMutate", "profile:onMutate", "address:onMutate", "avatar:onMutate",
		}))
	})

	It("stops at the deepest attached ancestor for unknown scopes", func() {
		Expect(tree.NotifyCommit(context.Background(), observer.Event{Scope: syntax.MustParse("profile.nickname")})).To(Succeed())
		Expect(journal.Entries()).To(Equal([]string{"root:onCommit", "profile:onCommit"}))
	})

	It("waits for each view before calling the next", func() {
		views["profile"].Hold = map[string]bool{"onCancel": true}

		finished := make(chan error, 1)
		go func() {
			finished <- tree.NotifyCancel(context.Background(), observer.Event{Scope: syntax.MustParse("profile.address")})
		}()

		Eventually(journal.Entries).Should(Equal([]string{"root:onCancel", "profile:onCancel"}))
		Consistently(finished, 50*time.Millisecond).ShouldNot(Receive())

		views["profile"].Release()
		Eventually(finished).Should(Receive(BeNil()))
		Expect(journal.Entries()).To(Equal([]string{"root:onCancel", "profile:onCancel", "address:onCancel"}))
	})

	It("gives up waiting when the context ends", func() {
		views["root"].Hold = map[string]bool{"onMutate": true}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Expect(tree.NotifyMutate(ctx, observer.Event{Scope: syntax.MustParse("items")})).To(MatchError(context.Canceled))
		Expect(views["items"].Hooks()).To(BeEmpty())
	})

	It("lets the first error answer win", func() {
		var answers []bool

		n := tree.NotifyError(context.Background(), observer.Event{Scope: syntax.MustParse("items")},
			observer.RetryFunc(func(retry bool) { answers = append(answers, retry) }))
		Expect(n).To(Equal(2))

		retry, ok := views["items"].LastRetry()
		Expect(ok).To(BeTrue())
		retry.Retry(false)

		retry, _ = views["root"].LastRetry()
		retry.Retry(true)

		Expect(answers).To(Equal([]bool{false}))
	})

	It("detaches views", func() {
		extra := &fakes.View{Name: "extra", Journal: journal}
		detach := tree.Attach(syntax.MustParse("items"), extra)
		detach()

		Expect(tree.NotifyMutate(context.Background(), observer.Event{Scope: syntax.MustParse("items")})).To(Succeed())
		Expect(extra.Hooks()).To(BeEmpty())
	})

	It("resolves network collaborators from the nearest scope", func() {
		records := &fakes.Network{}
		profiles := &fakes.Network{}
		tree.SetNetwork(scope.Path{}, records)
		tree.SetNetwork(syntax.MustParse("profile"), profiles)

		n, ok := tree.Network(syntax.MustParse("profile.address"))
		Expect(ok).To(BeTrue())
		Expect(n).To(BeIdenticalTo(profiles))

		n, _ = tree.Network(syntax.MustParse("items.[]"))
		Expect(n).To(BeIdenticalTo(records))

		_, ok = observer.NewTree().Network(syntax.MustParse("items"))
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Watchers", func() {
	It("notifies in registration order until removed", func() {
		var ws observer.Watchers
		var seen []string

		remove := ws.Add(observer.WatchFunc(func(m record.Mutation, _, _ any) { seen = append(seen, "a:"+string(m)) }))
		ws.Add(observer.WatchFunc(func(m record.Mutation, _, _ any) { seen = append(seen, "b:"+string(m)) }))

		ws.Notify(record.MutationLoad, nil, nil)
		remove()
		ws.Notify(record.MutationUpdate, nil, nil)

		Expect(seen).To(Equal([]string{"a:load", "b:load", "b:update"}))
	})
})
