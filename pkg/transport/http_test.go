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

package transport_test

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/h2non/gock"
	"github.com/klauspost/compress/gzip"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/scopesync/pkg/standarderrors"
	"github.com/united-manufacturing-hub/scopesync/pkg/transport"
)

type outcome struct {
	resp *transport.Response
	err  error
}

var _ = Describe("HTTPRequester", func() {
	var (
		requester *transport.HTTPRequester
		results   chan outcome
		onDone    transport.DoneFunc
		onError   transport.ErrorFunc
	)

	BeforeEach(func() {
		client := &http.Client{}
		gock.InterceptClient(client)

		requester = transport.NewHTTPRequester(transport.HTTPConfig{
			BaseURL: "http://api.example.com/v1",
			Timeout: 2 * time.Second,
			Header:  map[string]string{"Authorization": "Bearer token"},
			Client:  client,
		}, zap.NewNop().Sugar())

		results = make(chan outcome, 2)
		onDone = func(resp *transport.Response) { results <- outcome{resp: resp} }
		onError = func(resp *transport.Response, err error) { results <- outcome{resp: resp, err: err} }
	})

	AfterEach(func() {
		gock.Off()
	})

	It("sends JSON bodies relative to the base URL and decodes the answer", func() {
		gock.New("http://api.example.com").
			Put("/v1/records/r1").
			MatchHeader("Authorization", "Bearer token").
			MatchParam("scope", "profile").
			MatchType("json").
			JSON(map[string]any{"name": "ada"}).
			Reply(200).
			JSON(map[string]any{"name": "ada", "version": 2})

		requester.Send(transport.Options{
			Method: http.MethodPut,
			URL:    "/records/r1",
			Query:  map[string]string{"scope": "profile"},
			Body:   map[string]any{"name": "ada"},
		}, onDone, onError, "req-1")

		var got outcome
		Eventually(results).Should(Receive(&got))
		Expect(got.err).NotTo(HaveOccurred())
		Expect(got.resp.StatusCode).To(Equal(200))
		Expect(got.resp.Data).To(Equal(map[string]any{"name": "ada", "version": 2.0}))
		Expect(gock.IsDone()).To(BeTrue())
		Expect(requester.Latency().Max).To(BeNumerically(">", 0))
	})

	It("counts 304 as success", func() {
		gock.New("http://api.example.com").Get("/v1/records").Reply(304)

		requester.Send(transport.Options{URL: "records"}, onDone, onError, "req-1")

		var got outcome
		Eventually(results).Should(Receive(&got))
		Expect(got.err).NotTo(HaveOccurred())
		Expect(got.resp.Data).To(BeNil())
	})

	It("reports error statuses with the response", func() {
		gock.New("http://api.example.com").
			Post("/v1/records").
			Reply(422).
			JSON(map[string]any{"error": "name missing"})

		requester.Send(transport.Options{Method: http.MethodPost, URL: "/records", Body: map[string]any{}}, onDone, onError, "req-1")

		var got outcome
		Eventually(results).Should(Receive(&got))
		Expect(got.err).To(MatchError(standarderrors.ErrNetwork))
		Expect(got.resp.StatusCode).To(Equal(422))
		Expect(got.resp.Data).To(HaveKeyWithValue("error", "name missing"))
	})

	It("reports connection failures without a response", func() {
		gock.New("http://api.example.com").
			Get("/v1/records").
			ReplyError(io.ErrUnexpectedEOF)

		requester.Send(transport.Options{URL: "/records"}, onDone, onError, "req-1")

		var got outcome
		Eventually(results).Should(Receive(&got))
		Expect(got.err).To(MatchError(standarderrors.ErrNetwork))
		Expect(got.resp).To(BeNil())
	})

	It("compresses bodies on request", func() {
		var received []byte

		gock.New("http://api.example.com").
			Post("/v1/records").
			MatchHeader("Content-Encoding", "gzip").
			AddMatcher(func(req *http.Request, _ *gock.Request) (bool, error) {
				zr, err := gzip.NewReader(req.Body)
				if err != nil {
					return false, err
				}

				received, err = io.ReadAll(zr)

				return err == nil, err
			}).
			Reply(201)

		requester.Send(transport.Options{Method: http.MethodPost, URL: "/records", Body: map[string]any{"a": 1}, Gzip: true}, onDone, onError, "req-1")

		var got outcome
		Eventually(results).Should(Receive(&got))
		Expect(got.err).NotTo(HaveOccurred())
		Expect(string(received)).To(MatchJSON(`{"a":1}`))
	})

	It("inflates gzip answers", func() {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, err := zw.Write([]byte(`{"ok":true}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(zw.Close()).To(Succeed())

		gock.New("http://api.example.com").
			Get("/v1/records").
			Reply(200).
			SetHeader("Content-Type", "application/json").
			SetHeader("Content-Encoding", "gzip").
			Body(&buf)

		requester.Send(transport.Options{URL: "/records"}, onDone, onError, "req-1")

		var got outcome
		Eventually(results).Should(Receive(&got))
		Expect(got.err).NotTo(HaveOccurred())
		Expect(got.resp.Data).To(Equal(map[string]any{"ok": true}))
	})

	It("never calls back for aborted requests", func() {
		gock.New("http://api.example.com").
			Get("/v1/slow").
			Reply(200).
			Delay(200 * time.Millisecond).
			JSON(map[string]any{})

		requester.Send(transport.Options{URL: "/slow"}, onDone, onError, "req-1")
		Expect(requester.InFlight()).To(Equal(1))

		requester.Abort("req-1")
		Expect(requester.InFlight()).To(BeZero())
		Consistently(results, 400*time.Millisecond).ShouldNot(Receive())
	})

	It("rejects requests it cannot build", func() {
		requester.Send(transport.Options{URL: "/records", Body: map[string]any{"ch": make(chan int)}}, onDone, onError, "req-1")

		var got outcome
		Eventually(results).Should(Receive(&got))
		Expect(got.err).To(MatchError(standarderrors.ErrRequestConstruction))
	})
})

var _ = Describe("Response", func() {
	It("accepts 2xx and 304 only", func() {
		Expect((&transport.Response{StatusCode: 204}).OK()).To(BeTrue())
		Expect((&transport.Response{StatusCode: 304}).OK()).To(BeTrue())
		Expect((&transport.Response{StatusCode: 302}).OK()).To(BeFalse())

		var missing *transport.Response
		Expect(missing.OK()).To(BeFalse())
	})
})
