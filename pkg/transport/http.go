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
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/scopesync/pkg/constants"
	"github.com/united-manufacturing-hub/scopesync/pkg/metrics"
	"github.com/united-manufacturing-hub/scopesync/pkg/safejson"
	"github.com/united-manufacturing-hub/scopesync/pkg/standarderrors"
)

// HTTPConfig configures an HTTPRequester.
type HTTPConfig struct {
	BaseURL     string
	Timeout     time.Duration
	InsecureTLS bool
	// Gzip compresses every request body, not only those that ask for it.
	Gzip bool
	// Header is added to every request.
	Header map[string]string
	// Client replaces the default client, mostly for tests.
	Client *http.Client
}

type inflight struct {
	cancel  context.CancelFunc
	aborted bool
}

// HTTPRequester is the net/http implementation of Requester.
type HTTPRequester struct {
	cfg       HTTPConfig
	client    *http.Client
	latencies *expiremap.ExpireMap[time.Time, time.Duration]
	logger    *zap.SugaredLogger

	mu       sync.Mutex
	inflight map[string]*inflight
}

// NewClient returns a client with HTTP/2 disabled.
func NewClient(insecureTLS bool, timeout time.Duration) *http.Client {
	transport := &http.Transport{
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
	}

	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed lab setups
	}

	return &http.Client{Transport: transport, Timeout: timeout}
}

// NewHTTPRequester creates a requester.
func NewHTTPRequester(cfg HTTPConfig, logger *zap.SugaredLogger) *HTTPRequester {
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultRequestTimeout
	}

	client := cfg.Client
	if client == nil {
		client = NewClient(cfg.InsecureTLS, cfg.Timeout)
	}

	return &HTTPRequester{
		cfg:       cfg,
		client:    client,
		latencies: expiremap.NewEx[time.Time, time.Duration](constants.LatencyWindow, constants.LatencyWindow),
		logger:    logger,
		inflight:  make(map[string]*inflight),
	}
}

// Send implements Requester.
func (r *HTTPRequester) Send(opts Options, onDone DoneFunc, onError ErrorFunc, requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	entry := &inflight{cancel: cancel}

	r.mu.Lock()
	if previous, ok := r.inflight[requestID]; ok {
		previous.aborted = true
		previous.cancel()
	}

	r.inflight[requestID] = entry
	r.mu.Unlock()

	go func() {
		defer cancel()

		resp, err := r.do(ctx, opts)

		r.mu.Lock()
		aborted := entry.aborted
		if r.inflight[requestID] == entry {
			delete(r.inflight, requestID)
		}
		r.mu.Unlock()

		if aborted {
			r.logger.Debugf("Dropping response of aborted request %s", requestID)

			return
		}

		switch {
		case err != nil:
			onError(resp, err)
		case !resp.OK():
			onError(resp, fmt.Errorf("%w: %s %s answered %d", standarderrors.ErrNetwork, opts.Method, opts.URL, resp.StatusCode))
		default:
			onDone(resp)
		}
	}()
}

// Abort implements Requester.
func (r *HTTPRequester) Abort(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.inflight[requestID]
	if !ok {
		return
	}

	entry.aborted = true
	entry.cancel()
	delete(r.inflight, requestID)
}

// InFlight returns the number of requests still waiting for an answer.
func (r *HTTPRequester) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.inflight)
}

// Latency summarizes the round trips of the last window.
func (r *HTTPRequester) Latency() Latency {
	return CalculateLatency(r.latencies)
}

func (r *HTTPRequester) do(ctx context.Context, opts Options) (*Response, error) {
	req, err := r.newRequest(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", standarderrors.ErrRequestConstruction, err)
	}

	start := time.Now()
	response, err := r.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		metrics.ObserveTransport(req.Method, 0, elapsed)
		metrics.IncErrorCount(metrics.ComponentTransport, req.URL.Host)

		return nil, fmt.Errorf("%w: %w", standarderrors.ErrNetwork, enhanceConnectionError(err))
	}

	defer func() {
		if err := response.Body.Close(); err != nil {
			r.logger.Debugf("Error closing response body: %v", err)
		}
	}()

	metrics.ObserveTransport(req.Method, response.StatusCode, elapsed)
	r.latencies.Set(time.Now(), elapsed)

	body, err := readBody(response)
	if err != nil {
		return &Response{StatusCode: response.StatusCode, Header: response.Header},
			fmt.Errorf("%w: reading response body: %w", standarderrors.ErrNetwork, err)
	}

	resp := &Response{StatusCode: response.StatusCode, Header: response.Header, Body: body}

	if len(body) > 0 && strings.Contains(response.Header.Get("Content-Type"), "json") {
		data, err := safejson.DecodeTree(body)
		if err != nil {
			return resp, fmt.Errorf("%w: decoding response body: %w", standarderrors.ErrNetwork, err)
		}

		resp.Data = data
	}

	return resp, nil
}

func (r *HTTPRequester) newRequest(ctx context.Context, opts Options) (*http.Request, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := r.resolveURL(opts)
	if err != nil {
		return nil, err
	}

	var body io.Reader

	var encoding string

	if opts.Body != nil {
		payload, ok := opts.Body.([]byte)
		if !ok {
			payload, err = safejson.Marshal(opts.Body)
			if err != nil {
				return nil, fmt.Errorf("encoding request body: %w", err)
			}
		}

		if opts.Gzip || r.cfg.Gzip {
			payload, err = compress(payload)
			if err != nil {
				return nil, err
			}

			encoding = "gzip"
		}

		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	req.Header.Set("Accept-Encoding", "gzip")

	for k, v := range r.cfg.Header {
		req.Header.Set(k, v)
	}

	for k, v := range opts.Header {
		req.Header.Set(k, v)
	}

	return req, nil
}

func (r *HTTPRequester) resolveURL(opts Options) (string, error) {
	target := opts.URL
	if !strings.Contains(target, "://") {
		target = strings.TrimSuffix(r.cfg.BaseURL, "/") + "/" + strings.TrimPrefix(target, "/")
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return "", err
	}

	if len(opts.Query) > 0 {
		query := parsed.Query()
		for k, v := range opts.Query {
			query.Set(k, v)
		}

		parsed.RawQuery = query.Encode()
	}

	return parsed.String(), nil
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer

	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("compressing request body: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing request body: %w", err)
	}

	return buf.Bytes(), nil
}

// readBody reads the body, inflating it if the server sent gzip.
func readBody(response *http.Response) ([]byte, error) {
	if response.Header.Get("Content-Encoding") != "gzip" {
		return io.ReadAll(response.Body)
	}

	zr, err := gzip.NewReader(response.Body)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	return io.ReadAll(zr)
}

// enhanceConnectionError adds context to common connection errors.
func enhanceConnectionError(err error) error {
	msg := err.Error()

	switch {
	case strings.Contains(msg, "EOF"):
		return fmt.Errorf("connection closed unexpectedly before receiving response: %w", err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("request timed out: %w", err)
	case strings.Contains(msg, "connection refused"):
		return fmt.Errorf("connection refused: %w", err)
	default:
		return fmt.Errorf("connection error: %w (no response received, status code 0)", err)
	}
}
