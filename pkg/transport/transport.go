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

// Package transport sends the network requests of mutation builds.
//
// Builds only see the Requester interface. Each request is registered under a
// request id so it can be aborted independently of the build that issued it.
// An aborted request never calls back.
package transport

import "net/http"

// Options describe one outgoing request.
type Options struct {
	Method string
	// URL is absolute or relative to the requester's base URL.
	URL    string
	Header map[string]string
	Query  map[string]string
	// Body is encoded as JSON unless it already is a []byte.
	Body any
	// Gzip compresses the request body.
	Gzip bool
}

// Response is what came back from the remote side.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Data is the decoded JSON body, if the body was JSON.
	Data any
}

// OK reports whether the response counts as success: 2xx or 304.
func (r *Response) OK() bool {
	if r == nil {
		return false
	}

	return (r.StatusCode >= 200 && r.StatusCode < 300) || r.StatusCode == http.StatusNotModified
}

// DoneFunc receives an accepted response.
type DoneFunc func(resp *Response)

// ErrorFunc receives a failed request. resp is nil when nothing came back.
type ErrorFunc func(resp *Response, err error)

// Requester is the only way the sync engine talks to the network.
type Requester interface {
	// Send issues the request asynchronously and calls exactly one of onDone
	// and onError, unless the request is aborted first.
	Send(opts Options, onDone DoneFunc, onError ErrorFunc, requestID string)
	// Abort drops the request registered under requestID.
	Abort(requestID string)
}
