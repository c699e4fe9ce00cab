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

package backoff

import (
	"errors"

	"github.com/united-manufacturing-hub/scopesync/pkg/standarderrors"
)

// ErrorCategory tells a retry policy how to respond to a failed operation.
type ErrorCategory int

const (
	// CategoryIgnored marks errors that need no reaction, such as a
	// cancellation the caller asked for.
	CategoryIgnored ErrorCategory = iota

	// CategoryTransient marks failures that may go away when the request is
	// sent again: timeouts, refused connections, 5xx answers.
	CategoryTransient

	// CategoryPermanent marks failures a retry cannot fix: a request that
	// could not be built, a denied admission, a record that does not exist.
	CategoryPermanent
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryIgnored:
		return "ignored"
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CategorizedError is a wrapper that includes the underlying error plus a Category.
type CategorizedError struct {
	Err      error
	Category ErrorCategory
}

// Error returns the original error message.
func (ce *CategorizedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying wrapped error.
func (ce *CategorizedError) Unwrap() error {
	return ce.Err
}

// NewPermanentError wraps err as CategoryPermanent.
func NewPermanentError(err error) error {
	return &CategorizedError{Err: err, Category: CategoryPermanent}
}

// Classify returns the category of err. An explicit CategorizedError wins,
// then the engine's sentinels decide; anything else is transient.
func Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryIgnored
	}

	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}

	switch {
	case errors.Is(err, standarderrors.ErrCancelled):
		return CategoryIgnored
	case errors.Is(err, standarderrors.ErrDenied),
		errors.Is(err, standarderrors.ErrRequestConstruction),
		errors.Is(err, standarderrors.ErrRecordNotFound),
		errors.Is(err, standarderrors.ErrRecordExists),
		errors.Is(err, standarderrors.ErrScopeConflict):
		return CategoryPermanent
	default:
		return CategoryTransient
	}
}
