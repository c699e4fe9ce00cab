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
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/scopesync/pkg/observer"
)

// RetrierConfig bounds the automatic retries of one scope.
type RetrierConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

// DefaultRetrierConfig retries five times, starting at half a second.
func DefaultRetrierConfig() RetrierConfig {
	return RetrierConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxRetries:      5,
	}
}

// Retrier is a view that answers failure prompts on its own. Transient
// failures are retried after an exponential delay until the attempt budget of
// the scope runs out; permanent ones are denied right away. Commit and cancel
// reset the budget.
type Retrier struct {
	cfg    RetrierConfig
	logger *zap.SugaredLogger

	mu       sync.Mutex
	attempts map[string]backoff.BackOff
}

// NewRetrier creates a retry view.
func NewRetrier(cfg RetrierConfig, logger *zap.SugaredLogger) *Retrier {
	return &Retrier{
		cfg:      cfg,
		logger:   logger,
		attempts: make(map[string]backoff.BackOff),
	}
}

func attemptKey(evt observer.Event) string {
	parts := append([]string(nil), evt.RecordIDs...)
	parts = append(parts, string(evt.Mutation), evt.ChildID)

	for _, seg := range evt.Scope {
		parts = append(parts, seg.Kind.String()+":"+seg.Name)
	}

	return strings.Join(parts, "|")
}

func (r *Retrier) policy(key string) backoff.BackOff {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.attempts[key]
	if !ok {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = r.cfg.InitialInterval
		exp.MaxInterval = r.cfg.MaxInterval
		// the attempt count bounds the retries, not the elapsed time
		exp.MaxElapsedTime = 0
		exp.Reset()

		b = backoff.WithMaxRetries(exp, r.cfg.MaxRetries)
		r.attempts[key] = b
	}

	return b
}

func (r *Retrier) forget(evt observer.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.attempts, attemptKey(evt))
}

// OnMutate implements observer.View.
func (r *Retrier) OnMutate(_ context.Context, _ observer.Event, done func()) {
	done()
}

// OnCommit implements observer.View.
func (r *Retrier) OnCommit(_ context.Context, evt observer.Event, done func()) {
	r.forget(evt)
	done()
}

// OnCancel implements observer.View.
func (r *Retrier) OnCancel(_ context.Context, evt observer.Event, done func()) {
	r.forget(evt)
	done()
}

// OnError implements observer.View.
func (r *Retrier) OnError(ctx context.Context, evt observer.Event, retry observer.Retry) {
	category := Classify(evt.Err)
	if category != CategoryTransient {
		r.logger.Debugf("Not retrying %s on %v: %s error: %v", evt.Mutation, evt.RecordIDs, category, evt.Err)
		retry.Retry(false)

		return
	}

	key := attemptKey(evt)

	delay := r.policy(key).NextBackOff()
	if delay == backoff.Stop {
		r.logger.Infof("Giving up on %s on %v after %d retries: %v", evt.Mutation, evt.RecordIDs, r.cfg.MaxRetries, evt.Err)
		r.forget(evt)
		retry.Retry(false)

		return
	}

	r.logger.Debugf("Retrying %s on %v in %s: %v", evt.Mutation, evt.RecordIDs, delay, evt.Err)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			retry.Retry(true)
		case <-ctx.Done():
		}
	}()
}
