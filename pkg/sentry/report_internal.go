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

package sentry

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const debounceWindow = 2 * time.Hour

type level struct {
	sentry  sentry.Level
	mu      sync.Mutex
	lastHit map[string]time.Time
}

var (
	levelError   = &level{sentry: sentry.LevelError, lastHit: map[string]time.Time{}}
	levelWarning = &level{sentry: sentry.LevelWarning, lastHit: map[string]time.Time{}}
)

// allow reports whether an issue with this title may be sent now.
func (l *level) allow(title string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if shouldDebounceErrors {
		if last, ok := l.lastHit[title]; ok && time.Since(last) < debounceWindow {
			return false
		}
	}

	l.lastHit[title] = time.Now()

	return true
}

// reportFatal sends a fatal error with all goroutines attached, then panics.
func reportFatal(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Error("scopesync has encountered a fatal error and will now terminate.")
	log.Errorf("Error: %s", err)
	log.Errorf("Stack trace: %s", string(debug.Stack()))

	sendSentryEvent(createSentryEventWithContext(sentry.LevelFatal, err, context))
	sentry.Flush(5 * time.Second)

	log.Panic("Fatal error")
}

func reportDebounced(err error, log *zap.SugaredLogger, context map[string]interface{}, l *level) {
	if l.sentry == sentry.LevelWarning {
		log.Warn(err)
	} else {
		log.Error(err)
	}

	if !l.allow(getMeaningfulErrorTitle(err)) {
		return
	}

	sendSentryEvent(createSentryEventWithContext(l.sentry, err, context))
}
