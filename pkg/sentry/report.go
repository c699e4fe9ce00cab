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
	"fmt"

	"go.uber.org/zap"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext reports an issue with additional tags and extras.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, context map[string]interface{}) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch issueType {
	case IssueTypeFatal:
		reportFatal(err, log, context)
	case IssueTypeError:
		reportDebounced(err, log, context, levelError)
	case IssueTypeWarning:
		reportDebounced(err, log, context, levelWarning)
	}
}

// ReportBuildError reports a failure inside a pipeline build.
func ReportBuildError(log *zap.SugaredLogger, worker, buildID, state string, err error) {
	ReportIssueWithContext(err, IssueTypeError, log, map[string]interface{}{
		"worker":   worker,
		"build_id": buildID,
		"state":    state,
	})
}

// ReportIntegrityError reports a record or scope inconsistency found mid-mutation.
func ReportIntegrityError(log *zap.SugaredLogger, mutation, recordID, scope string, err error) {
	ReportIssueWithContext(err, IssueTypeWarning, log, map[string]interface{}{
		"mutation":  mutation,
		"record_id": recordID,
		"scope":     scope,
	})
}
