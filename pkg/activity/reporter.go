/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package activity publishes the two notification streams described in
// spec §4.5: progress reports emitted around a trigger firing, and error
// reports emitted when the orchestrator's main loop catches a failure.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleevent"
)

// Severity classifies a progress report.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeveritySuccess Severity = "SUCCESS"
	SeverityError   Severity = "ERROR"
)

// Direction names which half of a trigger's dispatch produced a report.
type Direction string

const (
	DirectionTransitioning Direction = "Transitioning"
	DirectionTransitioned  Direction = "Transitioned"
)

// Publisher is the injected notification-bus collaborator (spec §1
// non-goal: the notification bus is an injected collaborator). SNS is the
// concrete adapter used by pkg/awsapi; tests use an in-package fake.
type Publisher interface {
	Publish(ctx context.Context, subject, body string) error
}

// Reporter is the Activity Reporter component (spec §4.5).
type Reporter struct {
	progress Publisher
	errors   Publisher
}

// New constructs a Reporter. progress and errors may be the same
// Publisher (e.g. two topics on the same SNS client) or distinct ones.
func New(progress, errors Publisher) *Reporter {
	return &Reporter{progress: progress, errors: errors}
}

// ReportProgress publishes one progress notification. subject follows the
// "{direction} from {src} to {dst} via {trigger}" shape specified in
// §4.5; detail is the event rendered as JSON.
func (r *Reporter) ReportProgress(ctx context.Context, severity Severity, direction Direction, nodeID, src, dst, trigger string, event *lifecycleevent.Event) error {
	subject := fmt.Sprintf("%s from %s to %s via %s", direction, src, dst, trigger)

	detail := map[string]any{
		"severity": severity,
		"subject":  subject,
		"node":     nodeID,
	}
	if event != nil {
		detail["event"] = event
		if event.IsLifecycle() && event.Lifecycle != nil {
			detail["lifecycle_hook"] = event.Lifecycle.HookName
			detail["lifecycle_group"] = event.Lifecycle.GroupName
		}
	}
	body, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("activity: marshaling progress detail: %w", err)
	}
	return r.progress.Publish(ctx, subject, string(body))
}

// ReportError publishes one error notification: subject, the error's
// string representation, and a structured traceback.
func (r *Reporter) ReportError(ctx context.Context, subject string, cause error) error {
	payload := map[string]any{
		"subject":   subject,
		"exception": cause.Error(),
		"traceback": string(debug.Stack()),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("activity: marshaling error detail: %w", err)
	}
	return r.errors.Publish(ctx, subject, string(body))
}
