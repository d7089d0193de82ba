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

// Package lifecycleevent parses and classifies the raw notifications this
// system reacts to: autoscaling lifecycle hooks, remote-command results,
// and scheduled/other EventBridge events. It does not unwrap message
// envelopes (SNS/SQS/EventBridge plumbing is external, see spec §1) — it
// starts from the already-unwrapped JSON detail payload.
package lifecycleevent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind discriminates the three event variants of the data model.
type Kind string

const (
	KindAutoscalingLifecycle Kind = "AutoscalingLifecycle"
	KindRemoteCommandResult  Kind = "RemoteCommandResult"
	KindScheduled            Kind = "Scheduled"
)

// Transition is the autoscaling lifecycle transition an instance is
// undergoing.
type Transition string

const (
	TransitionLaunching   Transition = "LAUNCHING"
	TransitionTerminating Transition = "TERMINATING"
	TransitionUnknown     Transition = ""
)

const (
	sourceAutoscaling = "aws.autoscaling"
	sourceSSM         = "aws.ssm"
	sourceEvents      = "aws.events"

	rawLaunching   = "autoscaling:EC2_INSTANCE_LAUNCHING"
	rawTerminating = "autoscaling:EC2_INSTANCE_TERMINATING"
)

// CommandStatus is the terminal status of a dispatched remote command.
type CommandStatus string

const (
	StatusSuccess   CommandStatus = "Success"
	StatusFailed    CommandStatus = "Failed"
	StatusCancelled CommandStatus = "Cancelled"
	StatusTimedOut  CommandStatus = "TimedOut"
)

// LifecycleResult is the verdict an Event yields back to the autoscaling
// collaborator via complete_lifecycle_action.
type LifecycleResult string

const (
	ResultContinue LifecycleResult = "CONTINUE"
	ResultAbandon  LifecycleResult = "ABANDON"
)

// LifecycleContext carries the autoscaling-hook coordinates needed to
// complete a lifecycle action, whether they arrived directly on an
// AutoscalingLifecycle event or were restored from a persisted command
// record for a RemoteCommandResult event.
type LifecycleContext struct {
	HookName      string
	ActionToken   string
	GroupName     string
	InstanceID    string
	Transition    Transition
	Metadata      map[string]any
	EventName     string
	TargetNodeIDs []string
}

// Event is the parsed, classified representation of one raw notification.
type Event struct {
	Kind Kind

	// Set when Kind == KindAutoscalingLifecycle or the event was paired
	// with a command record (Kind == KindRemoteCommandResult).
	Lifecycle *LifecycleContext

	// Set when Kind == KindRemoteCommandResult.
	CommandID     string
	CommandStatus CommandStatus
	TargetIDs     []string

	// Set when Kind == KindScheduled.
	ResourcePath string

	failed bool
}

// raw is the shape of the already-unwrapped notification detail this
// package accepts. Application ingress code is responsible for stripping
// any SNS/SQS/EventBridge envelope before calling Parse (spec §1 non-goal).
type raw struct {
	Source    string          `json:"source"`
	Resources []string        `json:"resources"`
	Detail    json.RawMessage `json:"detail"`
}

type autoscalingDetail struct {
	LifecycleActionToken    string          `json:"LifecycleActionToken"`
	AutoScalingGroupName    string          `json:"AutoScalingGroupName"`
	LifecycleHookName       string          `json:"LifecycleHookName"`
	EC2InstanceID           string          `json:"EC2InstanceId"`
	LifecycleTransition     string          `json:"LifecycleTransition"`
	NotificationMetadata    json.RawMessage `json:"NotificationMetadata"`
}

type ssmDetail struct {
	CommandID string `json:"command-id"`
	Status    string `json:"status"`
}

// CommandRecord is the persisted pairing data a RemoteCommandResult event
// is joined with on load (see pkg/repository.CommandRepository).
type CommandRecord struct {
	Lifecycle LifecycleContext
	EventName string
	Comment   string
	Commands  []string
	NodeIDs   []string
}

// Parse classifies a raw JSON notification. For aws.ssm sources, the
// caller must separately look up the CommandRecord (via the command
// repository) and call PairWithCommand; Parse alone cannot resolve
// CommandNotFound since it has no store access.
func Parse(data []byte) (*Event, error) {
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("lifecycleevent: decoding envelope: %w", err)
	}

	switch r.Source {
	case sourceAutoscaling:
		return parseAutoscaling(r)
	case sourceSSM:
		return parseSSM(r)
	case sourceEvents:
		return parseScheduled(r)
	default:
		return nil, fmt.Errorf("lifecycleevent: unrecognized event source %q", r.Source)
	}
}

func parseAutoscaling(r raw) (*Event, error) {
	var d autoscalingDetail
	if err := json.Unmarshal(r.Detail, &d); err != nil {
		return nil, fmt.Errorf("lifecycleevent: decoding autoscaling detail: %w", err)
	}

	metadata, err := normalizeMetadata(d.NotificationMetadata)
	if err != nil {
		return nil, err
	}

	return &Event{
		Kind: KindAutoscalingLifecycle,
		Lifecycle: &LifecycleContext{
			HookName:    d.LifecycleHookName,
			ActionToken: d.LifecycleActionToken,
			GroupName:   d.AutoScalingGroupName,
			InstanceID:  d.EC2InstanceID,
			Transition:  transitionFromRaw(d.LifecycleTransition),
			Metadata:    metadata,
		},
	}, nil
}

func parseSSM(r raw) (*Event, error) {
	var d ssmDetail
	if err := json.Unmarshal(r.Detail, &d); err != nil {
		return nil, fmt.Errorf("lifecycleevent: decoding ssm detail: %w", err)
	}
	if len(r.Resources) == 0 {
		return nil, fmt.Errorf("lifecycleevent: aws.ssm event has no resources")
	}
	targets := make([]string, 0, len(r.Resources))
	for _, arn := range r.Resources {
		targets = append(targets, lastARNSegment(arn))
	}
	return &Event{
		Kind:          KindRemoteCommandResult,
		CommandID:     d.CommandID,
		CommandStatus: CommandStatus(d.Status),
		TargetIDs:     targets,
	}, nil
}

func parseScheduled(r raw) (*Event, error) {
	if len(r.Resources) == 0 {
		return nil, fmt.Errorf("lifecycleevent: aws.events event has no resources")
	}
	return &Event{
		Kind:         KindScheduled,
		ResourcePath: lastARNSegment(r.Resources[0]),
	}, nil
}

// PairWithCommand restores the lifecycle context a RemoteCommandResult
// event needs from a persisted command record (spec §3, Command Record
// lifecycle: "consumed read-and-deleted exactly once").
func (e *Event) PairWithCommand(record CommandRecord) {
	lc := record.Lifecycle
	e.Lifecycle = &lc
	e.Lifecycle.EventName = record.EventName
	e.Lifecycle.TargetNodeIDs = record.NodeIDs
}

// MarkFailed records that a failure occurred while processing this event,
// which flips IsSuccessful/LifecycleResult for the remainder of this
// invocation. It is idempotent.
func (e *Event) MarkFailed() { e.failed = true }

// IsLifecycle reports whether lifecycle context is present, true for
// AutoscalingLifecycle events and for RemoteCommandResult events once
// paired with their command record.
func (e *Event) IsLifecycle() bool { return e.Lifecycle != nil }

// IsSuccessful is true unless a failure has been recorded on this event,
// or — for a command-result event — the command status is not Success.
func (e *Event) IsSuccessful() bool {
	if e.failed {
		return false
	}
	if e.Kind == KindRemoteCommandResult && e.CommandStatus != StatusSuccess {
		return false
	}
	return true
}

// LifecycleResult computes CONTINUE iff no recorded failure AND
// (transition == TERMINATING OR IsSuccessful()); else ABANDON.
func (e *Event) LifecycleResult() LifecycleResult {
	if e.failed {
		return ResultAbandon
	}
	if e.Lifecycle != nil && e.Lifecycle.Transition == TransitionTerminating {
		return ResultContinue
	}
	if e.IsSuccessful() {
		return ResultContinue
	}
	return ResultAbandon
}

func transitionFromRaw(s string) Transition {
	switch s {
	case rawLaunching:
		return TransitionLaunching
	case rawTerminating:
		return TransitionTerminating
	default:
		return TransitionUnknown
	}
}

// normalizeMetadata handles NotificationMetadata arriving either as a
// nested JSON object or as a JSON-encoded string (an SNS round-trip
// artifact — see SPEC_FULL.md §13, grounded on original_source's
// event.py/entity/event.go handling of the same field).
func normalizeMetadata(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	trimmed := strings.TrimSpace(string(raw))
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("lifecycleevent: decoding string-encoded metadata: %w", err)
		}
		if encoded == "" {
			return map[string]any{}, nil
		}
		raw = json.RawMessage(encoded)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("lifecycleevent: decoding metadata object: %w", err)
	}
	return m, nil
}

func lastARNSegment(arn string) string {
	idx := strings.LastIndexAny(arn, "/:")
	if idx == -1 {
		return arn
	}
	return arn[idx+1:]
}
