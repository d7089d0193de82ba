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

// Package machine compiles a catalog.Catalog into the runtime structure
// the orchestrator drives: which triggers fire out of which state, and
// what happens, in order, when one of them is dispatched (spec §4.2).
//
// Construction applies the five augmentation rules of §4.2: an implicit
// success condition on every trigger that doesn't ignore errors, an
// activity-reporting hook before and after every trigger body, and an
// on-enter suspension marker on any destination with
// stop_after_state_change set. Suspension is expressed as a tagged
// Outcome return value rather than control-flow exceptions (spec §9).
package machine

import (
	"context"

	"github.com/samber/lo"

	"github.com/janschumann/autoscaling-lifecycle/pkg/activity"
	"github.com/janschumann/autoscaling-lifecycle/pkg/catalog"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleerrors"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleevent"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecyclenode"
)

// Outcome is the tagged result of a single Dispatch call.
type Outcome int

const (
	// Skipped means the trigger's guard (conditions/unless) did not pass;
	// no hooks ran and no state changed.
	Skipped Outcome = iota
	// Fired means the trigger's body ran to completion. The caller must
	// check the committer's resulting state to know whether it changed.
	Fired
	// SuspendAfterTrigger means the trigger's stop_after_trigger flag
	// fired: the orchestrator must return, resuming with the next
	// state's triggers on a later call.
	SuspendAfterTrigger
	// SuspendAfterStateChange means the destination state's
	// stop_after_state_change on-enter marker fired: the orchestrator
	// must return and await the next external event entirely.
	SuspendAfterStateChange
)

// Committer is the narrow slice of Model that Dispatch needs: the
// ability to commit a new state. Machine never holds a Model reference
// directly (design notes §9: ownership is downward-only).
type Committer interface {
	SetState(ctx context.Context, state string) error
}

// resolved is one compiled (trigger, source-state) pairing.
type resolved struct {
	trigger catalog.Trigger
	source  string
	dest    string
}

// Machine is the compiled runtime view of a Catalog.
type Machine struct {
	triggersByState map[string][]string          // state -> ordered trigger names
	resolvedByKey   map[string]map[string]resolved // state -> trigger name -> resolved
	suspendOnEnter  map[string]bool                // dest state -> stop_after_state_change
	reporter        *activity.Reporter
}

// New compiles cat into a Machine. reporter is used by the implicit
// before/after activity-reporting hooks (construction rules 3-4, §4.2);
// it may be nil in tests that don't care about notifications.
func New(cat *catalog.Catalog, reporter *activity.Reporter) *Machine {
	m := &Machine{
		triggersByState: map[string][]string{},
		resolvedByKey:   map[string]map[string]resolved{},
		suspendOnEnter:  map[string]bool{},
		reporter:        reporter,
	}
	for _, t := range cat.Transitions() {
		if t.StopAfterStateChange && t.Dest != "" {
			m.suspendOnEnter[t.Dest] = true
		}
		for _, trig := range t.Triggers {
			r := resolved{trigger: trig, dest: t.Dest}
			for _, src := range t.Source {
				r.source = src
				if m.resolvedByKey[src] == nil {
					m.resolvedByKey[src] = map[string]resolved{}
				}
				m.resolvedByKey[src][trig.Name] = r
				m.triggersByState[src] = append(m.triggersByState[src], trig.Name)
			}
		}
	}
	return m
}

// TriggersFor returns the ordered list of trigger names whose transition
// has state among its source states.
func (m *Machine) TriggersFor(state string) []string {
	return append([]string(nil), m.triggersByState[state]...)
}

// Result is the full outcome of one Dispatch call. Dest carries the
// resolved transition's destination state whenever one was resolved —
// including on an error return — so the orchestrator can force-advance
// past an ignored failure (spec §4.4, "state := resolved_transition.dest").
type Result struct {
	Outcome Outcome
	Dest    string
}

// Dispatch resolves triggerName against currentState and runs its full
// lifecycle: prepare, conditions/unless guard, before hooks, the state
// change itself (via committer), and after hooks. raiseOnFailure is
// reset to true by the caller before each call (spec main loop,
// "raise_on_failure := true # reset per trigger") and is cleared here
// when the resolved trigger has IgnoreErrors set — the implicit
// __ignore_operation_failure prepare hook of construction rule 2,
// applied directly rather than through the generic Hook indirection
// since it has no user-visible effect beyond this flag (see DESIGN.md).
func (m *Machine) Dispatch(
	ctx context.Context,
	triggerName, currentState string,
	event *lifecycleevent.Event,
	node *lifecyclenode.Node,
	committer Committer,
	raiseOnFailure *bool,
) (Result, error) {
	byTrigger, ok := m.resolvedByKey[currentState]
	if !ok {
		return Result{Outcome: Skipped}, lifecycleerrors.NoTriggers(currentState)
	}
	r, ok := byTrigger[triggerName]
	if !ok {
		return Result{Outcome: Skipped}, lifecycleerrors.NoTriggers(currentState)
	}

	if r.trigger.IgnoreErrors {
		*raiseOnFailure = false
	}

	info := catalog.TransitionInfo{Trigger: triggerName, Source: r.source, Dest: r.dest}
	failed := Result{Outcome: Skipped, Dest: r.dest}

	for _, hook := range r.trigger.Prepare {
		if err := hook(ctx, event, node, info); err != nil {
			return failed, lifecycleerrors.OperationFailed(err, "phase", "prepare", "trigger", triggerName)
		}
	}

	if !r.trigger.IgnoreErrors {
		ok, err := isEventSuccessful(event)
		if err != nil {
			return failed, err
		}
		if !ok {
			return Result{Outcome: Skipped}, nil
		}
	}

	for _, guard := range r.trigger.Conditions {
		ok, err := guard(ctx, event, node, info)
		if err != nil {
			return failed, err
		}
		if !ok {
			return Result{Outcome: Skipped}, nil
		}
	}
	for _, guard := range r.trigger.Unless {
		ok, err := guard(ctx, event, node, info)
		if err != nil {
			return failed, err
		}
		if ok {
			return Result{Outcome: Skipped}, nil
		}
	}

	if m.reporter != nil {
		_ = m.reporter.ReportProgress(ctx, activity.SeverityInfo, activity.DirectionTransitioning, node.ID(), r.source, r.dest, triggerName, event)
	}
	for _, hook := range r.trigger.Before {
		if err := hook(ctx, event, node, info); err != nil {
			return failed, lifecycleerrors.OperationFailed(err, "phase", "before", "trigger", triggerName)
		}
	}

	suspendState := false
	if r.dest != "" {
		if err := committer.SetState(ctx, r.dest); err != nil {
			return failed, lifecycleerrors.OperationFailed(err, "phase", "commit", "trigger", triggerName)
		}
		if m.suspendOnEnter[r.dest] {
			suspendState = true
		}
	}

	for _, hook := range r.trigger.After {
		if err := hook(ctx, event, node, info); err != nil {
			return failed, lifecycleerrors.OperationFailed(err, "phase", "after", "trigger", triggerName)
		}
	}
	if m.reporter != nil {
		_ = m.reporter.ReportProgress(ctx, activity.SeveritySuccess, activity.DirectionTransitioned, node.ID(), r.source, r.dest, triggerName, event)
	}

	if suspendState {
		return Result{Outcome: SuspendAfterStateChange, Dest: r.dest}, nil
	}
	if r.trigger.StopAfterTrigger {
		return Result{Outcome: SuspendAfterTrigger, Dest: r.dest}, nil
	}
	return Result{Outcome: Fired, Dest: r.dest}, nil
}

// isEventSuccessful is the implicit __is_event_successful condition
// (§4.4.2): it returns event.IsSuccessful(), and additionally raises
// CommandUnsuccessful when the event is a command result whose status
// was not Success — this is what lets failure handling kick in without
// an explicit check in every trigger.
func isEventSuccessful(event *lifecycleevent.Event) (bool, error) {
	if event.Kind == lifecycleevent.KindRemoteCommandResult && event.CommandStatus != lifecycleevent.StatusSuccess {
		return false, lifecycleerrors.CommandUnsuccessful(string(event.CommandStatus))
	}
	return event.IsSuccessful(), nil
}

// statesWithSuspendOnEnter exposes which destination states carry a
// stop_after_state_change marker, for tests asserting P2/P4-adjacent
// properties without reaching into Machine internals.
func (m *Machine) statesWithSuspendOnEnter() []string {
	return lo.Keys(m.suspendOnEnter)
}
