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

// Package catalog declares the static, declarative description of an
// application's workflow: the states a node can be in, the triggers that
// move it between them, and the guard/hook functions attached to each
// trigger. A Catalog value is pure configuration — it holds no runtime
// state and does no I/O; pkg/machine compiles it into something the
// orchestrator can drive.
package catalog

import (
	"context"

	"github.com/samber/lo"

	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleerrors"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleevent"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecyclenode"
)

// ReservedTrigger is the trigger name every descriptor must avoid; it is
// reserved for the machine's own dispatch bookkeeping.
const ReservedTrigger = "trigger"

// FailureState is the reserved destination that the orchestrator forces
// a node into when a trigger fails outside a failure-handling pass.
const FailureState = "failure"

// TransitionInfo is what hook functions receive alongside the event and
// node: the name of the currently-firing trigger and the transition it
// resolved to, so a hook can report "from/to/via" without reaching back
// into machine internals.
type TransitionInfo struct {
	Trigger string
	Source  string
	Dest    string
}

// Hook is a side-effecting step run during prepare/before/after. It may
// return an error, which the orchestrator routes per §7's OperationError
// handling.
type Hook func(ctx context.Context, event *lifecycleevent.Event, node *lifecyclenode.Node, info TransitionInfo) error

// Guard is a condition or unless predicate; it must not mutate state. A
// non-nil error aborts the guard evaluation entirely (used by the
// machine's implicit __is_event_successful condition to raise
// CommandUnsuccessful instead of merely skipping the trigger, per §4.4.2).
type Guard func(ctx context.Context, event *lifecycleevent.Event, node *lifecyclenode.Node, info TransitionInfo) (bool, error)

// Trigger is one named edge-operation attached to a Transition.
type Trigger struct {
	Name string

	Prepare    []Hook
	Conditions []Guard
	Unless     []Guard
	Before     []Hook
	After      []Hook

	// StopAfterTrigger suspends the orchestrator once this trigger
	// completes: Run returns, and the next state's triggers fire only on a
	// later invocation (SuspendAfterTrigger, spec §4.2).
	StopAfterTrigger bool

	// IgnoreErrors suppresses raise_on_failure for this trigger: a failing
	// hook is logged and the state is force-advanced to Dest instead of
	// entering failure handling (spec §7, P5).
	IgnoreErrors bool
}

// Transition is the resolved catalog entry for one (source-state-set,
// dest) pair, carrying every trigger that can fire out of that source set.
type Transition struct {
	// Source is the set of states from which any of Triggers may fire.
	// A single source state is the common case; listing more than one
	// lets several states share one outgoing transition definition.
	Source []string

	// Dest is the destination state. Empty means "no state change": an
	// internal transition whose triggers never move the node.
	Dest string

	// StopAfterStateChange installs an on-enter hook on Dest that
	// suspends the orchestrator immediately after the state change lands
	// (SuspendAfterStateChange, spec §4.2): the caller must be invoked
	// again with a fresh event to continue.
	StopAfterStateChange bool

	Triggers []Trigger
}

// Catalog is the complete, validated transition list for one workflow.
type Catalog struct {
	transitions []Transition
}

// New validates transitions per the catalog invariants (spec §3) and
// returns a Catalog, or a lifecycleerrors.ErrConfiguration wrapping the
// first violation found.
func New(transitions []Transition) (*Catalog, error) {
	seenDest := map[string]bool{}
	for _, t := range transitions {
		if t.Dest != "" {
			if seenDest[t.Dest] {
				return nil, lifecycleerrors.Configuration("duplicate destination state", "dest", t.Dest)
			}
			seenDest[t.Dest] = true
		}
		if len(t.Source) == 0 {
			return nil, lifecycleerrors.Configuration("transition has no source states")
		}
		for _, trig := range t.Triggers {
			if trig.Name == "" {
				return nil, lifecycleerrors.Configuration("trigger name must not be empty")
			}
			if trig.Name == ReservedTrigger {
				return nil, lifecycleerrors.Configuration("trigger name is reserved", "name", trig.Name)
			}
		}
	}
	return &Catalog{transitions: append([]Transition(nil), transitions...)}, nil
}

// Transitions returns the validated transition list in declaration order.
func (c *Catalog) Transitions() []Transition {
	return append([]Transition(nil), c.transitions...)
}

// States returns the union of every source and destination state named
// by the catalog, deduplicated, in first-seen order.
func (c *Catalog) States() []string {
	var states []string
	seen := map[string]bool{}
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		states = append(states, s)
	}
	for _, t := range c.transitions {
		for _, s := range t.Source {
			add(s)
		}
		add(t.Dest)
	}
	return states
}

// TransitionsFromSource returns every Transition that lists state among
// its Source states, in declaration order.
func (c *Catalog) TransitionsFromSource(state string) []Transition {
	return lo.Filter(c.transitions, func(t Transition, _ int) bool {
		return lo.Contains(t.Source, state)
	})
}
