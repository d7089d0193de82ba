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

// Package orchestrator drives one Model through its compiled Machine for
// one incoming event: pre-flight checks, the trigger dispatch loop, and
// failure routing into the reserved "failure" state (spec §4.4). It is
// the sole concern of this specification — every other package exists to
// let this one stay small.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"github.com/janschumann/autoscaling-lifecycle/pkg/activity"
	"github.com/janschumann/autoscaling-lifecycle/pkg/catalog"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleerrors"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleevent"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecyclenode"
	"github.com/janschumann/autoscaling-lifecycle/pkg/machine"
)

// Model is the narrow slice of *model.Model the Orchestrator drives.
// Declared here (rather than imported) to keep ownership downward-only:
// pkg/model never imports pkg/orchestrator (design notes §9).
type Model interface {
	machine.Committer

	Catalog() *catalog.Catalog
	Event() *lifecycleevent.Event
	Node() *lifecyclenode.Node
	State() string
	SeenStates() []string
	AllowStateUpdates(allow bool)
	Initialize(ctx context.Context, event *lifecycleevent.Event) error
}

// Orchestrator is the Orchestrator component (spec §4.4).
type Orchestrator struct {
	model    Model
	machine  *machine.Machine
	reporter *activity.Reporter
	log      logr.Logger
}

// New constructs an Orchestrator: it builds a Machine from model's
// catalog, then enables the Model's state updates. The machine's initial
// state tracks model.State() automatically since Model.Initialize sets
// it before Run is called.
func New(m Model, reporter *activity.Reporter, log logr.Logger) *Orchestrator {
	mach := machine.New(m.Catalog(), reporter)
	m.AllowStateUpdates(true)
	return &Orchestrator{model: m, machine: mach, reporter: reporter, log: log}
}

// Run initializes model against event, performs the pre-flight checks,
// and drives the dispatch loop to completion or suspension (spec §4.4).
func (o *Orchestrator) Run(ctx context.Context, event *lifecycleevent.Event) error {
	if event.Kind == lifecycleevent.KindScheduled {
		o.log.V(1).Info("scheduled event is classified but not processed by the orchestrator core")
		return nil
	}

	if err := o.model.Initialize(ctx, event); err != nil {
		return fmt.Errorf("orchestrator: initializing model: %w", err)
	}

	if err := o.preflight(event, o.model.Node()); err != nil {
		return err
	}

	return o.runWithFailureHandling(ctx)
}

// preflight applies the three checks of spec §4.4 before the main loop
// is allowed to run.
func (o *Orchestrator) preflight(event *lifecycleevent.Event, node *lifecyclenode.Node) error {
	if event.IsLifecycle() && event.Lifecycle != nil {
		switch event.Lifecycle.Transition {
		case lifecycleevent.TransitionLaunching:
			if node.State() != lifecyclenode.StateNew {
				return lifecycleerrors.IllegalTransition("launching event on a non-new node",
					"node", node.ID(), "state", node.State())
			}
		case lifecycleevent.TransitionTerminating:
			if node.State() == lifecyclenode.StateNew {
				return lifecycleerrors.IllegalTransition("terminating event on a new node",
					"node", node.ID())
			}
		}
	}

	if len(o.machine.TriggersFor(o.model.State())) == 0 {
		return lifecycleerrors.NoTriggers(o.model.State())
	}
	return nil
}

// runWithFailureHandling wraps mainLoop with the outer failure frame of
// spec §4.4: the first failure marks the event failed, forces the
// Model's state to catalog.FailureState, and re-enters the loop with
// triggers_for("failure"); a second failure during that pass is fatal
// and is reported and rethrown, combined with the original cause.
func (o *Orchestrator) runWithFailureHandling(ctx context.Context) error {
	err := o.mainLoop(ctx)
	if err == nil {
		return nil
	}

	event := o.model.Event()
	event.MarkFailed()
	if commitErr := o.model.SetState(ctx, catalog.FailureState); commitErr != nil {
		return multierr.Append(err, fmt.Errorf("orchestrator: forcing failure state: %w", commitErr))
	}

	if failErr := o.mainLoop(ctx); failErr != nil {
		return multierr.Append(err, failErr)
	}
	return nil
}

// mainLoop is the trigger dispatch loop of spec §4.4's pseudocode.
func (o *Orchestrator) mainLoop(ctx context.Context) error {
	triggers := o.machine.TriggersFor(o.model.State())

	for len(triggers) > 0 {
		startState := o.model.State()

		for _, t := range triggers {
			raiseOnFailure := true
			result, err := o.machine.Dispatch(ctx, t, o.model.State(), o.model.Event(), o.model.Node(), o.model, &raiseOnFailure)
			if err != nil {
				o.reportError(ctx, err)
				if raiseOnFailure {
					return err
				}
				o.log.Info("ignoring failure", "trigger", t, "error", err.Error())
				if result.Dest != "" {
					if commitErr := o.model.SetState(ctx, result.Dest); commitErr != nil {
						return fmt.Errorf("orchestrator: force-advancing after ignored failure: %w", commitErr)
					}
				}
			} else {
				switch result.Outcome {
				case machine.SuspendAfterStateChange, machine.SuspendAfterTrigger:
					return nil
				}
			}

			if o.model.State() != startState {
				break
			}
		}

		if o.model.State() == startState {
			break
		}
		triggers = o.machine.TriggersFor(o.model.State())
	}
	return nil
}

func (o *Orchestrator) reportError(ctx context.Context, cause error) {
	if o.reporter == nil {
		return
	}
	subject := fmt.Sprintf("orchestrator error on node %s", o.model.Node().ID())
	if pubErr := o.reporter.ReportError(ctx, subject, cause); pubErr != nil {
		o.log.Error(pubErr, "failed to publish error report")
	}
}
