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

// Package dockercatalog is a worked application workflow: registering a
// Docker-engine node with a cluster on launch, and unwinding it on
// termination. It is application code, not orchestrator core (spec §1
// non-goal: "concrete workflow definitions are application code; the
// orchestrator only executes them") — kept here as the catalog
// cmd/orchestratord wires up; its own tests walk it through pkg/machine.
package dockercatalog

import (
	"context"

	"github.com/janschumann/autoscaling-lifecycle/pkg/catalog"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleevent"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecyclelog"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecyclenode"
)

// Node types this catalog distinguishes its worker/manager branch by.
const (
	TypeWorker  = "worker"
	TypeManager = "manager"
)

// Launch states.
const (
	StateRegistering  = "registering"
	StateInitializing = "initializing"
	StateLabeled      = "labeled"
	StateOnline       = "online"
	StateCompleting   = "completing"
	StateRunning      = "running"
)

// Terminate states.
const (
	StateRemovingFromCluster = "removing_from_cluster"
	StateUpdatingDNS         = "updating_dns"
	StateCompletingTerminate = "completing_terminate"
	StateRemoved             = "removed"
)

// Failure-chain state.
const StateAcknowledgedFailure = "acknowledged_failure"

// New builds the Docker node catalog: register -> initializing ->
// labeled (worker only) -> online -> completing -> running for launch;
// removing_from_cluster -> updating_dns -> completing_terminate ->
// removed for termination; plus a one-step failure acknowledgement
// chain out of the reserved failure state.
//
// completeLifecycle and removeFromDB are the Model's two built-in
// triggers (spec §4.3). applyLabels dispatches the remote command that
// actually labels a worker node; awaitAgentOnline blocks the transition
// to online until the node's SSM agent reports up. All four are
// accepted as plain catalog.Hook values rather than concrete
// *model.Model/*remotecommand.Dispatcher types so the catalog can be
// built before its collaborators are fully wired — callers typically
// close over a not-yet-assigned *model.Model variable (see
// cmd/orchestratord).
func New(completeLifecycle, removeFromDB, applyLabels, awaitAgentOnline catalog.Hook) (*catalog.Catalog, error) {
	return catalog.New([]catalog.Transition{
		{
			Source: []string{lifecyclenode.StateNew},
			Dest:   StateRegistering,
			Triggers: []catalog.Trigger{{
				Name:   "register",
				Before: []catalog.Hook{logHook("registering node with cluster")},
			}},
		},
		{
			Source: []string{StateRegistering},
			Dest:   StateInitializing,
			Triggers: []catalog.Trigger{{
				Name:   "start_init",
				Before: []catalog.Hook{logHook("starting docker-engine init")},
			}},
		},
		{
			Source: []string{StateInitializing},
			Dest:   StateLabeled,
			Triggers: []catalog.Trigger{{
				Name:       "add_labels",
				Conditions: []catalog.Guard{isWorker},
				Before:     []catalog.Hook{logHook("applying worker labels")},
				After:      []catalog.Hook{applyLabels},
			}},
		},
		{
			Source: []string{StateInitializing, StateLabeled},
			Dest:   StateOnline,
			Triggers: []catalog.Trigger{{
				Name:   "put_online",
				Before: []catalog.Hook{logHook("marking node online"), awaitAgentOnline},
			}},
		},
		{
			Source: []string{StateOnline},
			Dest:   StateCompleting,
			Triggers: []catalog.Trigger{{
				Name:  "complete",
				After: []catalog.Hook{completeLifecycle},
			}},
		},
		{
			Source: []string{StateCompleting},
			Dest:   StateRunning,
			Triggers: []catalog.Trigger{{
				Name: "mark_running",
			}},
		},
		{
			Source: []string{StateRunning},
			Dest:   StateRemovingFromCluster,
			Triggers: []catalog.Trigger{{
				Name:   "start_removal",
				Before: []catalog.Hook{logHook("removing node from cluster")},
			}},
		},
		{
			Source: []string{StateRemovingFromCluster},
			Dest:   StateUpdatingDNS,
			Triggers: []catalog.Trigger{{
				Name:   "update_dns",
				Before: []catalog.Hook{logHook("updating dns records")},
			}},
		},
		{
			Source: []string{StateUpdatingDNS},
			Dest:   StateCompletingTerminate,
			Triggers: []catalog.Trigger{{
				Name:  "complete_terminate",
				After: []catalog.Hook{completeLifecycle},
			}},
		},
		{
			Source: []string{StateCompletingTerminate},
			Dest:   StateRemoved,
			Triggers: []catalog.Trigger{{
				Name:  "remove",
				After: []catalog.Hook{removeFromDB},
			}},
		},
		{
			Source: []string{catalog.FailureState},
			Dest:   StateAcknowledgedFailure,
			Triggers: []catalog.Trigger{{
				Name:         "acknowledge_failure",
				IgnoreErrors: true,
				Before:       []catalog.Hook{logHook("acknowledging failed workflow")},
			}},
		},
	})
}

func isWorker(ctx context.Context, event *lifecycleevent.Event, node *lifecyclenode.Node, info catalog.TransitionInfo) (bool, error) {
	return node.Type() == TypeWorker, nil
}

func logHook(msg string) catalog.Hook {
	return func(ctx context.Context, event *lifecycleevent.Event, node *lifecyclenode.Node, info catalog.TransitionInfo) error {
		lifecyclelog.FromContext(ctx).V(1).Info(msg, "node", node.ID(), "trigger", info.Trigger)
		return nil
	}
}
