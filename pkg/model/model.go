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

// Package model implements the Model component (spec §4.3): it couples
// one Event to one Node, owns the current state during one Orchestrator
// invocation, and is the only thing allowed to commit state changes to
// the store. It also hosts the two built-in triggers every catalog may
// reference: complete_lifecycle_action and remove_from_db.
package model

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/go-logr/logr"

	"github.com/janschumann/autoscaling-lifecycle/pkg/awsapi"
	"github.com/janschumann/autoscaling-lifecycle/pkg/catalog"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleevent"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecyclenode"
	"github.com/janschumann/autoscaling-lifecycle/pkg/repository"
	"github.com/janschumann/autoscaling-lifecycle/pkg/waiter"
)

const finishedCloudInit = "finished_cloud_init"

// NodeStore is the narrow slice of NodeRepository the Model needs.
type NodeStore interface {
	Get(ctx context.Context, id string) (*lifecyclenode.Node, error)
	Update(ctx context.Context, node *lifecyclenode.Node, changes map[string]any) error
	Delete(ctx context.Context, node *lifecyclenode.Node) error
	HasState(ctx context.Context, id, state string) (bool, error)
}

var _ NodeStore = (*repository.NodeRepository)(nil)

// CommandStore is the narrow slice of CommandRepository the Model needs
// to pair a RemoteCommandResult event with its persisted context.
type CommandStore interface {
	Pop(ctx context.Context, id string) (*lifecycleevent.CommandRecord, error)
}

var _ CommandStore = (*repository.CommandRepository)(nil)

// Model is constructed fresh for every incoming event (design notes §9).
type Model struct {
	nodes    NodeStore
	commands CommandStore
	autoscal awsapi.AutoscalingAPI
	log      logr.Logger
	catalog  *catalog.Catalog

	event              *lifecycleevent.Event
	node               *lifecyclenode.Node
	state              string
	allowStateUpdates  bool
	seenStates         []string
}

// New constructs a Model. cat is the application-supplied transition
// catalog this Model's Orchestrator will compile into a Machine (spec
// §6.3).
func New(nodes NodeStore, commands CommandStore, autoscal awsapi.AutoscalingAPI, log logr.Logger, cat *catalog.Catalog) *Model {
	return &Model{nodes: nodes, commands: commands, autoscal: autoscal, log: log, catalog: cat}
}

// Catalog returns the transition catalog this Model was built with.
func (m *Model) Catalog() *catalog.Catalog { return m.catalog }

// Event returns the event currently being processed.
func (m *Model) Event() *lifecycleevent.Event { return m.event }

// Node returns the node currently being processed.
func (m *Model) Node() *lifecyclenode.Node { return m.node }

// State returns the Model's current state.
func (m *Model) State() string { return m.state }

// SeenStates returns the sequence of states committed during the current
// processing pass, in order (spec P2).
func (m *Model) SeenStates() []string { return append([]string(nil), m.seenStates...) }

// AllowStateUpdates flips the gate the state setter checks. The
// Orchestrator calls this once, after building its Machine from this
// Model's catalog, to avoid spurious updates during construction (spec
// §4.4).
func (m *Model) AllowStateUpdates(allow bool) { m.allowStateUpdates = allow }

// Initialize resolves the node correlated with event, sets the Model's
// state from the node's persisted state, and resets the seen-states log
// (spec §4.3). For a RemoteCommandResult event it first pairs event with
// its persisted command record, failing with CommandNotFound if none
// exists. It then performs the cloud-init wait when applicable.
func (m *Model) Initialize(ctx context.Context, event *lifecycleevent.Event) error {
	id, err := m.resolveNodeID(ctx, event)
	if err != nil {
		return err
	}

	node, err := m.nodes.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("model: loading node %s: %w", id, err)
	}

	m.event = event
	m.node = node
	m.state = node.State()
	m.seenStates = []string{node.State()}

	if node.State() == lifecyclenode.StateNew && node.State() != finishedCloudInit {
		m.log.V(1).Info("waiting for cloud-init to finish", "node", id)
		if err := waiter.Poll(ctx, waiter.ScanCountGt0, func(ctx context.Context) (bool, error) {
			return m.nodes.HasState(ctx, id, finishedCloudInit)
		}); err != nil {
			return fmt.Errorf("model: waiting for cloud-init on %s: %w", id, err)
		}

		node, err = m.nodes.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("model: reloading node %s after cloud-init: %w", id, err)
		}
		m.node = node
		m.state = node.State()
	}

	return nil
}

func (m *Model) resolveNodeID(ctx context.Context, event *lifecycleevent.Event) (string, error) {
	switch event.Kind {
	case lifecycleevent.KindAutoscalingLifecycle:
		return event.Lifecycle.InstanceID, nil
	case lifecycleevent.KindRemoteCommandResult:
		record, err := m.commands.Pop(ctx, event.CommandID)
		if err != nil {
			return "", err
		}
		event.PairWithCommand(*record)
		return event.Lifecycle.InstanceID, nil
	default:
		return "", fmt.Errorf("model: event kind %q is not processed by the orchestrator core", event.Kind)
	}
}

// SetState implements machine.Committer: it ignores writes until
// AllowStateUpdates(true) was called, otherwise commits the new state to
// the Model, appends it to the seen-states log, and persists it via the
// node repository (spec §4.3).
func (m *Model) SetState(ctx context.Context, state string) error {
	if !m.allowStateUpdates {
		return nil
	}
	if err := m.nodes.Update(ctx, m.node, map[string]any{lifecyclenode.PropertyState: state}); err != nil {
		return fmt.Errorf("model: committing state %s: %w", state, err)
	}
	m.state = state
	m.seenStates = append(m.seenStates, state)
	return nil
}

// CompleteLifecycleAction is the complete_lifecycle_action built-in
// trigger (spec §4.3): it informs the autoscaling collaborator of
// CONTINUE/ABANDON using the event's action token, and for LAUNCHING
// events additionally waits for the activity to reach 100% before
// returning. It matches catalog.Hook's signature so catalogs reference
// it directly in a trigger's After/Before list.
func (m *Model) CompleteLifecycleAction(ctx context.Context, event *lifecycleevent.Event, node *lifecyclenode.Node, info catalog.TransitionInfo) error {
	if event.Lifecycle == nil {
		return fmt.Errorf("model: complete_lifecycle_action requires lifecycle context")
	}

	if err := m.notifyOutcome(ctx, event); err != nil {
		return err
	}

	if event.Lifecycle.Transition == lifecycleevent.TransitionLaunching {
		if err := m.awaitActivityComplete(ctx, event); err != nil {
			return err
		}
	}

	m.log.Info("completed lifecycle action", "node", node.ID(), "result", event.LifecycleResult())
	return nil
}

// notifyOutcome is complete_lifecycle_action's first phase: telling
// autoscaling CONTINUE or ABANDON (SPEC_FULL.md §13's restored two-phase
// structure).
func (m *Model) notifyOutcome(ctx context.Context, event *lifecycleevent.Event) error {
	_, err := m.autoscal.CompleteLifecycleAction(ctx, &autoscaling.CompleteLifecycleActionInput{
		LifecycleHookName:     aws.String(event.Lifecycle.HookName),
		AutoScalingGroupName:  aws.String(event.Lifecycle.GroupName),
		LifecycleActionToken:  aws.String(event.Lifecycle.ActionToken),
		LifecycleActionResult: aws.String(string(event.LifecycleResult())),
		InstanceId:            aws.String(event.Lifecycle.InstanceID),
	})
	if err != nil {
		return fmt.Errorf("model: completing lifecycle action: %w", err)
	}
	return nil
}

// awaitActivityComplete is complete_lifecycle_action's second phase: for
// LAUNCHING events, blocking on the collaborator's activity log until
// progress reaches 100% (spec §4.3).
func (m *Model) awaitActivityComplete(ctx context.Context, event *lifecycleevent.Event) error {
	return waiter.Poll(ctx, waiter.ActivityComplete, func(ctx context.Context) (bool, error) {
		out, err := m.autoscal.DescribeScalingActivities(ctx, &autoscaling.DescribeScalingActivitiesInput{
			AutoScalingGroupName: aws.String(event.Lifecycle.GroupName),
		})
		if err != nil {
			return false, fmt.Errorf("model: describing scaling activities: %w", err)
		}
		for _, a := range out.Activities {
			if aws.ToFloat64(a.Progress) >= 100 {
				return true, nil
			}
		}
		return false, nil
	})
}

// RemoveFromDB is the remove_from_db built-in trigger (spec §4.3): it
// deletes the node from the Node Repository.
func (m *Model) RemoveFromDB(ctx context.Context, event *lifecycleevent.Event, node *lifecyclenode.Node, info catalog.TransitionInfo) error {
	if err := m.nodes.Delete(ctx, node); err != nil {
		return fmt.Errorf("model: removing node %s: %w", node.ID(), err)
	}
	return nil
}
