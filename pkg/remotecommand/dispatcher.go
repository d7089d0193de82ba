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

// Package remotecommand dispatches SSM remote commands against managed
// nodes and registers the Command Record an application workflow needs
// to correlate the eventual RemoteCommandResult event (spec §3, Command
// Record lifecycle). It is application-workflow support, not orchestrator
// core (spec §1 non-goal), grounded the same way the Model's built-in
// triggers wrap their AWS collaborator.
package remotecommand

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/janschumann/autoscaling-lifecycle/pkg/awsapi"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleevent"
	"github.com/janschumann/autoscaling-lifecycle/pkg/waiter"
)

// CommandRegistry is the narrow slice of CommandRepository a Dispatcher
// needs to persist what it sent.
type CommandRegistry interface {
	Register(ctx context.Context, id string, record lifecycleevent.CommandRecord) error
}

// Dispatcher sends SSM documents to managed nodes and registers the
// resulting Command Record.
type Dispatcher struct {
	client   awsapi.SSMAPI
	registry CommandRegistry
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(client awsapi.SSMAPI, registry CommandRegistry) *Dispatcher {
	return &Dispatcher{client: client, registry: registry}
}

// Send runs documentName with parameters against targetIDs, then
// registers a CommandRecord keyed by the resulting command id so the
// eventual RemoteCommandResult event can be paired back to lifecycle
// (spec §3). The command id is returned for logging/correlation.
func (d *Dispatcher) Send(ctx context.Context, documentName string, targetIDs []string, parameters map[string][]string, record lifecycleevent.CommandRecord) (string, error) {
	out, err := d.client.SendCommand(ctx, &ssm.SendCommandInput{
		DocumentName: aws.String(documentName),
		InstanceIds:  targetIDs,
		Parameters:   parameters,
		ClientToken:  aws.String(uuid.NewString()),
	})
	if err != nil {
		return "", fmt.Errorf("remotecommand: sending %s to %v: %w", documentName, targetIDs, err)
	}
	commandID := aws.ToString(out.Command.CommandId)

	record.NodeIDs = targetIDs
	if err := d.registry.Register(ctx, commandID, record); err != nil {
		return "", fmt.Errorf("remotecommand: registering command %s: %w", commandID, err)
	}
	return commandID, nil
}

// InvocationStatus translates one instance's invocation of commandID
// into the CommandStatus vocabulary the Model's is_event_successful
// guard understands.
func (d *Dispatcher) InvocationStatus(ctx context.Context, commandID, instanceID string) (lifecycleevent.CommandStatus, error) {
	out, err := d.client.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
		CommandId:  aws.String(commandID),
		InstanceId: aws.String(instanceID),
	})
	if err != nil {
		return "", fmt.Errorf("remotecommand: getting invocation %s/%s: %w", commandID, instanceID, err)
	}
	return lifecycleevent.CommandStatus(out.Status), nil
}

// AwaitAgentOnline polls SSM's instance information until instanceID's
// agent reports Online, bounded by waiter.AgentOnline (original_source's
// AgentIsOnline waiter model: delay=10s, maxAttempts=20).
func (d *Dispatcher) AwaitAgentOnline(ctx context.Context, instanceID string) error {
	return waiter.Poll(ctx, waiter.AgentOnline, func(ctx context.Context) (bool, error) {
		out, err := d.client.DescribeInstanceInformation(ctx, &ssm.DescribeInstanceInformationInput{
			Filters: []types.InstanceInformationStringFilter{{
				Key:    aws.String("InstanceIds"),
				Values: []string{instanceID},
			}},
		})
		if err != nil {
			return false, fmt.Errorf("remotecommand: describing instance information for %s: %w", instanceID, err)
		}
		return lo.SomeBy(out.InstanceInformationList, func(info types.InstanceInformation) bool {
			return info.PingStatus == types.PingStatusOnline
		}), nil
	})
}
