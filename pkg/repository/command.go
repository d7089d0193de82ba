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

package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/janschumann/autoscaling-lifecycle/pkg/awsapi"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleerrors"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleevent"
)

const commandItemType = "command"

// commandItem is the wire shape of one persisted CommandRecord, stored
// alongside node rows in the same table (ItemType = "command"
// distinguishes it, spec §6.2).
type commandItem struct {
	Ident         string            `dynamodbav:"Ident"`
	ItemType      string            `dynamodbav:"ItemType"`
	HookName      string            `dynamodbav:"HookName"`
	ActionToken   string            `dynamodbav:"ActionToken"`
	GroupName     string            `dynamodbav:"GroupName"`
	InstanceID    string            `dynamodbav:"InstanceID"`
	Transition    string            `dynamodbav:"Transition"`
	Metadata      map[string]any    `dynamodbav:"Metadata"`
	EventName     string            `dynamodbav:"EventName"`
	Comment       string            `dynamodbav:"Comment"`
	Commands      []string          `dynamodbav:"Commands"`
	NodeIDs       []string          `dynamodbav:"NodeIDs"`
}

// CommandRepository is the Repository Layer component for Command
// Records (spec §4.1, §3).
type CommandRepository struct {
	client    awsapi.DynamoDBAPI
	tableName string
}

// NewCommandRepository constructs a CommandRepository over one DynamoDB
// table (normally the same table NodeRepository uses).
func NewCommandRepository(client awsapi.DynamoDBAPI, tableName string) *CommandRepository {
	return &CommandRepository{client: client, tableName: tableName}
}

// Register persists a command record, created when the orchestrator
// dispatches a remote command (spec §3, Command Record lifecycle).
func (r *CommandRepository) Register(ctx context.Context, id string, record lifecycleevent.CommandRecord) error {
	item, err := attributevalue.MarshalMap(toCommandItem(id, record))
	if err != nil {
		return fmt.Errorf("repository: marshaling command %s: %w", id, err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: registering command %s: %w", id, err)
	}
	return nil
}

// Get loads a command record without consuming it.
func (r *CommandRepository) Get(ctx context.Context, id string) (*lifecycleevent.CommandRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       key(id),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: getting command %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, lifecycleerrors.CommandNotFound(id)
	}
	return fromItem(out.Item)
}

// Pop loads and deletes a command record atomically from the caller's
// point of view: it fails with CommandNotFound if absent, otherwise
// deletes it before returning (spec §3: "consumed read-and-deleted
// exactly once").
func (r *CommandRepository) Pop(ctx context.Context, id string) (*lifecycleevent.CommandRecord, error) {
	record, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.Delete(ctx, id); err != nil {
		return nil, err
	}
	return record, nil
}

// Delete removes a command record.
func (r *CommandRepository) Delete(ctx context.Context, id string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       key(id),
	})
	if err != nil {
		return fmt.Errorf("repository: deleting command %s: %w", id, err)
	}
	return nil
}

func toCommandItem(id string, record lifecycleevent.CommandRecord) commandItem {
	return commandItem{
		Ident:       id,
		ItemType:    commandItemType,
		HookName:    record.Lifecycle.HookName,
		ActionToken: record.Lifecycle.ActionToken,
		GroupName:   record.Lifecycle.GroupName,
		InstanceID:  record.Lifecycle.InstanceID,
		Transition:  string(record.Lifecycle.Transition),
		Metadata:    record.Lifecycle.Metadata,
		EventName:   record.EventName,
		Comment:     record.Comment,
		Commands:    record.Commands,
		NodeIDs:     record.NodeIDs,
	}
}

func fromItem(item map[string]types.AttributeValue) (*lifecycleevent.CommandRecord, error) {
	var ci commandItem
	if err := attributevalue.UnmarshalMap(item, &ci); err != nil {
		return nil, fmt.Errorf("repository: unmarshaling command item: %w", err)
	}
	return &lifecycleevent.CommandRecord{
		Lifecycle: lifecycleevent.LifecycleContext{
			HookName:    ci.HookName,
			ActionToken: ci.ActionToken,
			GroupName:   ci.GroupName,
			InstanceID:  ci.InstanceID,
			Transition:  lifecycleevent.Transition(ci.Transition),
			Metadata:    ci.Metadata,
		},
		EventName: ci.EventName,
		Comment:   ci.Comment,
		Commands:  ci.Commands,
		NodeIDs:   ci.NodeIDs,
	}, nil
}
