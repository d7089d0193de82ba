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

// Package repository implements the durable get/put/update/delete and
// correlation-lookup operations over the key-value store (spec §4.1,
// §6.2). Both repositories share one DynamoDB table keyed by Ident; node
// rows additionally carry ItemType/ItemStatus, matching the column names
// original_source's repository.py uses (see SPEC_FULL.md §13).
package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/samber/lo"

	"github.com/janschumann/autoscaling-lifecycle/pkg/awsapi"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleerrors"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecyclenode"
)

const (
	colIdent  = "Ident"
	colType   = "ItemType"
	colStatus = "ItemStatus"

	unknownType = "unknown"

	stateTerminating = "terminating"
	stateRemoving    = "removing"
)

// NodeRepository is the Repository Layer component for Node (spec §4.1).
type NodeRepository struct {
	client    awsapi.DynamoDBAPI
	tableName string
}

// NewNodeRepository constructs a NodeRepository over one DynamoDB table.
func NewNodeRepository(client awsapi.DynamoDBAPI, tableName string) *NodeRepository {
	return &NodeRepository{client: client, tableName: tableName}
}

// Get loads a node by id, or synthesizes one with type "unknown" and
// state "new" if absent (spec §4.1).
func (r *NodeRepository) Get(ctx context.Context, id string) (*lifecyclenode.Node, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       key(id),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: getting node %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return lifecyclenode.New(id, unknownType), nil
	}
	return itemToNode(out.Item)
}

// Put upserts the entire node.
func (r *NodeRepository) Put(ctx context.Context, node *lifecyclenode.Node) error {
	item, err := nodeToItem(node)
	if err != nil {
		return err
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: putting node %s: %w", node.ID(), err)
	}
	return nil
}

// Update applies a partial update of named properties to both the
// in-memory node and the store. The Node is updated first; if the store
// write then fails, the caller observes the in-memory node already
// reflecting the change and the returned error, satisfying spec §4.1's
// "failure of either must be observable to the caller."
func (r *NodeRepository) Update(ctx context.Context, node *lifecyclenode.Node, changes map[string]any) error {
	for k, v := range changes {
		if k == lifecyclenode.PropertyState {
			node.SetState(fmt.Sprint(v))
			continue
		}
		node.SetProperty(k, v)
	}

	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	var setParts []string
	i := 0
	for k, v := range changes {
		placeholder := fmt.Sprintf("#f%d", i)
		valuePlaceholder := fmt.Sprintf(":v%d", i)
		col := k
		if k == lifecyclenode.PropertyState {
			col = colStatus
		}
		names[placeholder] = col
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return fmt.Errorf("repository: marshaling %s: %w", k, err)
		}
		values[valuePlaceholder] = av
		setParts = append(setParts, fmt.Sprintf("%s = %s", placeholder, valuePlaceholder))
		i++
	}
	expr := "SET " + lo.Reduce(setParts, func(acc string, part string, idx int) string {
		if idx == 0 {
			return part
		}
		return acc + ", " + part
	}, "")

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       key(node.ID()),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("repository: updating node %s: %w", node.ID(), err)
	}
	return nil
}

// Delete removes the node from the store.
func (r *NodeRepository) Delete(ctx context.Context, node *lifecyclenode.Node) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       key(node.ID()),
	})
	if err != nil {
		return fmt.Errorf("repository: deleting node %s: %w", node.ID(), err)
	}
	return nil
}

// HasState scans for the appearance of a row matching id and state,
// backing the Model's cloud-init wait (spec §4.3): "blocks on a
// store-scan waiter for the appearance of a row matching the node id
// and a state of finished_cloud_init."
func (r *NodeRepository) HasState(ctx context.Context, id, state string) (bool, error) {
	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("#id = :id and #status = :status"),
		ExpressionAttributeNames: map[string]string{
			"#id":     colIdent,
			"#status": colStatus,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":     &types.AttributeValueMemberS{Value: id},
			":status": &types.AttributeValueMemberS{Value: state},
		},
	})
	if err != nil {
		return false, fmt.Errorf("repository: scanning for node %s state %s: %w", id, state, err)
	}
	return len(out.Items) > 0, nil
}

// Query further constrains GetByType with an opaque filter expression
// and its placeholder values.
type Query struct {
	Filter string
	Values map[string]any
}

// GetByType returns all nodes whose type is in types and whose state is
// neither terminating nor removing, unless includeTerminating is set,
// optionally further constrained by an opaque filter (spec §4.1).
func (r *NodeRepository) GetByType(ctx context.Context, types_ []string, query *Query, includeTerminating bool) ([]*lifecyclenode.Node, error) {
	names := map[string]string{"#type": colType, "#status": colStatus}
	values := map[string]types.AttributeValue{}

	var typeParts []string
	for i, t := range types_ {
		placeholder := fmt.Sprintf(":type%d", i)
		av, err := attributevalue.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("repository: marshaling type filter: %w", err)
		}
		values[placeholder] = av
		typeParts = append(typeParts, fmt.Sprintf("#type = %s", placeholder))
	}
	expr := "(" + joinOr(typeParts) + ")"

	if !includeTerminating {
		termAV, _ := attributevalue.Marshal(stateTerminating)
		remAV, _ := attributevalue.Marshal(stateRemoving)
		values[":terminating"] = termAV
		values[":removing"] = remAV
		expr += " and #status <> :terminating and #status <> :removing"
	}

	if query != nil {
		if query.Filter == "" {
			return nil, lifecycleerrors.BadQuery("values supplied without a filter expression")
		}
		for k, v := range query.Values {
			av, err := attributevalue.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("repository: marshaling query value %s: %w", k, err)
			}
			values[k] = av
		}
		expr += " and (" + query.Filter + ")"
	}

	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(r.tableName),
		FilterExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return nil, fmt.Errorf("repository: scanning nodes: %w", err)
	}

	nodes := make([]*lifecyclenode.Node, 0, len(out.Items))
	for _, item := range out.Items {
		n, err := itemToNode(item)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		colIdent: &types.AttributeValueMemberS{Value: id},
	}
}

func nodeToItem(node *lifecyclenode.Node) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		colIdent:  &types.AttributeValueMemberS{Value: node.ID()},
		colType:   &types.AttributeValueMemberS{Value: node.Type()},
		colStatus: &types.AttributeValueMemberS{Value: node.State()},
	}
	for k, v := range node.Properties() {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("repository: marshaling property %s: %w", k, err)
		}
		item[k] = av
	}
	return item, nil
}

func itemToNode(item map[string]types.AttributeValue) (*lifecyclenode.Node, error) {
	id, err := stringAttr(item, colIdent)
	if err != nil {
		return nil, err
	}
	nodeType, err := stringAttr(item, colType)
	if err != nil {
		return nil, err
	}
	state, err := stringAttr(item, colStatus)
	if err != nil {
		return nil, err
	}

	node := lifecyclenode.New(id, nodeType)
	node.SetState(state)

	for k, av := range item {
		if k == colIdent || k == colType || k == colStatus {
			continue
		}
		var v any
		if err := attributevalue.Unmarshal(av, &v); err != nil {
			return nil, fmt.Errorf("repository: unmarshaling property %s: %w", k, err)
		}
		node.SetProperty(k, v)
	}
	return node, nil
}

func stringAttr(item map[string]types.AttributeValue, key string) (string, error) {
	av, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: item missing required column %s", key)
	}
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: column %s is not a string", key)
	}
	return s.Value, nil
}

func joinOr(parts []string) string {
	return lo.Reduce(parts, func(acc, part string, idx int) string {
		if idx == 0 {
			return part
		}
		return acc + " or " + part
	}, "")
}
