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

package repository_test

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Repository")
}

// fakeDynamoDB is a minimal in-memory stand-in for awsapi.DynamoDBAPI,
// keyed the same way the real table is: by the Ident column.
type fakeDynamoDB struct {
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamoDB() *fakeDynamoDB {
	return &fakeDynamoDB{items: map[string]map[string]types.AttributeValue{}}
}

func identOf(key map[string]types.AttributeValue) string {
	s, _ := key["Ident"].(*types.AttributeValueMemberS)
	if s == nil {
		return ""
	}
	return s.Value
}

func (f *fakeDynamoDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[identOf(in.Key)]}, nil
}

func (f *fakeDynamoDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items[identOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoDB) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	id := identOf(in.Key)
	item := f.items[id]
	if item == nil {
		item = map[string]types.AttributeValue{"Ident": &types.AttributeValueMemberS{Value: id}}
	}
	for placeholder, col := range in.ExpressionAttributeNames {
		// placeholder is "#f<i>", its paired value is ":v<i>" — same
		// index, different prefix (see NodeRepository.Update).
		valuePlaceholder := ":v" + placeholder[2:]
		if av, ok := in.ExpressionAttributeValues[valuePlaceholder]; ok {
			item[col] = av
		}
	}
	f.items[id] = item
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamoDB) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, identOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamoDB) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	var items []map[string]types.AttributeValue
	for _, item := range f.items {
		if matchesFilter(item, in) {
			items = append(items, item)
		}
	}
	return &dynamodb.ScanOutput{Items: items}, nil
}

// matchesFilter evaluates the small subset of FilterExpression grammar
// the repository package actually generates: "and"/"or"-joined clauses
// of the form "#name = :value" or "#name <> :value", optionally
// parenthesized. Good enough for a hand-written fake; not a general
// expression evaluator.
func matchesFilter(item map[string]types.AttributeValue, in *dynamodb.ScanInput) bool {
	if in.FilterExpression == nil {
		return true
	}
	expr := strings.NewReplacer("(", " ", ")", " ").Replace(*in.FilterExpression)

	clauses := strings.Split(expr, " and ")
	for _, clause := range clauses {
		if !matchesOrGroup(item, in, clause) {
			return false
		}
	}
	return true
}

func matchesOrGroup(item map[string]types.AttributeValue, in *dynamodb.ScanInput, group string) bool {
	for _, atom := range strings.Split(group, " or ") {
		if matchesAtom(item, in, atom) {
			return true
		}
	}
	return false
}

func matchesAtom(item map[string]types.AttributeValue, in *dynamodb.ScanInput, atom string) bool {
	atom = strings.TrimSpace(atom)
	op, sep := "=", " = "
	if strings.Contains(atom, " <> ") {
		op, sep = "<>", " <> "
	}
	parts := strings.SplitN(atom, sep, 2)
	if len(parts) != 2 {
		return true
	}
	namePlaceholder := strings.TrimSpace(parts[0])
	valuePlaceholder := strings.TrimSpace(parts[1])

	col, ok := in.ExpressionAttributeNames[namePlaceholder]
	if !ok {
		return true
	}
	want, ok := in.ExpressionAttributeValues[valuePlaceholder]
	if !ok {
		return true
	}
	equal := reflect.DeepEqual(item[col], want)
	if op == "<>" {
		return !equal
	}
	return equal
}
