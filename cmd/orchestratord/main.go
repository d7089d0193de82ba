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

// Command orchestratord is a minimal wiring entrypoint: it decodes one
// event payload from stdin, builds the AWS collaborators, and runs it
// through an Orchestrator built from internal/dockercatalog's worked
// example catalog. A real deployment swaps the catalog and the ingress
// (Lambda handler, SQS poller, ...) for its own application workflow.
package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/awslabs/operatorpkg/env"
	"github.com/go-logr/zapr"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/janschumann/autoscaling-lifecycle/internal/dockercatalog"
	"github.com/janschumann/autoscaling-lifecycle/pkg/activity"
	"github.com/janschumann/autoscaling-lifecycle/pkg/awsapi"
	"github.com/janschumann/autoscaling-lifecycle/pkg/catalog"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleevent"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecyclelog"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecyclenode"
	"github.com/janschumann/autoscaling-lifecycle/pkg/model"
	"github.com/janschumann/autoscaling-lifecycle/pkg/orchestrator"
	"github.com/janschumann/autoscaling-lifecycle/pkg/remotecommand"
	"github.com/janschumann/autoscaling-lifecycle/pkg/repository"
)

type options struct {
	tableName        string
	progressTopicARN string
	errorTopicARN    string
}

func main() {
	opts := options{}
	flag.StringVar(&opts.tableName, "table-name", env.WithDefaultString("LIFECYCLE_TABLE_NAME", ""), "DynamoDB table backing the node and command repositories")
	flag.StringVar(&opts.progressTopicARN, "progress-topic-arn", env.WithDefaultString("PROGRESS_TOPIC_ARN", ""), "SNS topic ARN progress reports are published to")
	flag.StringVar(&opts.errorTopicARN, "error-topic-arn", env.WithDefaultString("ERROR_TOPIC_ARN", ""), "SNS topic ARN error reports are published to")
	flag.Parse()

	zapLog := lo.Must(zap.NewProduction())
	defer zapLog.Sync() //nolint:errcheck
	log := zapr.NewLogger(zapLog)

	ctx := lifecyclelog.IntoContext(context.Background(), log)

	if opts.tableName == "" {
		log.Error(nil, "missing required LIFECYCLE_TABLE_NAME")
		os.Exit(1)
	}

	if err := run(ctx, opts, os.Stdin); err != nil {
		log.Error(err, "orchestrator run failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, payload io.Reader) error {
	log := lifecyclelog.FromContext(ctx)

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return err
	}

	var awsAutoscaling awsapi.AutoscalingAPI = autoscaling.NewFromConfig(cfg)
	var awsDynamoDB awsapi.DynamoDBAPI = dynamodb.NewFromConfig(cfg)
	var awsSSM awsapi.SSMAPI = ssm.NewFromConfig(cfg)
	var awsSNS awsapi.SNSAPI = sns.NewFromConfig(cfg)

	nodes := repository.NewNodeRepository(awsDynamoDB, opts.tableName)
	commands := repository.NewCommandRepository(awsDynamoDB, opts.tableName)

	// Dispatches the "apply-docker-labels" document and polls agent-online
	// status for the catalog's add_labels/put_online hooks below.
	dispatcher := remotecommand.NewDispatcher(awsSSM, commands)

	progress := &awsapi.SNSPublisher{Client: awsSNS, TopicARN: opts.progressTopicARN}
	errorsTopic := &awsapi.SNSPublisher{Client: awsSNS, TopicARN: opts.errorTopicARN}
	reporter := activity.New(progress, errorsTopic)

	// The catalog's two built-in triggers are methods on the Model, but
	// the Model is constructed from the catalog — close over the
	// not-yet-assigned pointer; by the time either hook actually runs,
	// m has been assigned below.
	var m *model.Model
	cat, err := dockercatalog.New(
		func(ctx context.Context, event *lifecycleevent.Event, node *lifecyclenode.Node, info catalog.TransitionInfo) error {
			return m.CompleteLifecycleAction(ctx, event, node, info)
		},
		func(ctx context.Context, event *lifecycleevent.Event, node *lifecyclenode.Node, info catalog.TransitionInfo) error {
			return m.RemoveFromDB(ctx, event, node, info)
		},
		func(ctx context.Context, event *lifecycleevent.Event, node *lifecyclenode.Node, info catalog.TransitionInfo) error {
			_, err := dispatcher.Send(ctx, "apply-docker-labels", []string{node.ID()}, nil, lifecycleevent.CommandRecord{EventName: "apply-docker-labels"})
			return err
		},
		func(ctx context.Context, event *lifecycleevent.Event, node *lifecyclenode.Node, info catalog.TransitionInfo) error {
			return dispatcher.AwaitAgentOnline(ctx, node.ID())
		},
	)
	if err != nil {
		return err
	}

	m = model.New(nodes, commands, awsAutoscaling, log, cat)
	orch := orchestrator.New(m, reporter, log)

	body, err := io.ReadAll(payload)
	if err != nil {
		return err
	}
	event, err := lifecycleevent.Parse(body)
	if err != nil {
		return err
	}

	return orch.Run(ctx, event)
}
