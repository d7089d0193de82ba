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

package remotecommand_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleevent"
	"github.com/janschumann/autoscaling-lifecycle/pkg/remotecommand"
)

func TestRemoteCommand(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "RemoteCommand")
}

type fakeSSM struct {
	sentTokens   []string
	invocationOf map[string]types.CommandInvocationStatus
	pingStatus   types.PingStatus
}

func (f *fakeSSM) SendCommand(_ context.Context, in *ssm.SendCommandInput, _ ...func(*ssm.Options)) (*ssm.SendCommandOutput, error) {
	f.sentTokens = append(f.sentTokens, aws.ToString(in.ClientToken))
	return &ssm.SendCommandOutput{Command: &types.Command{CommandId: aws.String("cmd-1")}}, nil
}

func (f *fakeSSM) GetCommandInvocation(_ context.Context, in *ssm.GetCommandInvocationInput, _ ...func(*ssm.Options)) (*ssm.GetCommandInvocationOutput, error) {
	return &ssm.GetCommandInvocationOutput{Status: f.invocationOf[aws.ToString(in.CommandId)]}, nil
}

func (f *fakeSSM) DescribeInstanceInformation(_ context.Context, _ *ssm.DescribeInstanceInformationInput, _ ...func(*ssm.Options)) (*ssm.DescribeInstanceInformationOutput, error) {
	return &ssm.DescribeInstanceInformationOutput{
		InstanceInformationList: []types.InstanceInformation{{PingStatus: f.pingStatus}},
	}, nil
}

type fakeRegistry struct {
	registered map[string]lifecycleevent.CommandRecord
}

func (f *fakeRegistry) Register(_ context.Context, id string, record lifecycleevent.CommandRecord) error {
	f.registered[id] = record
	return nil
}

var _ = Describe("Dispatcher", func() {
	var (
		ctx      context.Context
		ssmFake  *fakeSSM
		registry *fakeRegistry
	)

	BeforeEach(func() {
		ctx = context.Background()
		ssmFake = &fakeSSM{invocationOf: map[string]types.CommandInvocationStatus{}}
		registry = &fakeRegistry{registered: map[string]lifecycleevent.CommandRecord{}}
	})

	It("sends a command with a unique client token and registers its record (spec §3)", func() {
		d := remotecommand.NewDispatcher(ssmFake, registry)

		commandID, err := d.Send(ctx, "scan-cloud-init", []string{"i-1"}, nil, lifecycleevent.CommandRecord{EventName: "scan-cloud-init"})
		Expect(err).NotTo(HaveOccurred())
		Expect(commandID).To(Equal("cmd-1"))
		Expect(ssmFake.sentTokens).To(HaveLen(1))
		Expect(ssmFake.sentTokens[0]).NotTo(BeEmpty())

		record, ok := registry.registered["cmd-1"]
		Expect(ok).To(BeTrue())
		Expect(record.NodeIDs).To(Equal([]string{"i-1"}))
	})

	It("translates an invocation's SSM status into the lifecycleevent CommandStatus vocabulary", func() {
		ssmFake.invocationOf["cmd-1"] = types.CommandInvocationStatusSuccess
		d := remotecommand.NewDispatcher(ssmFake, registry)

		status, err := d.InvocationStatus(ctx, "cmd-1", "i-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(lifecycleevent.StatusSuccess))
	})

	It("resolves AwaitAgentOnline once the instance reports Online", func() {
		ssmFake.pingStatus = types.PingStatusOnline
		d := remotecommand.NewDispatcher(ssmFake, registry)

		Expect(d.AwaitAgentOnline(ctx, "i-1")).To(Succeed())
	})
})
