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

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleerrors"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleevent"
	"github.com/janschumann/autoscaling-lifecycle/pkg/repository"
)

var _ = Describe("CommandRepository", func() {
	var (
		ctx    context.Context
		client *fakeDynamoDB
		repo   *repository.CommandRepository
		record lifecycleevent.CommandRecord
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = newFakeDynamoDB()
		repo = repository.NewCommandRepository(client, "lifecycle-table")
		record = lifecycleevent.CommandRecord{
			Lifecycle: lifecycleevent.LifecycleContext{
				HookName:   "launch-hook",
				GroupName:  "asg-1",
				InstanceID: "i-1",
				Transition: lifecycleevent.TransitionLaunching,
			},
			EventName: "scan-cloud-init",
			NodeIDs:   []string{"i-1"},
		}
	})

	It("round-trips a registered command record through Get", func() {
		Expect(repo.Register(ctx, "cmd-1", record)).To(Succeed())

		loaded, err := repo.Get(ctx, "cmd-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Lifecycle.HookName).To(Equal("launch-hook"))
		Expect(loaded.NodeIDs).To(Equal([]string{"i-1"}))
	})

	It("fails with ErrCommandNotFound for an unregistered id", func() {
		_, err := repo.Get(ctx, "missing")
		Expect(err).To(MatchError(lifecycleerrors.ErrCommandNotFound))
	})

	It("Pop reads and deletes the record exactly once (spec §3)", func() {
		Expect(repo.Register(ctx, "cmd-1", record)).To(Succeed())

		popped, err := repo.Pop(ctx, "cmd-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(popped.EventName).To(Equal("scan-cloud-init"))

		_, err = repo.Get(ctx, "cmd-1")
		Expect(err).To(MatchError(lifecycleerrors.ErrCommandNotFound))
	})
})
