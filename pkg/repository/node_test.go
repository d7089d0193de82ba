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

	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecyclenode"
	"github.com/janschumann/autoscaling-lifecycle/pkg/repository"
)

var _ = Describe("NodeRepository", func() {
	var (
		ctx    context.Context
		client *fakeDynamoDB
		repo   *repository.NodeRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = newFakeDynamoDB()
		repo = repository.NewNodeRepository(client, "lifecycle-table")
	})

	It("synthesizes an unknown/new node when no row exists", func() {
		node, err := repo.Get(ctx, "i-missing")
		Expect(err).NotTo(HaveOccurred())
		Expect(node.Type()).To(Equal("unknown"))
		Expect(node.State()).To(Equal(lifecyclenode.StateNew))
	})

	It("round-trips a node through Put and Get, including properties", func() {
		node := lifecyclenode.New("i-1", "worker")
		node.SetProperty("az", "us-east-1a")
		Expect(repo.Put(ctx, node)).To(Succeed())

		loaded, err := repo.Get(ctx, "i-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Type()).To(Equal("worker"))
		v, ok := loaded.Property("az")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("us-east-1a"))
	})

	It("applies Update to both the in-memory node and the store", func() {
		node := lifecyclenode.New("i-1", "worker")
		Expect(repo.Put(ctx, node)).To(Succeed())

		Expect(repo.Update(ctx, node, map[string]any{lifecyclenode.PropertyState: "running"})).To(Succeed())
		Expect(node.State()).To(Equal("running"))

		reloaded, err := repo.Get(ctx, "i-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.State()).To(Equal("running"))
	})

	It("deletes a node from the store", func() {
		node := lifecyclenode.New("i-1", "worker")
		Expect(repo.Put(ctx, node)).To(Succeed())
		Expect(repo.Delete(ctx, node)).To(Succeed())

		reloaded, err := repo.Get(ctx, "i-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.Type()).To(Equal("unknown"))
	})

	It("reports HasState true once a row with the matching id and state exists", func() {
		node := lifecyclenode.New("i-1", "worker")
		node.SetState("finished_cloud_init")
		Expect(repo.Put(ctx, node)).To(Succeed())

		has, err := repo.HasState(ctx, "i-1", "finished_cloud_init")
		Expect(err).NotTo(HaveOccurred())
		Expect(has).To(BeTrue())

		has, err = repo.HasState(ctx, "i-1", "other_state")
		Expect(err).NotTo(HaveOccurred())
		Expect(has).To(BeFalse())
	})

	It("rejects a Query with values but no filter expression", func() {
		_, err := repo.GetByType(ctx, []string{"worker"}, &repository.Query{Values: map[string]any{"x": 1}}, false)
		Expect(err).To(HaveOccurred())
	})
})
