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

package machine_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/janschumann/autoscaling-lifecycle/pkg/catalog"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleevent"
	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecyclenode"
	"github.com/janschumann/autoscaling-lifecycle/pkg/machine"
)

func TestMachine(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Machine")
}

// fakeCommitter is a hand-written stand-in for pkg/model.Model, recording
// every state it was asked to commit.
type fakeCommitter struct {
	state      string
	commits    []string
	commitErr  error
}

func (f *fakeCommitter) SetState(_ context.Context, state string) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.state = state
	f.commits = append(f.commits, state)
	return nil
}

var _ = Describe("Machine", func() {
	var (
		ctx       context.Context
		node      *lifecyclenode.Node
		event     *lifecycleevent.Event
		committer *fakeCommitter
	)

	BeforeEach(func() {
		ctx = context.Background()
		node = lifecyclenode.New("i-1", "worker")
		event = &lifecycleevent.Event{Kind: lifecycleevent.KindAutoscalingLifecycle}
		committer = &fakeCommitter{state: lifecyclenode.StateNew}
	})

	It("fires a trigger, commits the destination, and reports Fired", func() {
		cat, err := catalog.New([]catalog.Transition{
			{Source: []string{lifecyclenode.StateNew}, Dest: "running", Triggers: []catalog.Trigger{{Name: "start"}}},
		})
		Expect(err).NotTo(HaveOccurred())
		m := machine.New(cat, nil)

		raise := true
		result, err := m.Dispatch(ctx, "start", lifecyclenode.StateNew, event, node, committer, &raise)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Outcome).To(Equal(machine.Fired))
		Expect(result.Dest).To(Equal("running"))
		Expect(committer.commits).To(Equal([]string{"running"}))
	})

	It("skips a trigger whose condition guard returns false, without committing", func() {
		cat, err := catalog.New([]catalog.Transition{{
			Source: []string{lifecyclenode.StateNew},
			Dest:   "running",
			Triggers: []catalog.Trigger{{
				Name:       "start",
				Conditions: []catalog.Guard{func(context.Context, *lifecycleevent.Event, *lifecyclenode.Node, catalog.TransitionInfo) (bool, error) { return false, nil }},
			}},
		}})
		Expect(err).NotTo(HaveOccurred())
		m := machine.New(cat, nil)

		raise := true
		result, err := m.Dispatch(ctx, "start", lifecyclenode.StateNew, event, node, committer, &raise)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Outcome).To(Equal(machine.Skipped))
		Expect(committer.commits).To(BeEmpty())
	})

	It("skips a trigger whose unless guard returns true", func() {
		cat, err := catalog.New([]catalog.Transition{{
			Source: []string{lifecyclenode.StateNew},
			Dest:   "running",
			Triggers: []catalog.Trigger{{
				Name:   "start",
				Unless: []catalog.Guard{func(context.Context, *lifecycleevent.Event, *lifecyclenode.Node, catalog.TransitionInfo) (bool, error) { return true, nil }},
			}},
		}})
		Expect(err).NotTo(HaveOccurred())
		m := machine.New(cat, nil)

		raise := true
		result, err := m.Dispatch(ctx, "start", lifecyclenode.StateNew, event, node, committer, &raise)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Outcome).To(Equal(machine.Skipped))
		Expect(committer.commits).To(BeEmpty())
	})

	It("returns the resolved Dest on a commit error so the caller can force-advance (spec §4.4)", func() {
		cat, err := catalog.New([]catalog.Transition{
			{Source: []string{lifecyclenode.StateNew}, Dest: "running", Triggers: []catalog.Trigger{{Name: "start"}}},
		})
		Expect(err).NotTo(HaveOccurred())
		m := machine.New(cat, nil)
		committer.commitErr = errors.New("store unavailable")

		raise := true
		result, err := m.Dispatch(ctx, "start", lifecyclenode.StateNew, event, node, committer, &raise)
		Expect(err).To(HaveOccurred())
		Expect(result.Dest).To(Equal("running"))
	})

	It("clears raiseOnFailure when the resolved trigger ignores errors (P5)", func() {
		cat, err := catalog.New([]catalog.Transition{{
			Source:   []string{catalog.FailureState},
			Dest:     "acknowledged",
			Triggers: []catalog.Trigger{{Name: "ack", IgnoreErrors: true}},
		}})
		Expect(err).NotTo(HaveOccurred())
		m := machine.New(cat, nil)
		committer.commitErr = errors.New("boom")

		raise := true
		_, err = m.Dispatch(ctx, "ack", catalog.FailureState, event, node, committer, &raise)
		Expect(err).To(HaveOccurred())
		Expect(raise).To(BeFalse())
	})

	It("raises CommandUnsuccessful instead of merely skipping when a command-result event failed", func() {
		cat, err := catalog.New([]catalog.Transition{
			{Source: []string{lifecyclenode.StateNew}, Dest: "running", Triggers: []catalog.Trigger{{Name: "start"}}},
		})
		Expect(err).NotTo(HaveOccurred())
		m := machine.New(cat, nil)
		failedEvent := &lifecycleevent.Event{Kind: lifecycleevent.KindRemoteCommandResult, CommandStatus: lifecycleevent.StatusFailed}

		raise := true
		_, err = m.Dispatch(ctx, "start", lifecyclenode.StateNew, failedEvent, node, committer, &raise)
		Expect(err).To(HaveOccurred())
	})

	It("reports SuspendAfterStateChange when the destination carries stop_after_state_change", func() {
		cat, err := catalog.New([]catalog.Transition{
			{Source: []string{lifecyclenode.StateNew}, Dest: "running", StopAfterStateChange: true, Triggers: []catalog.Trigger{{Name: "start"}}},
		})
		Expect(err).NotTo(HaveOccurred())
		m := machine.New(cat, nil)

		raise := true
		result, err := m.Dispatch(ctx, "start", lifecyclenode.StateNew, event, node, committer, &raise)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Outcome).To(Equal(machine.SuspendAfterStateChange))
	})

	It("reports SuspendAfterTrigger when the trigger itself carries stop_after_trigger", func() {
		cat, err := catalog.New([]catalog.Transition{
			{Source: []string{lifecyclenode.StateNew}, Dest: "running", Triggers: []catalog.Trigger{{Name: "start", StopAfterTrigger: true}}},
		})
		Expect(err).NotTo(HaveOccurred())
		m := machine.New(cat, nil)

		raise := true
		result, err := m.Dispatch(ctx, "start", lifecyclenode.StateNew, event, node, committer, &raise)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Outcome).To(Equal(machine.SuspendAfterTrigger))
	})

	It("errors with no commit when the trigger name has no resolved transition from the current state", func() {
		cat, err := catalog.New([]catalog.Transition{
			{Source: []string{lifecyclenode.StateNew}, Dest: "running", Triggers: []catalog.Trigger{{Name: "start"}}},
		})
		Expect(err).NotTo(HaveOccurred())
		m := machine.New(cat, nil)

		raise := true
		_, err = m.Dispatch(ctx, "nonexistent", lifecyclenode.StateNew, event, node, committer, &raise)
		Expect(err).To(HaveOccurred())
		Expect(committer.commits).To(BeEmpty())
	})
})
