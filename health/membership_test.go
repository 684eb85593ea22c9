package health

import (
	"context"
	"fmt"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	clocktesting "k8s.io/utils/clock/testing"

	"mini-mesh/store"
)

func TestMembershipSplitsOwnership(t *testing.T) {
	RegisterTestingT(t)
	ctx := context.Background()
	clk := clocktesting.NewFakeClock(time.Now())
	st := store.NewMemoryStore(clk)

	a := NewMembership("mesh-a", st, clk, 10*time.Second)
	b := NewMembership("mesh-b", st, clk, 10*time.Second)
	Expect(a.Owns("anything")).To(BeTrue())

	Expect(a.Pulse(ctx)).To(Succeed())
	Expect(b.Pulse(ctx)).To(Succeed())
	Expect(a.Refresh(ctx)).To(Succeed())
	Expect(b.Refresh(ctx)).To(Succeed())
	Expect(a.Members()).To(ConsistOf("mesh-a", "mesh-b"))

	ownedByA := 0
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("endpoint-%d", i)
		Expect(a.Owns(id)).NotTo(Equal(b.Owns(id)), "exactly one owner for %s", id)
		if a.Owns(id) {
			ownedByA++
		}
	}
	Expect(ownedByA).To(BeNumerically(">", 0))
	Expect(ownedByA).To(BeNumerically("<", 200))
}

func TestMembershipDropsSilentInstances(t *testing.T) {
	RegisterTestingT(t)
	ctx := context.Background()
	clk := clocktesting.NewFakeClock(time.Now())
	st := store.NewMemoryStore(clk)

	a := NewMembership("mesh-a", st, clk, 10*time.Second)
	b := NewMembership("mesh-b", st, clk, 10*time.Second)
	Expect(b.Pulse(ctx)).To(Succeed())

	clk.Step(31 * time.Second)
	Expect(a.Pulse(ctx)).To(Succeed())
	Expect(a.Refresh(ctx)).To(Succeed())
	Expect(a.Members()).To(Equal([]string{"mesh-a"}))
	for i := 0; i < 50; i++ {
		Expect(a.Owns(fmt.Sprintf("endpoint-%d", i))).To(BeTrue())
	}
}

func TestMembershipRunLeavesOnStop(t *testing.T) {
	RegisterTestingT(t)
	clk := clocktesting.NewFakeClock(time.Now())
	st := store.NewMemoryStore(clk)
	m := NewMembership("mesh-a", st, clk, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	Eventually(func() error {
		_, err := st.Get(context.Background(), memberKey("mesh-a"))
		return err
	}).Should(Succeed())

	cancel()
	Eventually(done).Should(BeClosed())
	_, err := st.Get(context.Background(), memberKey("mesh-a"))
	Expect(err).To(MatchError(store.ErrNotFound))
}
