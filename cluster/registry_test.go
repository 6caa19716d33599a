package cluster_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/cluster"
	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/store/memory"
)

func newInstance(addr string) *cluster.Instance {
	return &cluster.Instance{ID: id.NewInstanceID(), Hostname: "test", Address: addr}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistry_PeersExcludeSelfAndUnreachable(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	self := cluster.NewRegistry(s, newInstance("http://self"), time.Hour, time.Minute, nil)
	if err := self.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer self.Stop(ctx) //nolint:errcheck // test cleanup

	now := time.Now().UTC()
	live := newInstance("http://live")
	live.State, live.LastSeen = cluster.InstanceActive, now
	noAddr := newInstance("")
	noAddr.State, noAddr.LastSeen = cluster.InstanceActive, now
	draining := newInstance("http://draining")
	draining.State, draining.LastSeen = cluster.InstanceDraining, now
	stale := newInstance("http://stale")
	stale.State, stale.LastSeen = cluster.InstanceActive, now.Add(-time.Hour)

	for _, inst := range []*cluster.Instance{live, noAddr, draining, stale} {
		if err := s.RegisterInstance(ctx, inst); err != nil {
			t.Fatalf("RegisterInstance: %v", err)
		}
	}

	peers, err := self.Peers(ctx)
	if err != nil {
		t.Fatalf("Peers: %v", err)
	}
	if len(peers) != 1 || peers[0] != "http://live" {
		t.Fatalf("expected [http://live], got %v", peers)
	}
}

func TestRegistry_StartRegistersAndStopDeregisters(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	inst := newInstance("http://a")

	r := cluster.NewRegistry(s, inst, time.Hour, time.Minute, nil)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	list, _ := s.ListInstances(ctx)
	if len(list) != 1 || list[0].ID != inst.ID || list[0].State != cluster.InstanceActive {
		t.Fatalf("expected one active instance, got %+v", list)
	}
	if list[0].LastSeen.IsZero() || list[0].CreatedAt.IsZero() {
		t.Fatal("expected LastSeen and CreatedAt to be set")
	}

	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	list, _ = s.ListInstances(ctx)
	if len(list) != 0 {
		t.Fatalf("expected no instances after Stop, got %d", len(list))
	}
}

func TestRegistry_DrainIsVisibleToPeers(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	a := cluster.NewRegistry(s, newInstance("http://a"), 10*time.Millisecond, time.Minute, nil)
	b := cluster.NewRegistry(s, newInstance("http://b"), time.Hour, time.Minute, nil)
	for _, r := range []*cluster.Registry{a, b} {
		if err := r.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	defer a.Stop(ctx) //nolint:errcheck // test cleanup
	defer b.Stop(ctx) //nolint:errcheck // test cleanup

	peers, _ := b.Peers(ctx)
	if len(peers) != 1 || peers[0] != "http://a" {
		t.Fatalf("expected [http://a], got %v", peers)
	}

	a.Drain()
	waitFor(t, "draining instance to drop out of peers", func() bool {
		peers, _ := b.Peers(ctx)
		return len(peers) == 0
	})
}

func TestRegistry_HeartbeatReregistersAfterReap(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	inst := newInstance("http://a")

	r := cluster.NewRegistry(s, inst, 10*time.Millisecond, time.Minute, nil)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(ctx) //nolint:errcheck // test cleanup

	if err := s.DeregisterInstance(ctx, inst.ID); err != nil {
		t.Fatalf("DeregisterInstance: %v", err)
	}

	waitFor(t, "instance to re-register", func() bool {
		list, _ := s.ListInstances(ctx)
		return len(list) == 1 && list[0].ID == inst.ID
	})
}

func TestRegistry_StopAfterExternalDeregister(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	inst := newInstance("")

	r := cluster.NewRegistry(s, inst, time.Hour, time.Minute, nil)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = s.DeregisterInstance(ctx, inst.ID)

	if err := r.Stop(ctx); !errors.Is(err, periodic.ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestInstance_Alive(t *testing.T) {
	now := time.Now()
	inst := &cluster.Instance{LastSeen: now.Add(-30 * time.Second)}
	if !inst.Alive(now, time.Minute) {
		t.Error("expected alive within threshold")
	}
	if inst.Alive(now, 10*time.Second) {
		t.Error("expected dead past threshold")
	}
}
