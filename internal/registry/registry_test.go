package registry

import (
	"testing"

	"github.com/hydrabase/realtime/internal/auth"
)

func newTestConn(user, tenant string) *Conn {
	return NewConn(auth.Claims{UserID: user, TenantID: tenant, Role: "authenticated"}, 4)
}

func TestAddGetRemove(t *testing.T) {
	r := New()
	c := newTestConn("u1", "t1")

	r.Add(c)
	if got, ok := r.Get(c.ID); !ok || got != c {
		t.Fatal("Get after Add failed")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}

	removed := r.Remove(c.ID)
	if removed != c {
		t.Error("Remove should return the connection")
	}
	if _, ok := r.Get(c.ID); ok {
		t.Error("Get after Remove should fail")
	}
	if r.Remove(c.ID) != nil {
		t.Error("second Remove should return nil")
	}
}

func TestForEachInTenant(t *testing.T) {
	r := New()
	a1 := newTestConn("u1", "tenant-a")
	a2 := newTestConn("u2", "tenant-a")
	b1 := newTestConn("u3", "tenant-b")
	r.Add(a1)
	r.Add(a2)
	r.Add(b1)

	seen := map[string]bool{}
	r.ForEachInTenant("tenant-a", func(c *Conn) { seen[c.ID] = true })

	if len(seen) != 2 || !seen[a1.ID] || !seen[a2.ID] {
		t.Errorf("unexpected tenant-a set: %v", seen)
	}
	if seen[b1.ID] {
		t.Error("tenant-b connection visited")
	}
}

func TestUserHasOtherConns(t *testing.T) {
	r := New()
	c1 := newTestConn("u1", "t1")
	c2 := newTestConn("u1", "t1")
	other := newTestConn("u1", "t2")
	r.Add(c1)
	r.Add(c2)
	r.Add(other)

	if !r.UserHasOtherConns("u1", "t1", c1.ID) {
		t.Error("expected another t1 connection for u1")
	}
	r.Remove(c2.ID)
	if r.UserHasOtherConns("u1", "t1", c1.ID) {
		t.Error("other-tenant connection should not count")
	}
}

func TestConnSendDropsWhenFull(t *testing.T) {
	c := NewConn(auth.Claims{UserID: "u1", TenantID: "t1"}, 2)

	if !c.Send([]byte("a")) || !c.Send([]byte("b")) {
		t.Fatal("sends within buffer should succeed")
	}
	if c.Send([]byte("c")) {
		t.Error("send beyond buffer should drop")
	}
}

func TestConnChannelTracking(t *testing.T) {
	c := newTestConn("u1", "t1")
	c.TrackChannel("orders")
	c.TrackChannel("users")
	c.TrackChannel("orders")

	chans := c.Channels()
	if len(chans) != 2 {
		t.Errorf("Channels = %v, want 2 entries", chans)
	}

	c.UntrackChannel("orders")
	if got := c.Channels(); len(got) != 1 || got[0] != "users" {
		t.Errorf("after untrack: %v", got)
	}
}

func TestCloseIdempotentAndStopsSends(t *testing.T) {
	c := newTestConn("u1", "t1")
	c.Close()
	c.Close() // must not panic

	if c.Send([]byte("late")) {
		t.Error("send after Close should report false")
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done should be closed")
	}
}
