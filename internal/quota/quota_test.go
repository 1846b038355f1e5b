package quota

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fosdem-friends/talktrack/internal/store"
)

func seedUser(t *testing.T, mem *store.Memory, group, uid string) {
	t.Helper()
	path := store.Join("groups", group, "users", uid)
	if err := mem.Set(context.Background(), path, []byte("u")); err != nil {
		t.Fatal(err)
	}
}

func TestCheckJoinAllowlist(t *testing.T) {
	mem := store.NewMemory()
	g := NewGuard(mem, WithAllowedGroups([]string{"allowed"}))
	ctx := context.Background()

	if err := g.CheckJoin(ctx, "allowed", "user_1"); err != nil {
		t.Errorf("CheckJoin() allowlisted group error = %v", err)
	}
	if err := g.CheckJoin(ctx, "other", "user_1"); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("CheckJoin() off-list group error = %v, want ErrNotAllowed", err)
	}
}

func TestCheckJoinGroupCap(t *testing.T) {
	mem := store.NewMemory()
	g := NewGuard(mem, WithMaxGroups(2))
	ctx := context.Background()

	seedUser(t, mem, "g1", "user_1")
	seedUser(t, mem, "g2", "user_1")

	// A third group is over the cap.
	if err := g.CheckJoin(ctx, "g3", "user_1"); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("CheckJoin() new group over cap error = %v, want ErrQuotaExceeded", err)
	}

	// Joining an existing group is fine.
	if err := g.CheckJoin(ctx, "g1", "user_2"); err != nil {
		t.Errorf("CheckJoin() existing group error = %v", err)
	}
}

func TestCheckJoinUserCap(t *testing.T) {
	mem := store.NewMemory()
	g := NewGuard(mem, WithMaxUsersPerGroup(3))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seedUser(t, mem, "full", fmt.Sprintf("user_%d", i))
	}

	if err := g.CheckJoin(ctx, "full", "user_new"); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("CheckJoin() full group error = %v, want ErrQuotaExceeded", err)
	}

	// A member already in the group reclaims freely even when full.
	if err := g.CheckJoin(ctx, "full", "user_1"); err != nil {
		t.Errorf("CheckJoin() existing member of full group error = %v", err)
	}
}

func TestCheckJoinDisabledLimits(t *testing.T) {
	mem := store.NewMemory()
	g := NewGuard(mem, WithMaxGroups(0), WithMaxUsersPerGroup(0))
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		seedUser(t, mem, fmt.Sprintf("g%d", i), "user_1")
	}
	if err := g.CheckJoin(ctx, "one-more", "user_1"); err != nil {
		t.Errorf("CheckJoin() with disabled limits error = %v", err)
	}
}

func TestAvailability(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	seedUser(t, mem, "g1", "user_1")
	seedUser(t, mem, "g1", "user_2")

	t.Run("existing group with room", func(t *testing.T) {
		g := NewGuard(mem, WithMaxUsersPerGroup(3))
		avail, err := g.Availability(ctx, "g1")
		if err != nil {
			t.Fatalf("Availability() error = %v", err)
		}
		if !avail.Available || avail.UserCount != 2 || avail.MaxUsers != 3 {
			t.Errorf("Availability() = %+v", avail)
		}
	})

	t.Run("full group", func(t *testing.T) {
		g := NewGuard(mem, WithMaxUsersPerGroup(2))
		avail, _ := g.Availability(ctx, "g1")
		if avail.Available || avail.Reason != "group full" {
			t.Errorf("Availability() = %+v, want group full", avail)
		}
	})

	t.Run("new group under cap", func(t *testing.T) {
		g := NewGuard(mem)
		avail, _ := g.Availability(ctx, "fresh")
		if !avail.Available || avail.Reason != "new group" {
			t.Errorf("Availability() = %+v, want new group", avail)
		}
	})

	t.Run("new group over cap", func(t *testing.T) {
		g := NewGuard(mem, WithMaxGroups(1))
		avail, _ := g.Availability(ctx, "fresh")
		if avail.Available || avail.Reason != "group limit reached" {
			t.Errorf("Availability() = %+v, want group limit reached", avail)
		}
	})

	t.Run("off allowlist", func(t *testing.T) {
		g := NewGuard(mem, WithAllowedGroups([]string{"g1"}))
		avail, _ := g.Availability(ctx, "fresh")
		if avail.Available || avail.Reason != "group not in allowlist" {
			t.Errorf("Availability() = %+v, want allowlist rejection", avail)
		}
	})
}
