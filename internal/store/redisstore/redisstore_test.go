package redisstore

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fosdem-friends/talktrack/internal/store"
)

// newTestStore connects to a local Redis instance, skipping the test when
// none is available.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() })

	return New(client, nil)
}

// testPrefix returns a unique tree root so parallel runs do not collide.
func testPrefix() string {
	return "talktrack-test/" + strconv.FormatInt(time.Now().UnixNano(), 10)
}

func TestRedisGetSetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	prefix := testPrefix()

	path := prefix + "/users/u1"
	if _, err := s.Get(ctx, path); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get() of absent key error = %v, want ErrNotFound", err)
	}

	if err := s.Set(ctx, path, []byte("alice")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := s.Get(ctx, path)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "alice" {
		t.Errorf("Get() = %q, want %q", got, "alice")
	}

	if err := s.Delete(ctx, path); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, path); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestRedisList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	prefix := testPrefix()

	s.Set(ctx, prefix+"/attendance/t1/going/u1", []byte("1"))
	s.Set(ctx, prefix+"/attendance/t1/here/u1", []byte("1"))
	s.Set(ctx, prefix+"/users/u1", []byte("alice"))

	snap, err := s.List(ctx, prefix+"/attendance")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("List() = %v, want 2 entries", snap)
	}
	if string(snap["t1/going/u1"]) != "1" {
		t.Errorf("missing relative key t1/going/u1 in %v", snap)
	}
}

func TestRedisNow(t *testing.T) {
	s := newTestStore(t)

	now, err := s.Now(context.Background())
	if err != nil {
		t.Fatalf("Now() error = %v", err)
	}
	if d := time.Since(now); d < -time.Minute || d > time.Minute {
		t.Errorf("Now() = %v, drifted %v from local clock", now, d)
	}
}

func TestRedisWatch(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prefix := testPrefix()

	ch, err := s.Watch(ctx, prefix+"/users")
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// Initial snapshot is empty.
	snap := recvSnapshot(t, ch)
	if len(snap) != 0 {
		t.Fatalf("initial snapshot = %v, want empty", snap)
	}

	if err := s.Set(ctx, prefix+"/users/u1", []byte("alice")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	snap = waitForSnapshot(t, ch, func(s store.Snapshot) bool { return len(s) == 1 })
	if string(snap["u1"]) != "alice" {
		t.Errorf("snapshot = %v, want u1=alice", snap)
	}

	// Writes outside the prefix do not produce a differing snapshot; a
	// delete inside does.
	s.Set(ctx, prefix+"/attendance/t1/going/u1", []byte("1"))
	s.Delete(ctx, prefix+"/users/u1")
	snap = waitForSnapshot(t, ch, func(s store.Snapshot) bool { return len(s) == 0 })
	if len(snap) != 0 {
		t.Errorf("snapshot after delete = %v, want empty", snap)
	}
}

func recvSnapshot(t *testing.T, ch <-chan store.Snapshot) store.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("watch channel closed unexpectedly")
		}
		return snap
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

// waitForSnapshot reads snapshots until one satisfies ok, tolerating the
// coalescing behavior of the watch stream.
func waitForSnapshot(t *testing.T, ch <-chan store.Snapshot, ok func(store.Snapshot) bool) store.Snapshot {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap, open := <-ch:
			if !open {
				t.Fatal("watch channel closed unexpectedly")
			}
			if ok(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching snapshot")
			return nil
		}
	}
}
