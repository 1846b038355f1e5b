// Package attendance is the typed adapter between the session protocol and
// the external key-tree store. It owns path construction under
// groups/{group}/... and the wire shape of user records and attendance
// markers.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fosdem-friends/talktrack/internal/store"
)

// Kind is an attendance-intent marker type.
type Kind string

const (
	// Going marks intent to attend a talk. Not exclusive; a user can plan
	// any number of talks.
	Going Kind = "going"
	// Here marks physical presence. Exclusive across talks per uid: the
	// session clears prior here markers before setting a new one.
	Here Kind = "here"
)

// Valid reports whether k is a known marker kind.
func (k Kind) Valid() bool {
	return k == Going || k == Here
}

// GroupUser is a member record within a group. Timestamps are
// server-assigned by the store backend.
type GroupUser struct {
	Nickname  string    `cbor:"nickname" json:"nickname"`
	CreatedAt time.Time `cbor:"created_at" json:"created_at"`
	LastSeen  time.Time `cbor:"last_seen" json:"last_seen"`
	PinHash   string    `cbor:"pin_hash,omitempty" json:"-"`
}

// Users mirrors the group's user map, keyed by uid.
type Users map[string]GroupUser

// Snapshot mirrors the group's attendance tree: talk slug → kind → uid.
// Marker existence means attending; there are no false entries.
type Snapshot map[string]map[Kind]map[string]bool

// Has reports whether a marker exists.
func (s Snapshot) Has(talkSlug string, kind Kind, uid string) bool {
	return s[talkSlug][kind][uid]
}

// UIDs returns the uids holding a marker of the given kind on a talk.
func (s Snapshot) UIDs(talkSlug string, kind Kind) []string {
	var uids []string
	for uid := range s[talkSlug][kind] {
		uids = append(uids, uid)
	}
	return uids
}

// Adapter scopes store operations to one group.
type Adapter struct {
	store store.Store
	group string
}

// NewAdapter creates an adapter rooted at groups/{group}.
func NewAdapter(st store.Store, group string) *Adapter {
	return &Adapter{store: st, group: group}
}

// Group returns the group this adapter is scoped to.
func (a *Adapter) Group() string {
	return a.group
}

func (a *Adapter) userPath(uid string) string {
	return store.Join("groups", a.group, "users", uid)
}

func (a *Adapter) usersPrefix() string {
	return store.Join("groups", a.group, "users")
}

func (a *Adapter) markerPath(talkSlug string, kind Kind, uid string) string {
	return store.Join("groups", a.group, "attendance", talkSlug, string(kind), uid)
}

func (a *Adapter) attendancePrefix() string {
	return store.Join("groups", a.group, "attendance")
}

// User reads a member record. Returns store.ErrNotFound when the uid has
// never registered in this group.
func (a *Adapter) User(ctx context.Context, uid string) (GroupUser, error) {
	data, err := a.store.Get(ctx, a.userPath(uid))
	if err != nil {
		return GroupUser{}, err
	}
	var u GroupUser
	if err := store.Decode(data, &u); err != nil {
		return GroupUser{}, fmt.Errorf("user record %s: %w", uid, err)
	}
	return u, nil
}

// CreateUser writes a fresh member record with server-assigned createdAt
// and lastSeen.
func (a *Adapter) CreateUser(ctx context.Context, uid, nickname, pinHash string) (GroupUser, error) {
	now, err := a.store.Now(ctx)
	if err != nil {
		return GroupUser{}, err
	}
	u := GroupUser{
		Nickname:  nickname,
		CreatedAt: now,
		LastSeen:  now,
		PinHash:   pinHash,
	}
	if err := a.putUser(ctx, uid, u); err != nil {
		return GroupUser{}, err
	}
	return u, nil
}

// TouchUser refreshes lastSeen on an existing record, leaving everything
// else as stored.
func (a *Adapter) TouchUser(ctx context.Context, uid string, u GroupUser) (GroupUser, error) {
	now, err := a.store.Now(ctx)
	if err != nil {
		return GroupUser{}, err
	}
	u.LastSeen = now
	if err := a.putUser(ctx, uid, u); err != nil {
		return GroupUser{}, err
	}
	return u, nil
}

func (a *Adapter) putUser(ctx context.Context, uid string, u GroupUser) error {
	data, err := store.Encode(u)
	if err != nil {
		return err
	}
	return a.store.Set(ctx, a.userPath(uid), data)
}

// HasMarker reports whether an attendance marker exists.
func (a *Adapter) HasMarker(ctx context.Context, talkSlug string, kind Kind, uid string) (bool, error) {
	_, err := a.store.Get(ctx, a.markerPath(talkSlug, kind, uid))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// SetMarker writes an attendance marker.
func (a *Adapter) SetMarker(ctx context.Context, talkSlug string, kind Kind, uid string) error {
	data, err := store.Encode(true)
	if err != nil {
		return err
	}
	return a.store.Set(ctx, a.markerPath(talkSlug, kind, uid), data)
}

// RemoveMarker deletes an attendance marker. Removing an absent marker is
// a no-op.
func (a *Adapter) RemoveMarker(ctx context.Context, talkSlug string, kind Kind, uid string) error {
	return a.store.Delete(ctx, a.markerPath(talkSlug, kind, uid))
}

// HereTalks returns every talk slug where uid currently holds a here
// marker. Under the exclusivity invariant there is at most one, but direct
// store writes can violate that, so all are reported.
func (a *Adapter) HereTalks(ctx context.Context, uid string) ([]string, error) {
	snap, err := a.store.List(ctx, a.attendancePrefix())
	if err != nil {
		return nil, err
	}
	var talks []string
	for talkSlug, kinds := range decodeAttendance(snap) {
		if kinds[Here][uid] {
			talks = append(talks, talkSlug)
		}
	}
	return talks, nil
}

// ClearHere removes every here marker uid holds, across all talks.
func (a *Adapter) ClearHere(ctx context.Context, uid string) error {
	talks, err := a.HereTalks(ctx, uid)
	if err != nil {
		return err
	}
	for _, talkSlug := range talks {
		if err := a.RemoveMarker(ctx, talkSlug, Here, uid); err != nil {
			return err
		}
	}
	return nil
}

// Attendance reads the group's full attendance tree once.
func (a *Adapter) Attendance(ctx context.Context) (Snapshot, error) {
	snap, err := a.store.List(ctx, a.attendancePrefix())
	if err != nil {
		return nil, err
	}
	return decodeAttendance(snap), nil
}

// WatchUsers subscribes to the group's user map. The channel closes when
// ctx is cancelled.
func (a *Adapter) WatchUsers(ctx context.Context) (<-chan Users, error) {
	raw, err := a.store.Watch(ctx, a.usersPrefix())
	if err != nil {
		return nil, err
	}
	out := make(chan Users)
	go func() {
		defer close(out)
		for snap := range raw {
			select {
			case out <- decodeUsers(snap):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// WatchAttendance subscribes to the group's attendance tree.
func (a *Adapter) WatchAttendance(ctx context.Context) (<-chan Snapshot, error) {
	raw, err := a.store.Watch(ctx, a.attendancePrefix())
	if err != nil {
		return nil, err
	}
	out := make(chan Snapshot)
	go func() {
		defer close(out)
		for snap := range raw {
			select {
			case out <- decodeAttendance(snap):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// decodeUsers turns a raw users subtree into a Users map. Records that fail
// to decode are skipped; one corrupt write must not blank the whole mirror.
func decodeUsers(snap store.Snapshot) Users {
	users := make(Users, len(snap))
	for uid, data := range snap {
		if strings.Contains(uid, "/") {
			continue
		}
		var u GroupUser
		if err := store.Decode(data, &u); err != nil {
			continue
		}
		users[uid] = u
	}
	return users
}

// decodeAttendance turns a raw attendance subtree into a marker tree.
// Relative keys have the shape talkSlug/kind/uid; anything else is ignored.
func decodeAttendance(snap store.Snapshot) Snapshot {
	tree := make(Snapshot)
	for rel := range snap {
		parts := strings.Split(rel, "/")
		if len(parts) != 3 {
			continue
		}
		talkSlug, kind, uid := parts[0], Kind(parts[1]), parts[2]
		if !kind.Valid() {
			continue
		}
		if tree[talkSlug] == nil {
			tree[talkSlug] = make(map[Kind]map[string]bool)
		}
		if tree[talkSlug][kind] == nil {
			tree[talkSlug][kind] = make(map[string]bool)
		}
		tree[talkSlug][kind][uid] = true
	}
	return tree
}
