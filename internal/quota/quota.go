// Package quota enforces group and member limits during registration. In
// the original deployment this ran server-side next to the managed store;
// here it is a guard the session protocol consults before creating a member
// record. The session treats its errors as opaque terminal failures, never
// retried.
package quota

import (
	"context"
	"errors"
	"strings"

	"github.com/fosdem-friends/talktrack/internal/store"
)

// Default limits, matching the deployed enforcement function.
const (
	DefaultMaxGroups        = 10
	DefaultMaxUsersPerGroup = 50
)

// ErrQuotaExceeded is returned when a group or member cap is hit.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ErrNotAllowed is returned when the group is not on the configured
// allowlist.
var ErrNotAllowed = errors.New("group not allowed")

// Guard checks limits against live store state.
type Guard struct {
	store            store.Store
	maxGroups        int
	maxUsersPerGroup int
	allowedGroups    map[string]bool // nil means no allowlist
}

// Option configures a Guard.
type Option func(*Guard)

// WithMaxGroups overrides the group cap. Zero disables it.
func WithMaxGroups(n int) Option {
	return func(g *Guard) { g.maxGroups = n }
}

// WithMaxUsersPerGroup overrides the per-group member cap. Zero disables it.
func WithMaxUsersPerGroup(n int) Option {
	return func(g *Guard) { g.maxUsersPerGroup = n }
}

// WithAllowedGroups restricts joinable groups to the given names. An empty
// list means no restriction.
func WithAllowedGroups(groups []string) Option {
	return func(g *Guard) {
		if len(groups) == 0 {
			return
		}
		g.allowedGroups = make(map[string]bool, len(groups))
		for _, name := range groups {
			g.allowedGroups[name] = true
		}
	}
}

// NewGuard creates a Guard with the default limits.
func NewGuard(st store.Store, opts ...Option) *Guard {
	g := &Guard{
		store:            st,
		maxGroups:        DefaultMaxGroups,
		maxUsersPerGroup: DefaultMaxUsersPerGroup,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckJoin validates that uid may register in group. An already-registered
// uid always passes: reclaim and lastSeen refreshes are record updates, not
// new members.
func (g *Guard) CheckJoin(ctx context.Context, group, uid string) error {
	if g.allowedGroups != nil && !g.allowedGroups[group] {
		return ErrNotAllowed
	}

	users, err := g.store.List(ctx, store.Join("groups", group, "users"))
	if err != nil {
		return err
	}
	if _, exists := users[uid]; exists {
		return nil
	}

	if g.maxGroups > 0 && len(users) == 0 {
		// Brand-new group: count existing ones.
		count, err := g.groupCount(ctx)
		if err != nil {
			return err
		}
		if count >= g.maxGroups {
			return ErrQuotaExceeded
		}
	}

	if g.maxUsersPerGroup > 0 && len(users) >= g.maxUsersPerGroup {
		return ErrQuotaExceeded
	}
	return nil
}

// Availability describes whether a group can accept a new member.
type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason"`
	UserCount int    `json:"user_count"`
	MaxUsers  int    `json:"max_users"`
}

// Availability reports whether group can accept a new member, without
// mutating anything.
func (g *Guard) Availability(ctx context.Context, group string) (Availability, error) {
	avail := Availability{MaxUsers: g.maxUsersPerGroup}

	if g.allowedGroups != nil && !g.allowedGroups[group] {
		avail.Reason = "group not in allowlist"
		return avail, nil
	}

	users, err := g.store.List(ctx, store.Join("groups", group, "users"))
	if err != nil {
		return avail, err
	}
	avail.UserCount = len(users)

	if len(users) == 0 {
		if g.maxGroups > 0 {
			count, err := g.groupCount(ctx)
			if err != nil {
				return avail, err
			}
			if count >= g.maxGroups {
				avail.Reason = "group limit reached"
				return avail, nil
			}
		}
		avail.Available = true
		avail.Reason = "new group"
		return avail, nil
	}

	if g.maxUsersPerGroup > 0 && len(users) >= g.maxUsersPerGroup {
		avail.Reason = "group full"
		return avail, nil
	}

	avail.Available = true
	return avail, nil
}

// groupCount counts distinct groups with any data under them.
func (g *Guard) groupCount(ctx context.Context) (int, error) {
	snap, err := g.store.List(ctx, "groups")
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool)
	for rel := range snap {
		if name, _, ok := strings.Cut(rel, "/"); ok {
			seen[name] = true
		}
	}
	return len(seen), nil
}
