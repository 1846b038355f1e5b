// Package session implements the identity-claim protocol and owns all
// process-local tracker state: the active identity, the parsed schedule,
// and the live mirrors of the group's users and attendance.
//
// Registration is deliberately lookup-free: the uid is derived from the
// case-folded (group, nickname) pair, so claiming and reclaiming a nickname
// is a single read of groups/{group}/users/{uid} with no server-side index.
// Two genuine users who pick the same pair race last-write-wins at the
// store; the protocol does not detect that, and the PIN check exists only
// to make accidental collisions annoying rather than silent.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fosdem-friends/talktrack/internal/attendance"
	"github.com/fosdem-friends/talktrack/internal/auth"
	"github.com/fosdem-friends/talktrack/internal/events"
	"github.com/fosdem-friends/talktrack/internal/identity"
	"github.com/fosdem-friends/talktrack/internal/localstore"
	"github.com/fosdem-friends/talktrack/internal/quota"
	"github.com/fosdem-friends/talktrack/internal/schedule"
	"github.com/fosdem-friends/talktrack/internal/store"
	"github.com/fosdem-friends/talktrack/internal/tracing"
	"github.com/fosdem-friends/talktrack/internal/view"
)

// Protocol failure kinds. All failures surface to the caller of the
// triggering operation; nothing here retries.
var (
	// ErrInvalidInput means nickname or group was empty after trimming, or
	// an enum argument was out of range.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAuth means the anonymous auth collaborator rejected the session.
	ErrAuth = errors.New("authentication failed")
	// ErrIncorrectPin means a PIN was supplied and did not match the hash
	// on record.
	ErrIncorrectPin = errors.New("incorrect pin")
	// ErrPinRequired signals the caller should prompt for a PIN. The
	// permissive reclaim path never returns it; it remains part of the
	// error vocabulary for stricter callers.
	ErrPinRequired = errors.New("pin required")
	// ErrNotJoined means an attendance action was attempted with no active
	// session.
	ErrNotJoined = errors.New("not joined to a group")
)

// Registration is the result of a successful claim.
type Registration struct {
	UID      string `json:"uid"`
	Nickname string `json:"nickname"`
	Group    string `json:"group"`
	Existing bool   `json:"existing"`
}

// State is the read-only snapshot handed to the delivery layer.
type State struct {
	LoggedIn       bool        `json:"logged_in"`
	UID            string      `json:"uid,omitempty"`
	Nickname       string      `json:"nickname,omitempty"`
	Group          string      `json:"group,omitempty"`
	View           view.View   `json:"view"`
	Filter         view.Filter `json:"filter"`
	Search         string      `json:"search"`
	ScheduleLoaded bool        `json:"schedule_loaded"`
	UserCount      int         `json:"user_count"`
}

// Options wires a Session's collaborators.
type Options struct {
	Store  store.Store
	Auth   auth.Authenticator
	Local  localstore.Store
	Guard  *quota.Guard // optional; nil disables quota checks
	Bus    *events.Bus  // optional; a private bus is created when nil
	Logger *slog.Logger
}

// Session owns tracker state. One Session serves one user in one group at a
// time, mirroring the single application instance the protocol was designed
// around. Methods are safe for concurrent use; claim and attendance
// operations serialize against each other.
type Session struct {
	store  store.Store
	auth   auth.Authenticator
	local  localstore.Store
	guard  *quota.Guard
	bus    *events.Bus
	logger *slog.Logger

	mu          sync.Mutex
	uid         string
	nickname    string
	group       string
	adapter     *attendance.Adapter
	scheduleMap map[string]*schedule.Track
	users       attendance.Users
	att         attendance.Snapshot
	currentView view.View
	filter      view.Filter
	search      string
	initialized bool
	cancelWatch context.CancelFunc
}

// New creates a Session. Store, Auth and Local are required.
func New(opts Options) (*Session, error) {
	if opts.Store == nil || opts.Auth == nil || opts.Local == nil {
		return nil, errors.New("session: store, auth and local store are required")
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		store:       opts.Store,
		auth:        opts.Auth,
		local:       opts.Local,
		guard:       opts.Guard,
		bus:         bus,
		logger:      logger,
		currentView: view.Schedule,
		filter:      view.NoFilter,
	}

	s.auth.OnAuthStateChange(func(sessionID string) {
		s.bus.Publish(events.AuthStateChanged, sessionID)
	})
	return s, nil
}

// Bus exposes the notification bus for subscribers.
func (s *Session) Bus() *events.Bus {
	return s.bus
}

// On subscribes a handler to a session event.
func (s *Session) On(event events.Event, handler events.Handler) func() {
	return s.bus.Subscribe(event, handler)
}

// LoadSchedule parses a schedule document and installs it. Callers fetch
// the document themselves; the session only sees bytes.
func (s *Session) LoadSchedule(doc []byte) error {
	tracks, err := schedule.Parse(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.scheduleMap = tracks
	active := s.uid != ""
	s.mu.Unlock()

	s.bus.Publish(events.ScheduleLoaded, tracks)

	if active {
		s.startWatches()
	}
	return nil
}

// Register claims (or reclaims) a nickname in a group. pin may be empty.
//
// An absent record is created after the quota guard approves. For an
// existing record a supplied PIN is verified against the stored hash —
// permissively, so records without a hash accept anything. A reclaim with
// no PIN supplied skips verification entirely, even against a protected
// record; see the package notes on the protocol's threat model.
func (s *Session) Register(ctx context.Context, nickname, group, pin string) (reg Registration, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "register")
	defer func() { endSpan(err) }()

	nickname = strings.TrimSpace(nickname)
	group = strings.TrimSpace(group)
	if nickname == "" || group == "" {
		return Registration{}, fmt.Errorf("%w: nickname and group are required", ErrInvalidInput)
	}

	if _, err := s.auth.EnsureAnonymousSession(ctx); err != nil {
		return Registration{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	uid := identity.DeriveUID(group, nickname)
	adapter := attendance.NewAdapter(s.store, group)

	existing := true
	record, err := adapter.User(ctx, uid)
	switch {
	case errors.Is(err, store.ErrNotFound):
		existing = false
		if s.guard != nil {
			if err := s.guard.CheckJoin(ctx, group, uid); err != nil {
				return Registration{}, err
			}
		}
		pinHash := ""
		if pin != "" {
			pinHash = identity.HashPin(pin, group)
		}
		if _, err := adapter.CreateUser(ctx, uid, nickname, pinHash); err != nil {
			return Registration{}, err
		}
	case err != nil:
		return Registration{}, err
	default:
		if pin != "" && !identity.VerifyPin(record.PinHash, pin, group) {
			return Registration{}, ErrIncorrectPin
		}
		if _, err := adapter.TouchUser(ctx, uid, record); err != nil {
			return Registration{}, err
		}
	}

	s.mu.Lock()
	s.uid = uid
	s.nickname = nickname
	s.group = group
	s.adapter = adapter
	scheduleLoaded := s.scheduleMap != nil
	s.mu.Unlock()

	if err := s.local.Set(localstore.GroupKey, group); err != nil {
		s.logger.Warn("failed to persist group", slog.String("error", err.Error()))
	}
	if err := s.local.Set(localstore.NicknameKey, nickname); err != nil {
		s.logger.Warn("failed to persist nickname", slog.String("error", err.Error()))
	}

	reg = Registration{UID: uid, Nickname: nickname, Group: group, Existing: existing}
	s.bus.Publish(events.UserChanged, &reg)

	if scheduleLoaded {
		s.startWatches()
	}
	return reg, nil
}

// Restore re-enters a previous session from the persisted group and
// nickname. It never fails: any missing precondition — no persisted hints,
// auth unavailable, record gone, nickname mismatch — yields nil, meaning
// "no session to restore".
func (s *Session) Restore(ctx context.Context) *Registration {
	group := s.local.Get(localstore.GroupKey)
	nickname := s.local.Get(localstore.NicknameKey)
	if group == "" || nickname == "" {
		return nil
	}

	if _, err := s.auth.EnsureAnonymousSession(ctx); err != nil {
		s.logger.Warn("session restore: auth unavailable", slog.String("error", err.Error()))
		return nil
	}

	uid := identity.DeriveUID(group, nickname)
	adapter := attendance.NewAdapter(s.store, group)

	record, err := adapter.User(ctx, uid)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("session restore: user lookup failed", slog.String("error", err.Error()))
		}
		return nil
	}
	// Defend against stale hints pointing at a record someone else rewrote.
	if !strings.EqualFold(record.Nickname, nickname) {
		return nil
	}

	s.mu.Lock()
	s.uid = uid
	s.nickname = nickname
	s.group = group
	s.adapter = adapter
	scheduleLoaded := s.scheduleMap != nil
	s.mu.Unlock()

	reg := Registration{UID: uid, Nickname: nickname, Group: group, Existing: true}
	s.bus.Publish(events.UserChanged, &reg)

	if scheduleLoaded {
		s.startWatches()
	}
	return &reg
}

// Logout clears the persisted hints and all in-memory session state. The
// original application followed this with a full page reload; the server
// equivalent is tearing the state down to where only LoadSchedule has run.
func (s *Session) Logout() {
	if err := s.local.Delete(localstore.GroupKey); err != nil {
		s.logger.Warn("failed to clear persisted group", slog.String("error", err.Error()))
	}
	if err := s.local.Delete(localstore.NicknameKey); err != nil {
		s.logger.Warn("failed to clear persisted nickname", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	if s.cancelWatch != nil {
		s.cancelWatch()
		s.cancelWatch = nil
	}
	s.uid = ""
	s.nickname = ""
	s.group = ""
	s.adapter = nil
	s.users = nil
	s.att = nil
	s.initialized = false
	s.currentView = view.Schedule
	s.filter = view.NoFilter
	s.search = ""
	s.mu.Unlock()

	s.bus.Publish(events.UserChanged, (*Registration)(nil))
}

// ToggleAttendance flips a marker for the current user on a talk. Marked
// becomes unmarked and vice versa. Setting a here marker first clears the
// user's here markers everywhere else; a user is at one talk at a time.
//
// The read-then-write is not transactional: a concurrent writer on the
// same marker resolves last-write-wins at the store.
func (s *Session) ToggleAttendance(ctx context.Context, talkSlug string, kind attendance.Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown attendance kind %q", ErrInvalidInput, kind)
	}

	s.mu.Lock()
	uid := s.uid
	adapter := s.adapter
	s.mu.Unlock()
	if uid == "" || adapter == nil {
		return ErrNotJoined
	}

	has, err := adapter.HasMarker(ctx, talkSlug, kind, uid)
	if err != nil {
		return err
	}
	if has {
		return adapter.RemoveMarker(ctx, talkSlug, kind, uid)
	}
	if kind == attendance.Here {
		if err := adapter.ClearHere(ctx, uid); err != nil {
			return err
		}
	}
	return adapter.SetMarker(ctx, talkSlug, kind, uid)
}

// startWatches brings up the live mirrors once per session. Subsequent
// calls while subscribed are no-ops; Logout resets the guard flag.
func (s *Session) startWatches() {
	s.mu.Lock()
	if s.initialized || s.adapter == nil {
		s.mu.Unlock()
		return
	}
	s.initialized = true
	adapter := s.adapter
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelWatch = cancel
	s.mu.Unlock()

	// A failed subscription clears the guard flag again so the next
	// caller retries instead of running without live mirrors.
	usersCh, err := adapter.WatchUsers(ctx)
	if err != nil {
		s.logger.Error("failed to watch users", slog.String("error", err.Error()))
		s.resetWatches(cancel)
		return
	}
	attCh, err := adapter.WatchAttendance(ctx)
	if err != nil {
		s.logger.Error("failed to watch attendance", slog.String("error", err.Error()))
		s.resetWatches(cancel)
		return
	}

	go func() {
		for users := range usersCh {
			s.mu.Lock()
			s.users = users
			s.mu.Unlock()
			s.bus.Publish(events.UsersUpdated, users)
		}
	}()
	go func() {
		for att := range attCh {
			s.mu.Lock()
			s.att = att
			s.mu.Unlock()
			s.bus.Publish(events.AttendanceUpdated, att)
		}
	}()
}

// resetWatches rolls back a failed startWatches attempt.
func (s *Session) resetWatches(cancel context.CancelFunc) {
	cancel()
	s.mu.Lock()
	s.initialized = false
	s.cancelWatch = nil
	s.mu.Unlock()
}

// snapshot captures the current projection input. The maps inside are
// replaced wholesale by the mirrors, never mutated in place, so sharing
// them read-only is safe.
func (s *Session) snapshot() view.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view.Snapshot{
		Schedule:   s.scheduleMap,
		Users:      s.users,
		Attendance: s.att,
		UID:        s.uid,
		View:       s.currentView,
		Filter:     s.filter,
		Search:     s.search,
	}
}

// State returns a read-only summary of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		LoggedIn:       s.uid != "",
		UID:            s.uid,
		Nickname:       s.nickname,
		Group:          s.group,
		View:           s.currentView,
		Filter:         s.filter,
		Search:         s.search,
		ScheduleLoaded: s.scheduleMap != nil,
		UserCount:      len(s.users),
	}
}

// FilteredTalks projects the schedule through the current search, view and
// filter.
func (s *Session) FilteredTalks() map[string]*schedule.Track {
	return view.FilteredTalks(s.snapshot())
}

// MyTalks lists the current user's planned talks in schedule order.
func (s *Session) MyTalks() []view.ScheduledTalk {
	snap := s.snapshot()
	return view.TalksFor(snap, snap.UID)
}

// TalksForUser lists a group member's planned talks in schedule order.
func (s *Session) TalksForUser(uid string) []view.ScheduledTalk {
	return view.TalksFor(s.snapshot(), uid)
}

// HereStatus maps uids to the talk each user is currently at.
func (s *Session) HereStatus() map[string]string {
	return view.HereStatus(s.snapshot())
}

// IsUserAttending reports whether the current user holds a marker on a talk.
func (s *Session) IsUserAttending(talkSlug string, kind attendance.Kind) bool {
	snap := s.snapshot()
	if snap.UID == "" {
		return false
	}
	return view.IsAttending(snap, talkSlug, kind, snap.UID)
}

// GetAttendees lists who holds a marker on a talk, nicknames resolved.
func (s *Session) GetAttendees(talkSlug string, kind attendance.Kind) []view.Attendee {
	return view.Attendees(s.snapshot(), talkSlug, kind)
}

// GetTalkBySlug looks a talk up anywhere in the schedule.
func (s *Session) GetTalkBySlug(talkSlug string) (view.ScheduledTalk, bool) {
	return view.TalkBySlug(s.snapshot(), talkSlug)
}

// GetNickname resolves a uid to a display nickname.
func (s *Session) GetNickname(uid string) string {
	return view.Nickname(s.snapshot(), uid)
}

// GetOtherUsers lists every group member except the current user.
func (s *Session) GetOtherUsers() []view.Attendee {
	return view.OtherUsers(s.snapshot())
}

// SetCurrentView switches the active view.
func (s *Session) SetCurrentView(v view.View) error {
	if !v.Valid() {
		return fmt.Errorf("%w: unknown view %q", ErrInvalidInput, v)
	}
	s.mu.Lock()
	s.currentView = v
	s.mu.Unlock()

	s.bus.Publish(events.ViewChanged, v)
	return nil
}

// SetSearchQuery updates the search filter.
func (s *Session) SetSearchQuery(query string) {
	s.mu.Lock()
	s.search = query
	s.mu.Unlock()
}

// SetFilter sets the friends-view filter.
func (s *Session) SetFilter(t view.FilterType, value string) error {
	if t != view.FilterNone && t != view.FilterUser {
		return fmt.Errorf("%w: unknown filter type %q", ErrInvalidInput, t)
	}
	s.mu.Lock()
	s.filter = view.Filter{Type: t, Value: value}
	s.mu.Unlock()
	return nil
}

// ClearFilter resets the friends-view filter.
func (s *Session) ClearFilter() {
	s.mu.Lock()
	s.filter = view.NoFilter
	s.mu.Unlock()
}

// CheckSavedSession returns the persisted group name, if any, without
// touching the store. A cheap "might Restore succeed" probe.
func (s *Session) CheckSavedSession() string {
	return s.local.Get(localstore.GroupKey)
}

// Availability reports whether a group can take a new member. With no
// quota guard configured everything is available.
func (s *Session) Availability(ctx context.Context, group string) (quota.Availability, error) {
	if s.guard == nil {
		return quota.Availability{Available: true}, nil
	}
	return s.guard.Availability(ctx, group)
}
