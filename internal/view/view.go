// Package view computes what the user currently sees: the schedule filtered
// by search, view selection and friend filter, per-user talk lists, and the
// "who is here" map. Everything here is a pure function over a Snapshot, so
// projections stay callable at any moment against whatever mirror state the
// live subscriptions have delivered so far.
package view

import (
	"sort"
	"strings"

	"github.com/fosdem-friends/talktrack/internal/attendance"
	"github.com/fosdem-friends/talktrack/internal/schedule"
)

// View selects which projection of the schedule is shown.
type View string

const (
	// Schedule shows the full schedule.
	Schedule View = "schedule"
	// MyPlan shows only talks the current user marked going.
	MyPlan View = "myplan"
	// Friends shows talks through the friend filter.
	Friends View = "friends"
)

// Valid reports whether v is a known view.
func (v View) Valid() bool {
	return v == Schedule || v == MyPlan || v == Friends
}

// FilterType discriminates the friend filter.
type FilterType string

const (
	// FilterNone means no friend filter is active.
	FilterNone FilterType = "none"
	// FilterUser filters to one user's going markers.
	FilterUser FilterType = "user"
)

// Filter is the friends-view filter selection.
type Filter struct {
	Type  FilterType `json:"type"`
	Value string     `json:"value"`
}

// NoFilter is the cleared filter state.
var NoFilter = Filter{Type: FilterNone}

// AnonymousNickname stands in for uids with no user record.
const AnonymousNickname = "Anonymous"

// Snapshot is the read-only state a projection runs against. The maps are
// owned by the session's live mirrors; projections only read them.
type Snapshot struct {
	Schedule   map[string]*schedule.Track
	Users      attendance.Users
	Attendance attendance.Snapshot
	UID        string
	View       View
	Filter     Filter
	Search     string
}

// ScheduledTalk is a talk resolved to its track, as returned by per-user
// talk lists and slug lookup.
type ScheduledTalk struct {
	schedule.Talk
	TrackSlug string `json:"track_slug"`
	TrackName string `json:"track_name"`
}

// Attendee pairs a uid with its display nickname.
type Attendee struct {
	UID      string `json:"uid"`
	Nickname string `json:"nickname"`
}

// FilteredTalks returns the schedule narrowed to the current search, view
// and filter. Precedence: a non-empty search overrides everything; then the
// view-specific filters apply; tracks left without talks are dropped.
func FilteredTalks(s Snapshot) map[string]*schedule.Track {
	filtered := make(map[string]*schedule.Track)
	search := strings.ToLower(s.Search)

	for trackSlug, track := range s.Schedule {
		var talks []schedule.Talk
		for _, talk := range track.Talks {
			if keepTalk(s, search, talk) {
				talks = append(talks, talk)
			}
		}
		if len(talks) > 0 {
			filtered[trackSlug] = &schedule.Track{Name: track.Name, Talks: talks}
		}
	}
	return filtered
}

func keepTalk(s Snapshot, search string, talk schedule.Talk) bool {
	if search != "" {
		return strings.Contains(strings.ToLower(talk.Title), search) ||
			strings.Contains(strings.ToLower(talk.Slug), search)
	}
	if s.View == MyPlan {
		return s.Attendance.Has(talk.Slug, attendance.Going, s.UID)
	}
	if s.View == Friends && s.Filter.Type == FilterUser {
		return s.Attendance.Has(talk.Slug, attendance.Going, s.Filter.Value)
	}
	return true
}

// TalksFor collects every talk uid marked going, resolved to full talk and
// track details, ordered by (date, start) like the schedule itself. The walk
// goes over the schedule rather than the attendance map so ties on equal
// (date, start) keep schedule order deterministically.
func TalksFor(s Snapshot, uid string) []ScheduledTalk {
	trackSlugs := make([]string, 0, len(s.Schedule))
	for trackSlug := range s.Schedule {
		trackSlugs = append(trackSlugs, trackSlug)
	}
	sort.Strings(trackSlugs)

	var talks []ScheduledTalk
	for _, trackSlug := range trackSlugs {
		track := s.Schedule[trackSlug]
		for _, talk := range track.Talks {
			if s.Attendance.Has(talk.Slug, attendance.Going, uid) {
				talks = append(talks, ScheduledTalk{Talk: talk, TrackSlug: trackSlug, TrackName: track.Name})
			}
		}
	}
	sort.SliceStable(talks, func(i, j int) bool {
		if talks[i].Date != talks[j].Date {
			return talks[i].Date < talks[j].Date
		}
		return talks[i].Start < talks[j].Start
	})
	return talks
}

// HereStatus maps each uid to the talk it is currently at. The exclusivity
// invariant promises at most one here marker per uid; if a direct store
// write violated it anyway, whichever marker is seen last wins.
func HereStatus(s Snapshot) map[string]string {
	status := make(map[string]string)
	for talkSlug, kinds := range s.Attendance {
		for uid := range kinds[attendance.Here] {
			status[uid] = talkSlug
		}
	}
	return status
}

// IsAttending reports whether uid holds the given marker on a talk.
func IsAttending(s Snapshot, talkSlug string, kind attendance.Kind, uid string) bool {
	return s.Attendance.Has(talkSlug, kind, uid)
}

// Attendees lists who holds the given marker on a talk, with nicknames
// resolved from the user mirror. Sorted by nickname then uid so output is
// stable.
func Attendees(s Snapshot, talkSlug string, kind attendance.Kind) []Attendee {
	uids := s.Attendance.UIDs(talkSlug, kind)
	attendees := make([]Attendee, 0, len(uids))
	for _, uid := range uids {
		attendees = append(attendees, Attendee{UID: uid, Nickname: Nickname(s, uid)})
	}
	sort.Slice(attendees, func(i, j int) bool {
		if attendees[i].Nickname != attendees[j].Nickname {
			return attendees[i].Nickname < attendees[j].Nickname
		}
		return attendees[i].UID < attendees[j].UID
	})
	return attendees
}

// Nickname resolves a uid to its display nickname, falling back to
// AnonymousNickname for uids with no record.
func Nickname(s Snapshot, uid string) string {
	if u, ok := s.Users[uid]; ok && u.Nickname != "" {
		return u.Nickname
	}
	return AnonymousNickname
}

// OtherUsers lists every group member except the current user, sorted by
// nickname then uid.
func OtherUsers(s Snapshot) []Attendee {
	others := make([]Attendee, 0, len(s.Users))
	for uid, u := range s.Users {
		if uid == s.UID {
			continue
		}
		others = append(others, Attendee{UID: uid, Nickname: u.Nickname})
	}
	sort.Slice(others, func(i, j int) bool {
		if others[i].Nickname != others[j].Nickname {
			return others[i].Nickname < others[j].Nickname
		}
		return others[i].UID < others[j].UID
	})
	return others
}

// TalkBySlug finds a talk anywhere in the schedule by linear scan.
func TalkBySlug(s Snapshot, talkSlug string) (ScheduledTalk, bool) {
	for trackSlug, track := range s.Schedule {
		for _, talk := range track.Talks {
			if talk.Slug == talkSlug {
				return ScheduledTalk{Talk: talk, TrackSlug: trackSlug, TrackName: track.Name}, true
			}
		}
	}
	return ScheduledTalk{}, false
}
