package view

import (
	"testing"

	"github.com/fosdem-friends/talktrack/internal/attendance"
	"github.com/fosdem-friends/talktrack/internal/schedule"
)

const (
	uidAlice = "user_a"
	uidBob   = "user_b"
)

// testSnapshot builds a two-track schedule with attendance: Alice going to
// t1 and t3, Bob going to t2, Bob here at t2.
func testSnapshot() Snapshot {
	return Snapshot{
		Schedule: map[string]*schedule.Track{
			"main": {
				Name: "Main Track",
				Talks: []schedule.Talk{
					{Slug: "t1", Title: "Opening Keynote", Date: "2026-02-07", Start: "09:00"},
					{Slug: "t2", Title: "Kernel Internals", Date: "2026-02-07", Start: "10:30"},
				},
			},
			"go": {
				Name: "Go Devroom",
				Talks: []schedule.Talk{
					{Slug: "t3", Title: "Generics in Practice", Date: "2026-02-08", Start: "09:00"},
				},
			},
		},
		Users: attendance.Users{
			uidAlice: {Nickname: "Alice"},
			uidBob:   {Nickname: "Bob"},
		},
		Attendance: attendance.Snapshot{
			"t1": {attendance.Going: {uidAlice: true}},
			"t2": {attendance.Going: {uidBob: true}, attendance.Here: {uidBob: true}},
			"t3": {attendance.Going: {uidAlice: true}},
		},
		UID:    uidAlice,
		View:   Schedule,
		Filter: NoFilter,
	}
}

func talkSlugs(tracks map[string]*schedule.Track) []string {
	var slugs []string
	for _, track := range tracks {
		for _, talk := range track.Talks {
			slugs = append(slugs, talk.Slug)
		}
	}
	return slugs
}

func TestFilteredTalksScheduleView(t *testing.T) {
	s := testSnapshot()
	tracks := FilteredTalks(s)
	if len(tracks) != 2 || len(talkSlugs(tracks)) != 3 {
		t.Errorf("schedule view = %v, want all talks", talkSlugs(tracks))
	}
}

func TestFilteredTalksSearch(t *testing.T) {
	tests := []struct {
		name   string
		search string
		want   []string
	}{
		{name: "title substring", search: "kernel", want: []string{"t2"}},
		{name: "case insensitive", search: "KEYNOTE", want: []string{"t1"}},
		{name: "slug match", search: "t3", want: []string{"t3"}},
		{name: "no match drops everything", search: "nonexistent", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSnapshot()
			s.Search = tt.search
			got := talkSlugs(FilteredTalks(s))
			if len(got) != len(tt.want) {
				t.Fatalf("search %q = %v, want %v", tt.search, got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("search %q = %v, want %v", tt.search, got, tt.want)
				}
			}
		})
	}
}

func TestFilteredTalksSearchOverridesView(t *testing.T) {
	s := testSnapshot()
	s.View = MyPlan // Alice's plan is t1 and t3
	s.Search = "kernel"

	got := talkSlugs(FilteredTalks(s))
	if len(got) != 1 || got[0] != "t2" {
		t.Errorf("search under myplan = %v, want search to win with [t2]", got)
	}
}

func TestFilteredTalksMyPlan(t *testing.T) {
	s := testSnapshot()
	s.View = MyPlan

	tracks := FilteredTalks(s)
	slugs := talkSlugs(tracks)
	if len(slugs) != 2 {
		t.Fatalf("myplan = %v, want t1 and t3", slugs)
	}
	for _, slug := range slugs {
		if slug == "t2" {
			t.Error("myplan included a talk Alice is not going to")
		}
	}
}

func TestFilteredTalksFriendsFilter(t *testing.T) {
	s := testSnapshot()
	s.View = Friends
	s.Filter = Filter{Type: FilterUser, Value: uidBob}

	slugs := talkSlugs(FilteredTalks(s))
	if len(slugs) != 1 || slugs[0] != "t2" {
		t.Errorf("friends filter on Bob = %v, want [t2] ignoring Alice's own markers", slugs)
	}

	// Friends view without a user filter shows everything.
	s.Filter = NoFilter
	if got := talkSlugs(FilteredTalks(s)); len(got) != 3 {
		t.Errorf("friends view without filter = %v, want all talks", got)
	}
}

func TestFilteredTalksDropsEmptyTracks(t *testing.T) {
	s := testSnapshot()
	s.View = Friends
	s.Filter = Filter{Type: FilterUser, Value: uidBob}

	tracks := FilteredTalks(s)
	if _, ok := tracks["go"]; ok {
		t.Error("track with zero matching talks should be dropped")
	}
}

func TestTalksForSortsAcrossTracks(t *testing.T) {
	s := testSnapshot()

	talks := TalksFor(s, uidAlice)
	if len(talks) != 2 {
		t.Fatalf("TalksFor(alice) = %d talks, want 2", len(talks))
	}
	if talks[0].Slug != "t1" || talks[1].Slug != "t3" {
		t.Errorf("order = %s,%s, want t1,t3 by (date, start)", talks[0].Slug, talks[1].Slug)
	}
	if talks[0].TrackName != "Main Track" || talks[1].TrackName != "Go Devroom" {
		t.Errorf("track names = %s,%s", talks[0].TrackName, talks[1].TrackName)
	}
}

func TestTalksForBreaksTiesByScheduleOrder(t *testing.T) {
	// Parallel rooms: two talks sharing the same (date, start). Their
	// relative order must come from the schedule, not map iteration, and
	// must not change call to call.
	s := Snapshot{
		Schedule: map[string]*schedule.Track{
			"main": {
				Name: "Main Track",
				Talks: []schedule.Talk{
					{Slug: "ta", Title: "Room A Opener", Date: "2026-02-07", Start: "09:00"},
					{Slug: "tb", Title: "Room B Opener", Date: "2026-02-07", Start: "09:00"},
				},
			},
		},
		Attendance: attendance.Snapshot{
			"ta": {attendance.Going: {uidAlice: true}},
			"tb": {attendance.Going: {uidAlice: true}},
		},
		UID:    uidAlice,
		View:   Schedule,
		Filter: NoFilter,
	}

	for i := 0; i < 200; i++ {
		talks := TalksFor(s, uidAlice)
		if len(talks) != 2 {
			t.Fatalf("TalksFor() = %d talks, want 2", len(talks))
		}
		if talks[0].Slug != "ta" || talks[1].Slug != "tb" {
			t.Fatalf("call %d: order = %s,%s, want ta,tb from schedule order", i, talks[0].Slug, talks[1].Slug)
		}
	}
}

func TestTalksForSkipsUnknownSlugs(t *testing.T) {
	s := testSnapshot()
	// A marker for a talk missing from the schedule resolves to nothing.
	s.Attendance["ghost"] = map[attendance.Kind]map[string]bool{
		attendance.Going: {uidAlice: true},
	}

	if talks := TalksFor(s, uidAlice); len(talks) != 2 {
		t.Errorf("TalksFor() = %d talks, want unresolvable marker skipped", len(talks))
	}
}

func TestHereStatus(t *testing.T) {
	s := testSnapshot()

	status := HereStatus(s)
	if len(status) != 1 || status[uidBob] != "t2" {
		t.Errorf("HereStatus() = %v, want bob at t2", status)
	}
}

func TestIsAttending(t *testing.T) {
	s := testSnapshot()

	if !IsAttending(s, "t1", attendance.Going, uidAlice) {
		t.Error("IsAttending(t1, going, alice) = false, want true")
	}
	if IsAttending(s, "t1", attendance.Here, uidAlice) {
		t.Error("IsAttending(t1, here, alice) = true, want false")
	}
	if IsAttending(s, "t2", attendance.Going, uidAlice) {
		t.Error("IsAttending(t2, going, alice) = true, want false")
	}
}

func TestAttendees(t *testing.T) {
	s := testSnapshot()
	s.Attendance["t1"][attendance.Going][uidBob] = true

	got := Attendees(s, "t1", attendance.Going)
	if len(got) != 2 {
		t.Fatalf("Attendees() = %v, want 2", got)
	}
	// Sorted by nickname.
	if got[0].Nickname != "Alice" || got[1].Nickname != "Bob" {
		t.Errorf("Attendees() order = %v", got)
	}

	if got := Attendees(s, "t3", attendance.Here); len(got) != 0 {
		t.Errorf("Attendees() of unmarked talk = %v, want empty", got)
	}
}

func TestNicknameFallsBackToAnonymous(t *testing.T) {
	s := testSnapshot()

	if got := Nickname(s, uidAlice); got != "Alice" {
		t.Errorf("Nickname(alice) = %q", got)
	}
	if got := Nickname(s, "user_unknown"); got != AnonymousNickname {
		t.Errorf("Nickname(unknown) = %q, want %q", got, AnonymousNickname)
	}
}

func TestOtherUsersExcludesCurrent(t *testing.T) {
	s := testSnapshot()

	others := OtherUsers(s)
	if len(others) != 1 || others[0].UID != uidBob {
		t.Errorf("OtherUsers() = %v, want only bob", others)
	}
}

func TestTalkBySlug(t *testing.T) {
	s := testSnapshot()

	talk, ok := TalkBySlug(s, "t3")
	if !ok || talk.TrackSlug != "go" || talk.Title != "Generics in Practice" {
		t.Errorf("TalkBySlug(t3) = %+v, %v", talk, ok)
	}
	if _, ok := TalkBySlug(s, "missing"); ok {
		t.Error("TalkBySlug(missing) = ok, want false")
	}
}

func TestProjectionsTolerateEmptySnapshot(t *testing.T) {
	var s Snapshot

	if got := FilteredTalks(s); len(got) != 0 {
		t.Errorf("FilteredTalks(empty) = %v", got)
	}
	if got := TalksFor(s, uidAlice); len(got) != 0 {
		t.Errorf("TalksFor(empty) = %v", got)
	}
	if got := HereStatus(s); len(got) != 0 {
		t.Errorf("HereStatus(empty) = %v", got)
	}
	if got := Attendees(s, "t1", attendance.Going); len(got) != 0 {
		t.Errorf("Attendees(empty) = %v", got)
	}
	if got := Nickname(s, uidAlice); got != AnonymousNickname {
		t.Errorf("Nickname(empty) = %q", got)
	}
}
