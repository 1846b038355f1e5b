package identity

import (
	"strings"
	"testing"
)

func TestDeriveUIDDeterminism(t *testing.T) {
	tests := []struct {
		name     string
		group    string
		nickname string
	}{
		{name: "plain ascii", group: "devgroup", nickname: "alice"},
		{name: "mixed case", group: "DevGroup", nickname: "Alice"},
		{name: "spaces preserved", group: "my group", nickname: "bob smith"},
		{name: "unicode nickname", group: "devgroup", nickname: "bjørn"},
		{name: "empty nickname", group: "devgroup", nickname: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := DeriveUID(tt.group, tt.nickname)
			second := DeriveUID(tt.group, tt.nickname)
			if first != second {
				t.Errorf("DeriveUID() not deterministic: %q vs %q", first, second)
			}
			if !strings.HasPrefix(first, UIDPrefix) {
				t.Errorf("DeriveUID() = %q, want %q prefix", first, UIDPrefix)
			}
		})
	}
}

func TestDeriveUIDCaseFolding(t *testing.T) {
	base := DeriveUID("devgroup", "alice")

	if got := DeriveUID("devgroup", "Alice"); got != base {
		t.Errorf("nickname case changed uid: %q vs %q", got, base)
	}
	if got := DeriveUID("DEVGROUP", "alice"); got != base {
		t.Errorf("group case changed uid: %q vs %q", got, base)
	}
	if got := DeriveUID("DevGroup", "ALICE"); got != base {
		t.Errorf("combined case changed uid: %q vs %q", got, base)
	}
}

func TestDeriveUIDDistinguishesIdentities(t *testing.T) {
	tests := []struct {
		name string
		a, b [2]string // (group, nickname)
	}{
		{name: "different nicknames", a: [2]string{"devgroup", "alice"}, b: [2]string{"devgroup", "bob"}},
		{name: "different groups", a: [2]string{"devgroup", "alice"}, b: [2]string{"othergroup", "alice"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if DeriveUID(tt.a[0], tt.a[1]) == DeriveUID(tt.b[0], tt.b[1]) {
				t.Error("distinct identities collided")
			}
		})
	}
}

func TestHashPinGroupSalt(t *testing.T) {
	if HashPin("1234", "groupa") == HashPin("1234", "groupb") {
		t.Error("same PIN in different groups should hash differently")
	}
	if HashPin("1234", "group") != HashPin("1234", "group") {
		t.Error("HashPin() not deterministic")
	}
	// The salt is not case-folded: a group name differing only in case
	// produces a different pin hash even though it is the same group for
	// uid purposes. Documented behavior, kept for record compatibility.
	if HashPin("1234", "Group") == HashPin("1234", "group") {
		t.Error("pin salt should be case sensitive")
	}
}

func TestVerifyPin(t *testing.T) {
	stored := HashPin("1234", "devgroup")

	tests := []struct {
		name       string
		storedHash string
		pin        string
		want       bool
	}{
		{name: "correct pin", storedHash: stored, pin: "1234", want: true},
		{name: "wrong pin", storedHash: stored, pin: "9999", want: false},
		{name: "empty pin against stored hash", storedHash: stored, pin: "", want: false},
		{name: "legacy record passes any pin", storedHash: "", pin: "whatever", want: true},
		{name: "legacy record passes empty pin", storedHash: "", pin: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPin(tt.storedHash, tt.pin, "devgroup"); got != tt.want {
				t.Errorf("VerifyPin() = %v, want %v", got, tt.want)
			}
		})
	}
}
