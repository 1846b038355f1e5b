// Package identity derives stable per-(group, nickname) identities and PIN
// hashes for group members.
//
// The uid is a pure function of the case-folded (group, nickname) pair, so
// any client can recompute it without consulting a server-side index. Two
// users who pick the same nickname in the same group land on the same uid;
// that is what makes nickname reclaim work, and it is why the PIN exists as
// a casual deterrent. None of this is cryptography and none of it pretends
// to be.
package identity

import (
	"fmt"
	"strings"
)

// UIDPrefix is prepended to every derived uid.
const UIDPrefix = "user_"

// fold31 folds each code point of s into a 31-polynomial rolling hash with
// 32-bit wraparound, seed 0. The exact construction is load-bearing: uids
// derived by earlier deployments must keep matching persisted records.
func fold31(s string) int32 {
	var h int32
	for _, r := range s {
		h = h*31 + int32(r)
	}
	return h
}

// hex formats the absolute value of h in lowercase hexadecimal.
func hex(h int32) string {
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return fmt.Sprintf("%x", v)
}

// DeriveUID returns the deterministic uid for a (group, nickname) pair.
// Both inputs are case-folded first, so "Alice" and "alice" resolve to the
// same identity within a group.
func DeriveUID(group, nickname string) string {
	key := strings.ToLower(group) + ":" + strings.ToLower(nickname)
	return UIDPrefix + hex(fold31(key))
}

// HashPin hashes a PIN salted with the group name. The group is used as-is,
// not case-folded, matching how the salt is applied at registration time.
func HashPin(pin, group string) string {
	return hex(fold31(pin + group))
}

// VerifyPin reports whether the supplied PIN matches the stored hash.
// An empty storedHash means the record predates PIN support; verification
// passes in that case regardless of the supplied PIN. Permissive on purpose.
func VerifyPin(storedHash, pin, group string) bool {
	if storedHash == "" {
		return true
	}
	return HashPin(pin, group) == storedHash
}
