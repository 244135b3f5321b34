// Package pow implements NIP-13 proof of work: a pure nonce search over an
// event's content hash, and a worker pool that runs searches away from the
// scheduling loops.
package pow

import (
	"math/bits"
	"strconv"

	"github.com/nbd-wtf/go-nostr"
)

// NonceTag is the tag name carrying the nonce.
const NonceTag = "nonce"

// LeadingZeroBits counts the leading zero bits of a hex encoded hash.
func LeadingZeroBits(id string) int {
	n := 0
	for i := 0; i < len(id); i++ {
		v, ok := nibble(id[i])
		if !ok {
			return n
		}
		if v == 0 {
			n += 4
			continue
		}
		return n + bits.LeadingZeros8(v) - 4
	}
	return n
}

// MeetsDifficulty reports whether id has at least target leading zero bits:
// the first target/4 nibbles must be zero and the high target%4 bits of the
// following nibble must be clear.
func MeetsDifficulty(id string, target int) bool {
	if target <= 0 {
		return true
	}
	full, rest := target/4, target%4
	if len(id) < full || (rest > 0 && len(id) <= full) {
		return false
	}
	for i := 0; i < full; i++ {
		if id[i] != '0' {
			return false
		}
	}
	if rest == 0 {
		return true
	}
	v, ok := nibble(id[full])
	if !ok {
		return false
	}
	mask := byte(0xF<<(4-rest)) & 0xF
	return v&mask == 0
}

// Mine searches for a nonce giving ev at least target leading zero bits and
// returns the mined copy with its ID set. The input is not modified; any
// nonce tag it carries is replaced. The signature of the result is stale and
// must be recomputed. target <= 0 returns ev unchanged.
//
// There is no timeout: the search runs until a nonce is found or stop
// returns true. stop may be nil.
func Mine(ev nostr.Event, target int, stop func() bool) (nostr.Event, bool) {
	if target <= 0 {
		return ev, true
	}

	tags := make(nostr.Tags, 0, len(ev.Tags)+1)
	for _, t := range ev.Tags {
		if len(t) > 0 && t[0] == NonceTag {
			continue
		}
		tags = append(tags, t)
	}
	nonce := nostr.Tag{NonceTag, "0", strconv.Itoa(target)}
	tags = append(tags, nonce)

	mined := ev
	mined.Tags = tags
	mined.Sig = ""

	for n := uint64(0); ; n++ {
		if stop != nil && n%4096 == 0 && stop() {
			return ev, false
		}
		nonce[1] = strconv.FormatUint(n, 10)
		id := mined.GetID()
		if MeetsDifficulty(id, target) {
			mined.ID = id
			return mined, true
		}
	}
}

// Committed returns the target declared in ev's nonce tag, or 0.
func Committed(ev *nostr.Event) int {
	for _, t := range ev.Tags {
		if len(t) >= 3 && t[0] == NonceTag {
			n, err := strconv.Atoi(t[2])
			if err == nil {
				return n
			}
		}
	}
	return 0
}

func nibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
