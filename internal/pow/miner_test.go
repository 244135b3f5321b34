package pow

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip13"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSK = "0000000000000000000000000000000000000000000000000000000000000001"

func signedEvent(t *testing.T) nostr.Event {
	t.Helper()
	ev := nostr.Event{
		Kind:      1,
		CreatedAt: nostr.Timestamp(1700000000),
		Tags:      nostr.Tags{{"t", "nostr"}},
		Content:   "mine me",
	}
	require.NoError(t, ev.Sign(testSK))
	return ev
}

func TestLeadingZeroBits(t *testing.T) {
	tests := []struct {
		id   string
		want int
	}{
		{"ffff", 0},
		{"8000", 0},
		{"7fff", 1},
		{"1fff", 3},
		{"0fff", 4},
		{"07ff", 5},
		{"000f", 12},
		{"0000ab", 16},
		{"00000001", 31},
		{strings.Repeat("0", 64), 256},
		{"00zz", 8},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LeadingZeroBits(tt.id), tt.id)
	}
}

func TestMeetsDifficulty_AgreesWithLeadingZeroBits(t *testing.T) {
	buf := make([]byte, 32)
	for i := 0; i < 500; i++ {
		_, err := rand.Read(buf)
		require.NoError(t, err)
		// force some leading zeros so larger targets get exercised
		buf[0] &= byte(0xFF >> (i % 9))
		id := hex.EncodeToString(buf)
		lz := LeadingZeroBits(id)
		for target := 0; target <= 24; target++ {
			assert.Equal(t, lz >= target, MeetsDifficulty(id, target), "id=%s target=%d", id, target)
		}
	}
}

func TestMeetsDifficulty_Short(t *testing.T) {
	assert.True(t, MeetsDifficulty("", 0))
	assert.False(t, MeetsDifficulty("0", 8))
	assert.False(t, MeetsDifficulty("00", 9))
	assert.True(t, MeetsDifficulty("007", 9))
}

func TestMine_ZeroDifficultyIsNoop(t *testing.T) {
	ev := signedEvent(t)

	got, ok := Mine(ev, 0, nil)
	require.True(t, ok)
	assert.Equal(t, ev, got)
	for _, tag := range got.Tags {
		assert.NotEqual(t, NonceTag, tag[0])
	}
}

func TestMine_ReachesTarget(t *testing.T) {
	ev := signedEvent(t)
	origTags := append(nostr.Tags{}, ev.Tags...)

	const target = 10
	got, ok := Mine(ev, target, nil)
	require.True(t, ok)

	assert.Equal(t, got.GetID(), got.ID)
	assert.GreaterOrEqual(t, LeadingZeroBits(got.ID), target)
	assert.GreaterOrEqual(t, nip13.Difficulty(got.ID), target)
	assert.True(t, MeetsDifficulty(got.ID, target))
	assert.True(t, MeetsDifficulty(got.ID, target), "re-checking is idempotent")
	assert.Equal(t, target, Committed(&got))
	assert.Empty(t, got.Sig, "mined event must be re-signed")

	assert.Equal(t, origTags, ev.Tags, "input must not be modified")
	assert.Len(t, got.Tags, len(origTags)+1)
}

func TestMine_ReplacesExistingNonce(t *testing.T) {
	ev := signedEvent(t)
	ev.Tags = append(ev.Tags, nostr.Tag{NonceTag, "999", "1"})

	got, ok := Mine(ev, 4, nil)
	require.True(t, ok)

	count := 0
	for _, tag := range got.Tags {
		if tag[0] == NonceTag {
			count++
			assert.Equal(t, "4", tag[2])
		}
	}
	assert.Equal(t, 1, count)
}

func TestMine_Stop(t *testing.T) {
	ev := signedEvent(t)
	got, ok := Mine(ev, 200, func() bool { return true })
	assert.False(t, ok)
	assert.Equal(t, ev, got)
}

func TestCommitted_NoNonce(t *testing.T) {
	ev := signedEvent(t)
	assert.Equal(t, 0, Committed(&ev))
}
