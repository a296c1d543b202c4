// Package idgen generates the identifiers used across the runtime:
// ULID-ish agent ids, snapshot ids and fork ids.
package idgen

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// crockfordAlphabet is the Crockford base32 alphabet (no I, L, O, U) the
// spec mandates for agent ids.
const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// AgentID returns a new id of the form "agt:<10-time-chars><16-random-chars>".
func AgentID() string {
	return "agt:" + timeComponent(10) + randomComponent(16)
}

// SnapshotID returns the default snapshot id for a given safe fence
// point index: "sfp:<lastSfpIndex>".
func SnapshotID(lastSfpIndex int) string {
	return fmt.Sprintf("sfp:%d", lastSfpIndex)
}

// ForkID returns the id of a forked agent: "{parent}/fork:{epoch}".
func ForkID(parentID string, epoch int64) string {
	return fmt.Sprintf("%s/fork:%d", parentID, epoch)
}

func timeComponent(n int) string {
	ms := uint64(time.Now().UnixMilli())
	return encode(ms, n)
}

func randomComponent(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to
		// a degenerate but still well-formed id rather than panicking.
		for i := range buf {
			buf[i] = byte(i)
		}
	}
	var sb strings.Builder
	sb.Grow(n)
	for _, b := range buf {
		sb.WriteByte(crockfordAlphabet[int(b)%len(crockfordAlphabet)])
	}
	return sb.String()
}

func encode(value uint64, width int) string {
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = crockfordAlphabet[value%uint64(len(crockfordAlphabet))]
		value /= uint64(len(crockfordAlphabet))
	}
	return string(buf)
}
