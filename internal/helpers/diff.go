package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Snapshot is the fingerprint of a previously stored list of lines.
type Snapshot struct {
	Hash    string
	TakenAt time.Time
}

// DiffDecision reports whether a new list differs from a Snapshot.
type DiffDecision struct {
	CurrentHash  string
	PreviousHash string
	Changed      bool
	Stale        bool
	Reasons      []string
	Age          time.Duration
}

// NormalizeForDiff collapses whitespace and lowercases content to stabilise hash comparisons.
func NormalizeForDiff(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// LinesHash hashes the normalised lines in order.
func LinesHash(lines []string) string {
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(NormalizeForDiff(l)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EvaluateDiff compares lines against prev. A snapshot older than maxAge is
// reported stale and counts as changed; maxAge zero disables that check.
func EvaluateDiff(prev Snapshot, lines []string, now time.Time, maxAge time.Duration) DiffDecision {
	hash := LinesHash(lines)
	d := DiffDecision{CurrentHash: hash, PreviousHash: prev.Hash}
	if !prev.TakenAt.IsZero() {
		d.Age = now.Sub(prev.TakenAt)
	}
	switch {
	case prev.Hash == "":
		d.Changed = true
		d.Reasons = append(d.Reasons, "new_content")
	case prev.Hash != hash:
		d.Changed = true
		d.Reasons = append(d.Reasons, "hash_mismatch")
	}
	if maxAge > 0 && !prev.TakenAt.IsZero() && d.Age >= maxAge {
		d.Stale = true
		d.Changed = true
		d.Reasons = append(d.Reasons, "stale_content")
	}
	return d
}
