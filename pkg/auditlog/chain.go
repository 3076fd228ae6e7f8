package auditlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gowebpki/jcs"
)

// Entry is one link in the hash chain: a DecisionLog plus the integrity
// fields that bind it to the entry before it.
type Entry struct {
	Log          DecisionLog `json:"log"`
	PreviousHash string      `json:"previous_hash"`
	Hash         string      `json:"hash"`
}

// Chain is an append-only, hash-linked mirror of every DecisionLog a
// Dispatcher has accepted into its queue. It exists independent of the
// external sink's availability — VerifyChain lets a caller attest to what
// was locally observed even if every POST to the sink failed.
type Chain struct {
	mu      sync.Mutex
	entries []Entry
}

// NewChain returns an empty Chain.
func NewChain() *Chain {
	return &Chain{}
}

// Append computes log's hash (chained to the previous entry's hash) and
// records it.
func (c *Chain) Append(log DecisionLog) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevHash := ""
	if n := len(c.entries); n > 0 {
		prevHash = c.entries[n-1].Hash
	}

	entry := Entry{Log: log, PreviousHash: prevHash}
	entry.Hash = computeEntryHash(entry)
	c.entries = append(c.entries, entry)
}

// Entries returns a copy of the chain's entries in append order.
func (c *Chain) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// VerifyChain confirms every entry's PreviousHash links to its predecessor
// and every entry's stored Hash matches its recomputed content hash.
func (c *Chain) VerifyChain() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, entry := range c.entries {
		if i == 0 {
			if entry.PreviousHash != "" {
				return false, fmt.Errorf("genesis entry has non-empty previous hash")
			}
		} else if entry.PreviousHash != c.entries[i-1].Hash {
			return false, fmt.Errorf("chain broken at index %d: previous hash mismatch", i)
		}

		want := entry.Hash
		entry.Hash = ""
		if got := computeEntryHash(entry); got != want {
			return false, fmt.Errorf("integrity failure at index %d: computed %s, stored %s", i, got, want)
		}
	}
	return true, nil
}

// computeEntryHash canonicalizes entry (with Hash cleared) per RFC 8785 and
// returns the SHA-256 hex digest.
func computeEntryHash(entry Entry) string {
	entry.Hash = ""
	raw, err := json.Marshal(entry)
	if err != nil {
		return ""
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
