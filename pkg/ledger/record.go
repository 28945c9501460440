// Package ledger keeps a content-addressed history of launch plans.
//
// Each record hashes the plan it launched together with its parent, the
// record that was current on the same node before it. Relaunching an unchanged plan reuses
// the current record and only adds a run; changing the plan appends a child.
// The chain of records is the configuration history of a job.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Content is the hashed part of a record: what was launched.
type Content struct {
	Argv      []string `json:"argv"`
	Env       []string `json:"env"`
	WorldSize int      `json:"world_size"`
	NodeRank  int      `json:"node_rank"`
}

// Record is a single content-addressed launch plan.
type Record struct {
	// Hash is the content-addressed identifier (SHA-256, hex-encoded)
	Hash string `json:"hash"`

	// ParentHash links to the previous record. Nil for the first launch.
	ParentHash *string `json:"parent_hash"`

	Content Content `json:"content"`

	// CreatedAt is informational and not part of the hash.
	CreatedAt time.Time `json:"created_at"`
}

// Run is one execution of a record.
type Run struct {
	Hash      string        `json:"hash"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	ExitCode  int           `json:"exit_code"`
}

// NewRecord creates a record with the computed hash for content.
func NewRecord(content Content, parent *Record) *Record {
	r := &Record{
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if parent != nil {
		h := parent.Hash
		r.ParentHash = &h
	}
	r.Hash = computeHash(r.Content, r.ParentHash)
	return r
}

// Verify reports whether the stored hash matches the record content.
func (r *Record) Verify() bool {
	return r.Hash == computeHash(r.Content, r.ParentHash)
}

// ShortHash is the first 12 hex characters of the hash.
func (r *Record) ShortHash() string {
	if len(r.Hash) < 12 {
		return r.Hash
	}
	return r.Hash[:12]
}

type hashInput struct {
	Content Content `json:"content"`
	Parent  string  `json:"parent,omitempty"`
}

func computeHash(content Content, parent *string) string {
	in := hashInput{Content: content}
	if parent != nil {
		in.Parent = *parent
	}

	// Struct field order makes the JSON encoding canonical.
	data, err := json.Marshal(in)
	if err != nil {
		panic("failed to marshal hash input: " + err.Error())
	}

	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
