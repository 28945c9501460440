package ledger

import (
	"context"
	"fmt"
)

// Storer persists records and their runs.
type Storer interface {
	// Put stores a record. It reports false if a record with the same hash
	// already exists, in which case nothing is written.
	Put(ctx context.Context, record *Record) (bool, error)

	// Get retrieves a record by hash. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, hash string) (*Record, error)

	// Has checks if a record exists by hash.
	Has(ctx context.Context, hash string) (bool, error)

	// Head returns the most recently stored record, or ErrNotFound when
	// the ledger is empty.
	Head(ctx context.Context) (*Record, error)

	// List returns all records, oldest first.
	List(ctx context.Context) ([]*Record, error)

	// Ancestry returns the chain from a record back to the first launch
	// (record first, root last).
	Ancestry(ctx context.Context, hash string) ([]*Record, error)

	// AddRun records an execution of an existing record.
	AddRun(ctx context.Context, run Run) error

	// Runs returns the executions of a record, oldest first.
	Runs(ctx context.Context, hash string) ([]Run, error)

	// Close releases any resources.
	Close() error
}

// ErrNotFound is returned when a record doesn't exist in the store.
type ErrNotFound struct {
	Hash string
}

func (e ErrNotFound) Error() string {
	if e.Hash == "" {
		return "record not found"
	}

	return "record not found: " + e.Hash
}

// Append stores content as the new head of its node's history. The parent
// is the latest record launched with the same NodeRank, so records merged
// in from other nodes never become a local launch's parent. If that record
// already holds the same content it is returned unchanged with isNew false.
func Append(ctx context.Context, s Storer, content Content) (*Record, bool, error) {
	head, err := nodeHead(ctx, s, content.NodeRank)
	if err != nil {
		return nil, false, fmt.Errorf("could not read ledger head: %w", err)
	}

	if head != nil && computeHash(content, head.ParentHash) == head.Hash {
		return head, false, nil
	}

	record := NewRecord(content, head)
	isNew, err := s.Put(ctx, record)
	if err != nil {
		return nil, false, fmt.Errorf("could not store record %s: %w", record.ShortHash(), err)
	}
	return record, isNew, nil
}

// nodeHead returns the most recent record for nodeRank, or nil if the node
// has none yet.
func nodeHead(ctx context.Context, s Storer, nodeRank int) (*Record, error) {
	head, err := s.Head(ctx)
	if err != nil {
		if _, ok := err.(ErrNotFound); ok {
			return nil, nil
		}
		return nil, err
	}
	if head.Content.NodeRank == nodeRank {
		return head, nil
	}

	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Content.NodeRank == nodeRank {
			return records[i], nil
		}
	}
	return nil, nil
}

func ancestry(ctx context.Context, s Storer, hash string) ([]*Record, error) {
	var path []*Record
	seen := make(map[string]bool)
	for {
		if seen[hash] {
			return nil, fmt.Errorf("cycle in ledger at %s", hash)
		}
		seen[hash] = true

		r, err := s.Get(ctx, hash)
		if err != nil {
			return nil, err
		}
		path = append(path, r)
		if r.ParentHash == nil {
			return path, nil
		}
		hash = *r.ParentHash
	}
}
