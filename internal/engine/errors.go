package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence marks a failed link-set write. The item's previous
	// link set, if any, is left in place.
	ErrPersistence = errors.New("persist link set")

	// ErrScoring marks a candidate whose evaluation failed, typically on a
	// taxonomy read. Use errors.As with *CandidateError for the ids.
	ErrScoring = errors.New("score candidate")

	// ErrSelfPair is returned by Explain when both ids are the same.
	ErrSelfPair = errors.New("cannot score an item against itself")

	// ErrNotFound is returned by operations that need an existing item.
	ErrNotFound = errors.New("item not found")
)

// CandidateError reports which candidate broke the recalculation of ItemID.
type CandidateError struct {
	ItemID      int64
	CandidateID int64
	Err         error
}

func (e *CandidateError) Error() string {
	return fmt.Sprintf("item %d: candidate %d: %v", e.ItemID, e.CandidateID, e.Err)
}

func (e *CandidateError) Unwrap() error { return e.Err }

func (e *CandidateError) Is(target error) bool { return target == ErrScoring }
