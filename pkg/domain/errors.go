package domain

import "fmt"

// ErrNotFound is returned when reference validation fails within transactional helpers.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ReferentialIntegrityError reports a delete refused because children still
// reference the member as their parent. It is raised before any side effect.
type ReferentialIntegrityError struct {
	MemberID string
	ChildIDs []string
}

func (e ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("member %s has %d child(ren) and cannot be deleted", e.MemberID, len(e.ChildIDs))
}

// StoreError wraps a persistence backend failure with the failing operation.
type StoreError struct {
	Op  string
	Err error
}

func (e StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

// Unwrap exposes the backend cause for errors.Is/As.
func (e StoreError) Unwrap() error { return e.Err }
