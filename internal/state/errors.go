package state

import "fmt"

// StoreIOError reports a persistence failure in the state store. It is
// fatal to the enclosing run: once a write fails, state consistency can
// no longer be guaranteed, so nothing further is committed.
type StoreIOError struct {
	Op  string // "read", "write", "lock", "unlock"
	Err error
}

func (e *StoreIOError) Error() string {
	return fmt.Sprintf("state store %s failed: %v", e.Op, e.Err)
}

func (e *StoreIOError) Unwrap() error { return e.Err }
