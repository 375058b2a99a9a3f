package state

import "fmt"

// HydrationError reports a failed remote read while hydrating or reloading
// a slice. The in-memory value is left as it was.
type HydrationError struct {
	Key string
	Err error
}

func (e *HydrationError) Error() string {
	return fmt.Sprintf("hydrate %s: %v", e.Key, e.Err)
}

func (e *HydrationError) Unwrap() error { return e.Err }

// PersistError reports a background write that never reached the remote
// store. The optimistic local value is kept; convergence is left to the
// next reload.
type PersistError struct {
	Key string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Key, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
