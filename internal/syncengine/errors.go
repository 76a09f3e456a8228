// Package syncengine publishes the record set to a dedicated
// `gitgov-state` branch and reconciles it with remote updates, per
// spec.md §4.9.
package syncengine

import "fmt"

// ConflictDetected is returned by PullState when the local and remote
// gitgov-state branches have diverged and cannot fast-forward.
type ConflictDetected struct {
	Branch string
}

func (e *ConflictDetected) Error() string {
	return fmt.Sprintf("gitgov-state branch %s has diverged from remote; resolve before continuing", e.Branch)
}

// RebaseFailed wraps a failed rebase attempt during conflict resolution.
type RebaseFailed struct {
	Cause error
}

func (e *RebaseFailed) Error() string {
	return fmt.Sprintf("rebase failed: %v", e.Cause)
}

func (e *RebaseFailed) Unwrap() error { return e.Cause }

// RemoteUnreachable wraps a fetch/push failure attributable to remote
// connectivity.
type RemoteUnreachable struct {
	Remote string
	Cause  error
}

func (e *RemoteUnreachable) Error() string {
	return fmt.Sprintf("remote %s unreachable: %v", e.Remote, e.Cause)
}

func (e *RemoteUnreachable) Unwrap() error { return e.Cause }
