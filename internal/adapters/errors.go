// Package adapters composes the record stores, identity manager, event
// bus, and workflow engine into the business operations of spec.md §4.6:
// task/cycle backlog management, execution reporting, feedback,
// changelog aggregation, and agent registration.
package adapters

import "fmt"

// InvalidState is returned when an operation is attempted against a
// record whose current status forbids it (e.g. deleting a non-draft
// task).
type InvalidState struct {
	RecordID string
	Status   string
	Op       string
}

func (e *InvalidState) Error() string {
	return fmt.Sprintf("cannot %s record %s: current status %q does not allow it", e.Op, e.RecordID, e.Status)
}

// DuplicateRecord is returned when an operation would create a record
// whose ID already exists.
type DuplicateRecord struct {
	RecordID string
}

func (e *DuplicateRecord) Error() string {
	return fmt.Sprintf("record %s already exists", e.RecordID)
}

// BrokenReference is returned when a payload references another record
// ID that does not resolve.
type BrokenReference struct {
	Field string
	ID    string
}

func (e *BrokenReference) Error() string {
	return fmt.Sprintf("field %s references unknown record %s", e.Field, e.ID)
}
