package audit

import "github.com/gitgovernance/core/internal/records"

// FeedbackWaiverReader implements WaiverReader over the feedback
// store: a waiver is an approval feedback record whose EntityID is the
// finding's fingerprint, per the glossary definition of Waiver.
type FeedbackWaiverReader struct {
	list func() ([]string, error)
	get  func(id string) (*records.Feedback, records.Header, error)
}

// NewFeedbackWaiverReader wires a FeedbackWaiverReader around a
// feedback store's List/GetTyped accessors.
func NewFeedbackWaiverReader(list func() ([]string, error), get func(id string) (*records.Feedback, records.Header, error)) *FeedbackWaiverReader {
	return &FeedbackWaiverReader{list: list, get: get}
}

func (w *FeedbackWaiverReader) IsWaived(fingerprint string) (bool, error) {
	ids, err := w.list()
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		fb, _, err := w.get(id)
		if err != nil {
			continue
		}
		if fb.Type == records.FeedbackApproval && fb.EntityID == fingerprint {
			return true, nil
		}
	}
	return false, nil
}
