package acquisition

import "encoding/json"

// RejectReason tells why a custom scan request was not accepted.
type RejectReason uint8

const (
	// RejectNone is the reason of an accepted request.
	RejectNone RejectReason = iota
	// RejectBusy means another custom scan is still in flight.
	RejectBusy
	// RejectExhausted means the instrument has no more data for the requested scan type.
	RejectExhausted
)

// String returns string representation of the reason.
func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectBusy:
		return "busy"
	case RejectExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

func (r RejectReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RejectReason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "busy":
		*r = RejectBusy
	case "exhausted":
		*r = RejectExhausted
	default:
		*r = RejectNone
	}

	return nil
}

// SubmitResult is the synchronous outcome of a custom scan submission.
type SubmitResult struct {
	Accepted bool         `json:"accepted"`
	Reason   RejectReason `json:"reason"`
}

// Accepted returns the result of an accepted submission.
func Accepted() SubmitResult {
	return SubmitResult{Accepted: true}
}

// Rejected returns the result of a submission rejected for reason.
func Rejected(reason RejectReason) SubmitResult {
	return SubmitResult{Reason: reason}
}

// Err returns nil for an accepted submission, otherwise ErrRejectedBusy or ErrRejectedExhausted.
func (r SubmitResult) Err() error {
	if r.Accepted {
		return nil
	}

	switch r.Reason {
	case RejectExhausted:
		return ErrRejectedExhausted
	default:
		return ErrRejectedBusy
	}
}

func (r SubmitResult) String() string {
	if r.Accepted {
		return "accepted"
	}

	return "rejected(" + r.Reason.String() + ")"
}
