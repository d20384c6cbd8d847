package lifecycle

import "fmt"

// Kind names a submission state.
type Kind string

const (
	StatusIdle      Kind = "idle"
	StatusSending   Kind = "sending"
	StatusPending   Kind = "pending"
	StatusConfirmed Kind = "confirmed"
	StatusError     Kind = "error"
)

// Status is the controller's view of the current submission.
// TransactionHash is set for Pending and Confirmed, Message for Error.
// Stalled marks a Pending submission whose receipt polls keep failing.
type Status struct {
	Kind            Kind   `json:"type"`
	TransactionHash string `json:"transactionHash,omitempty"`
	Message         string `json:"message,omitempty"`
	Stalled         bool   `json:"stalled,omitempty"`
}

// Active reports whether a submission is in flight.
func (s Status) Active() bool {
	return s.Kind == StatusSending || s.Kind == StatusPending
}

// Terminal reports whether the submission has finished.
func (s Status) Terminal() bool {
	return s.Kind == StatusConfirmed || s.Kind == StatusError
}

func (s Status) String() string {
	switch s.Kind {
	case StatusIdle, "":
		return "Fill in the form to send a tip."
	case StatusSending:
		return "Sending tip via realtime API..."
	case StatusPending:
		if s.Stalled {
			return fmt.Sprintf("Still trying to confirm transaction %s", s.TransactionHash)
		}
		return fmt.Sprintf("Confirming transaction %s", s.TransactionHash)
	case StatusConfirmed:
		return fmt.Sprintf("Tip confirmed at transaction %s", s.TransactionHash)
	case StatusError:
		if s.Message == "" {
			return "Something went wrong"
		}
		return "Error: " + s.Message
	}
	return string(s.Kind)
}
