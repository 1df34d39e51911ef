package session

import "errors"

type State string

const (
	StateIdle           State = "idle"
	StateSearching      State = "searching"
	StateOfferReceived  State = "offer_received"
	StateInProgress     State = "in_progress"
	StatePaymentPending State = "payment_pending"
	StateCompleted      State = "completed"
	StateRejected       State = "rejected"
)

var (
	// ErrInvalidTransition is returned when a command does not apply to the current state.
	ErrInvalidTransition = errors.New("invalid trip state transition")

	// ErrPaymentNotConfirmed is returned by EndTrip until payment has been credited.
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")

	// ErrNoPendingPayment is returned by RetryPayment when there is nothing to retry.
	ErrNoPendingPayment = errors.New("no pending payment")

	// ErrPaymentInFlight is returned by RetryPayment while a credit call is running.
	ErrPaymentInFlight = errors.New("payment credit in flight")

	// ErrInvalidLocation is returned for coordinates outside WGS84 bounds.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrSessionClosed is returned for commands sent after the session stopped.
	ErrSessionClosed = errors.New("session closed")
)

// AllowedTransitions is the trip lifecycle as code. Completed and Rejected
// are passed through on the way back to Idle.
var AllowedTransitions = map[State][]State{
	StateIdle:           {StateSearching},
	StateSearching:      {StateOfferReceived, StateCompleted, StateIdle},
	StateOfferReceived:  {StateInProgress, StateRejected, StateCompleted, StateIdle},
	StateInProgress:     {StatePaymentPending, StateCompleted, StateIdle},
	StatePaymentPending: {StateInProgress, StateCompleted, StateIdle},
	StateCompleted:      {StateIdle},
	StateRejected:       {StateIdle},
}

func CanTransition(from, to State) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// onTrip reports states in which the vehicle is driving the route.
func (s State) onTrip() bool {
	return s == StateInProgress || s == StatePaymentPending
}
