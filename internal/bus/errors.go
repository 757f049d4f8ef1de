package bus

import "errors"

var (
	// ErrUnknownAgent is returned when a sender, recipient, assignee or
	// creator is not in the registry. The bus never auto-registers.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrUnknownTask is returned for a task id the ledger does not hold.
	ErrUnknownTask = errors.New("unknown task")

	// ErrUnknownMessage is returned when no pending message has the given id.
	ErrUnknownMessage = errors.New("unknown message")

	// ErrInvalidTransition is returned by UpdateTaskStatus in strict mode.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrInvalidInput covers malformed requests (empty names, bad enums).
	ErrInvalidInput = errors.New("invalid input")

	// ErrPersistence wraps I/O and decoding failures in SaveState/LoadState.
	ErrPersistence = errors.New("persistence failure")

	// ErrDeliveryDegraded marks a delegation that found no alternate agent.
	// It is never returned from Send; see SendResult.Degraded.
	ErrDeliveryDegraded = errors.New("delivery degraded: no alternate agent")
)
