package tableq

import "errors"

var (
	// ErrConsistencyFault is returned when a delete or insert touches a number
	// of rows other than exactly one. It signals an isolation or protocol bug in
	// the store and is never retried.
	ErrConsistencyFault = errors.New("tableq: consistency fault")

	// ErrUndecodableMessage is returned when a claimed row's headers or
	// properties cannot be decoded. The row has been removed from the queue.
	ErrUndecodableMessage = errors.New("tableq: undecodable message")

	// ErrInvalidMessage is returned by Acknowledge and Reject when the message
	// was not received by a consumer of the same queue.
	ErrInvalidMessage = errors.New("tableq: invalid message")

	// ErrInvalidBody is returned by Send for a body that is not valid UTF-8
	// or contains NUL bytes, which text columns cannot store.
	ErrInvalidBody = errors.New("tableq: invalid body")

	// errClaimContended means a compare-and-delete lost the row to another
	// consumer. Only produced on dialects without blocking row locks.
	errClaimContended = errors.New("claim contended")
)

func isConsistencyFault(err error) bool {
	return errors.Is(err, ErrConsistencyFault)
}
