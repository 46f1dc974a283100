package connectivity

import "fmt"

// ErrOperationNotFound is returned when Call targets an operation that
// was never registered.
type ErrOperationNotFound struct {
	Operation string
}

func (e *ErrOperationNotFound) Error() string {
	return fmt.Sprintf("connectivity: unknown operation: %s", e.Operation)
}

// ErrCircuitOpen is returned when the circuit breaker for an operation is
// open, rejecting the call without attempting the handler.
type ErrCircuitOpen struct {
	Operation string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("connectivity: circuit open: %s", e.Operation)
}
