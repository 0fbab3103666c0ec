package automation

import (
	"errors"
	"fmt"
)

var (
	ErrRuleNotFound      = errors.New("automation rule not found")
	ErrRuleInactive      = errors.New("automation rule is not active")
	ErrInvalidDefinition = errors.New("invalid automation definition")
	ErrNotImplemented    = errors.New("action type not implemented")
)

// InfrastructureError reports a store failure that aborted an evaluation pass.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

func infraError(op string, err error) error {
	return &InfrastructureError{Op: op, Err: err}
}

// IsInfrastructure reports whether err aborted a pass because a store failed.
func IsInfrastructure(err error) bool {
	var ie *InfrastructureError
	return errors.As(err, &ie)
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidDefinition, fmt.Sprintf(format, args...))
}
