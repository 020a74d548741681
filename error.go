package rop

import (
	"errors"
	"fmt"
)

// ErrorCode classifies the failures the persistence engine can surface.
// Callers can branch on the code without string matching.
type ErrorCode int

const (
	Unknown ErrorCode = iota
	// EntityNotManaged signals an operation that requires a managed entity
	// received one the active unit of work does not track.
	EntityNotManaged
	// DuplicateIdentity signals an attempt to register a second in-memory
	// object for an (entity type, identifier) pair already present in the
	// identity map.
	DuplicateIdentity
	// UnresolvableDependencyCycle signals a reference cycle among pending
	// inserts where no edge is nullable, so no valid insert order exists.
	UnresolvableDependencyCycle
	// TransactionState signals a transaction control call that is invalid in
	// the connection's current state, e.g. commit without a begin.
	TransactionState
	// SavepointFailure signals a savepoint operation against an unknown name
	// or one the database rejected.
	SavepointFailure
	// ConnectionFailure signals a statement or query the database could not
	// execute.
	ConnectionFailure
)

// String returns the symbolic name of the error code.
func (c ErrorCode) String() string {
	switch c {
	case EntityNotManaged:
		return "EntityNotManaged"
	case DuplicateIdentity:
		return "DuplicateIdentity"
	case UnresolvableDependencyCycle:
		return "UnresolvableDependencyCycle"
	case TransactionState:
		return "TransactionState"
	case SavepointFailure:
		return "SavepointFailure"
	case ConnectionFailure:
		return "ConnectionFailure"
	}
	return "Unknown"
}

// ROP custom error.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	return fmt.Errorf("error code: %v, user data: %v, details: %w", e.Code, e.UserData, e.Err).Error()
}

// Unwrap exposes the wrapped error to errors.Is and errors.As.
func (e Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the ErrorCode from err or any error it wraps.
// It returns Unknown when no Error is found in the chain.
func CodeOf(err error) ErrorCode {
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// IsCode reports whether err or any error it wraps carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
