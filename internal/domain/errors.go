package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrQuizNotFound indicates the quiz does not exist (or was deleted).
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrUserNotFound indicates the referenced account does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned when no account matches username and password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRoleMismatch is returned when a login claims a role the account does not have.
	ErrRoleMismatch = errors.New("role mismatch")
	// ErrUsernameTaken is returned by registration when the username is in use.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrNotLoggedIn is returned for commands that need an authenticated session.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrNotTeacher gates quiz authoring.
	ErrNotTeacher = errors.New("only teachers can manage quizzes")
	// ErrNotStudent gates quiz submission.
	ErrNotStudent = errors.New("only students can submit quizzes")
	// ErrNotQuizOwner is returned when a teacher deletes another teacher's quiz.
	ErrNotQuizOwner = errors.New("quiz belongs to another teacher")
)

// ValidationError reports a well-formed but semantically invalid field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthorizationError reports an unmet session or role requirement.
type AuthorizationError struct {
	Err error
}

func (e *AuthorizationError) Error() string { return e.Err.Error() }
func (e *AuthorizationError) Unwrap() error { return e.Err }

// Unauthorized wraps a gating sentinel such as ErrNotTeacher.
func Unauthorized(err error) error {
	return &AuthorizationError{Err: err}
}

// NotFoundError reports a referenced entity that is absent.
type NotFoundError struct {
	Err error
	ID  int64
}

func (e *NotFoundError) Error() string { return e.Err.Error() }
func (e *NotFoundError) Unwrap() error { return e.Err }

// NotFound wraps a not-found sentinel with the id that was looked up.
func NotFound(err error, id int64) error {
	return &NotFoundError{Err: err, ID: id}
}

// StoreError wraps a persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// WrapStore tags err as a store failure of op. Domain sentinels and typed errors pass through.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		verr *ValidationError
		aerr *AuthorizationError
		nerr *NotFoundError
		serr *StoreError
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &aerr), errors.As(err, &nerr), errors.As(err, &serr):
		return err
	case errors.Is(err, ErrQuizNotFound), errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrUsernameTaken), errors.Is(err, ErrInvalidCredentials):
		return err
	}
	return &StoreError{Op: op, Err: err}
}
