package services

import (
	"errors"
	"fmt"
)

var (
	// ErrForbidden is returned when the actor's role or ownership does not allow the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidTransition is returned when a report cannot move to the requested status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidCredentials is returned on a wrong email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailTaken is returned when signing up with a registered email.
	ErrEmailTaken = errors.New("email already registered")

	// ErrEmailNotVerified is returned when logging in before confirming the signup OTP.
	ErrEmailNotVerified = errors.New("email not verified")

	// ErrOTPInvalid is returned when the OTP does not match.
	ErrOTPInvalid = errors.New("invalid otp")

	// ErrOTPExpired is returned when the OTP is older than its validity window.
	ErrOTPExpired = errors.New("otp expired")

	// ErrOTPAttempts is returned once a code has been guessed too many times.
	ErrOTPAttempts = errors.New("too many otp attempts")

	// ErrUnauthorized is returned when a bearer token or its session is not valid.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrScheduleClosed is returned when acting on a schedule that was already closed.
	ErrScheduleClosed = errors.New("schedule already closed")
)

// ValidationError reports a bad input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
