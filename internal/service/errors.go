package service

import "errors"

var (
	// token errors; callers collapse these to a single unauthorized outcome
	ErrTokenInvalid    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenWrongClass = errors.New("wrong token class")

	ErrSubjectNotActive = errors.New("subject not active")

	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email format")
	ErrWeakPassword       = errors.New("password is too weak")
	ErrUserNotFound       = errors.New("user not found")
)
