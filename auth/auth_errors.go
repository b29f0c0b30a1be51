package auth

import "errors"

var (
	MissingCredentialsErr = errors.New("email and password are required")
	InvalidEmailErr       = errors.New("invalid email address")
	InvalidUsernameErr    = errors.New("invalid username")
	MissingRefreshErr     = errors.New("refresh token is required")
	UnknownActivityErr    = errors.New("unknown activity kind")
	IncompleteResponseErr = errors.New("auth response is missing tokens")
)
