package session

import "errors"

var (
	// ErrEncode is returned when the session cannot be sealed into a cookie.
	ErrEncode = errors.New("failed to encode session")
	// ErrExpired marks a sealed session whose embedded expiry has passed.
	ErrExpired = errors.New("session has expired")
)
