package domain

import "errors"

// ErrSessionNotFound is returned by session stores for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")
