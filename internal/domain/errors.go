package domain

import "errors"

// ErrNotFound is wrapped by every store when the requested entity does not exist
var ErrNotFound = errors.New("not found")
