package kvstore

import "errors"

// ErrNotFound is returned by Load when no value exists for the given key.
var ErrNotFound = errors.New("kvstore: key not found")
