package store

import "errors"

// ErrStoreCorrupt indicates the store file exists but does not parse into
// the expected shape. Never silently recovered: the caller decides whether
// to restore from a backup.
var ErrStoreCorrupt = errors.New("auth store is corrupt")

// ErrDuplicateIdentifier indicates a credential's client_id or alias is
// already present in the store.
var ErrDuplicateIdentifier = errors.New("duplicate identifier")

// ErrNotFound indicates the referenced credential or character is not in
// the store.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates a restore source failed validation. The live
// store is untouched.
var ErrValidation = errors.New("validation failed")
