package store

import "errors"

// Outcome errors returned by the operation handlers. The protocol package
// assigns each a stable wire code.
var (
	ErrAlreadyExists     = errors.New("object already exists")
	ErrNotFound          = errors.New("object not found")
	ErrForbidden         = errors.New("object is committed")
	ErrBadSize           = errors.New("size is not a multiple of the block size")
	ErrOutOfBounds       = errors.New("logical block out of bounds")
	ErrInsufficientSpace = errors.New("no free physical blocks")
	ErrInvalidBlock      = errors.New("physical block index out of range")
	ErrInvalidName       = errors.New("invalid file or tag name")
)

// Errors from opening a store.
var (
	ErrMissingBitmap = errors.New("bitmap.bin not found; format the store first")
	ErrBadGeometry   = errors.New("invalid store geometry")
	ErrNotCommitted  = errors.New("object is not committed")
	ErrClosed        = errors.New("store is closed")
)
