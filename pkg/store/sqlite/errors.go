package sqlite

import "errors"

var (
	// ErrStoreLocked is returned when a write-mode open finds another writer's sentinel
	ErrStoreLocked = errors.New("store locked by another writer")

	// ErrStoreMissing is returned when a read-mode open targets a file that does not exist
	ErrStoreMissing = errors.New("store file does not exist")

	// ErrReadOnly is returned when a write is attempted through a read-mode handle
	ErrReadOnly = errors.New("store opened read-only")

	// ErrInvalidIdentifier is returned when a table or column name fails the allow-list
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrUnknownColumn is returned when a read names a column the table does not have
	ErrUnknownColumn = errors.New("unknown column")

	// ErrTableMissing is returned when a read targets a table that does not exist
	ErrTableMissing = errors.New("table does not exist")

	// ErrValueCount is returned when a record's keys and values differ in length
	ErrValueCount = errors.New("key and value count mismatch")
)
