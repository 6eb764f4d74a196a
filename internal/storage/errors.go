package storage

import (
	"errors"
	"fmt"
)

// Kind classifies the cause of an Error, mirroring the status codes the
// on-disk format and recovery paths distinguish between.
type Kind int

const (
	KindOK Kind = iota
	KindNotFound
	KindCorruption
	KindNotSupported
	KindInvalidArgument
	KindIOError
	KindMemoryLimit
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindNotFound:
		return "not found"
	case KindCorruption:
		return "corruption"
	case KindNotSupported:
		return "not supported"
	case KindInvalidArgument:
		return "invalid argument"
	case KindIOError:
		return "io error"
	case KindMemoryLimit:
		return "memory limit"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the operation that produced it, so callers
// can branch on cause (errors.As) without string-matching messages.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func errNotFound(op string) *Error { return newError(KindNotFound, op, nil) }

func errCorruption(op string, format string, args ...any) *Error {
	return newError(KindCorruption, op, fmt.Errorf(format, args...))
}

func errInvalidArgument(op string, format string, args ...any) *Error {
	return newError(KindInvalidArgument, op, fmt.Errorf(format, args...))
}

func errIO(op string, err error) *Error {
	return newError(KindIOError, op, err)
}

// IsCorruption reports whether err (or a wrapped cause) carries KindCorruption.
func IsCorruption(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindCorruption
}

// IsNotFound reports whether err (or a wrapped cause) carries KindNotFound.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNotFound
}

var (
	// ErrMemTableFrozen describes an insert into a MemTable that has already
	// been rotated out of the active slot. Nothing in this package returns
	// it: MemTable.Put and Delete do not check whether the table was rotated.
	ErrMemTableFrozen = newError(KindInvalidArgument, "memtable", errors.New("memtable is frozen"))

	// ErrKeyNotFound is returned when a lookup finds no entry for a key.
	ErrKeyNotFound = newError(KindNotFound, "get", errors.New("key not found"))
)
