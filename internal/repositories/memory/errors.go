package memory

import "fmt"

// Error implements repositories.RepositoryError for the in-memory repositories.
type Error struct {
	op       string
	msg      string
	notFound bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.op, e.msg)
}

// IsNotFound reports whether the error represents a missing record.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict is always false; memory writes never conflict.
func (e *Error) IsConflict() bool { return false }

// IsUnavailable is always false.
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), notFound: true}
}

func shopKey(shopID, id string) string {
	return shopID + "/" + id
}
