package service

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that the requested city or tribe does not exist.
var ErrNotFound = errors.New("not found")

// DependencyError reports a failure of a backing service while serving a
// read. It is transient: the same request may succeed later.
type DependencyError struct {
	Dependency string
	Op         string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Dependency, e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

func (e *DependencyError) IsTransient() bool { return true }

// IsTransient reports whether err, or any error it wraps, is a transient
// dependency failure.
func IsTransient(err error) bool {
	var t interface{ IsTransient() bool }
	return errors.As(err, &t) && t.IsTransient()
}
