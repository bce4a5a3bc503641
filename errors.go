package midas

import (
	"errors"
	"fmt"
)

// ErrFault is returned when a soft pointer resolves to an evicted or
// otherwise invalid object in a context that is not a plain lookup miss —
// SyncKV.Get still reports a bare miss, per the cache layer's never-raise-
// for-a-miss policy, but SyncKV's ordered-set accessors (Zadd/Zrange/
// Zrevrange) surface it: a fault partway through materializing an existing
// ordered set means the evacuator raced the read, which the caller should
// be able to tell apart from "the set does not exist".
var ErrFault = errors.New("midas: fault")

// ErrControlPlaneClosed is returned by CacheManager.CreatePool and GetPool
// once Shutdown has disconnected from the coordinator.
var ErrControlPlaneClosed = errors.New("midas: control plane closed")

// ErrPoolExists is returned by CacheManager.CreatePool when the name is
// already registered. Pool creation is idempotent-erroring: it never
// silently returns the existing pool.
var ErrPoolExists = errors.New("midas: pool already exists")

// ErrPoolNotFound is returned by CacheManager.GetPool when no pool is
// registered under the given name.
var ErrPoolNotFound = errors.New("midas: pool not found")

// ErrNoConstructFunc is returned by Pool.Construct when no construct
// callback has been installed.
var ErrNoConstructFunc = errors.New("midas: no construct function installed")

// UsageError reports an illegal argument from the caller, such as a
// negative Zrange start. It is returned synchronously and never wraps a
// Fault.
type UsageError struct {
	Op  string
	Msg string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("midas: usage error in %s: %s", e.Op, e.Msg)
}

func usageErrorf(op, format string, args ...any) error {
	return &UsageError{Op: op, Msg: fmt.Sprintf(format, args...)}
}
