package store

import "errors"

// ErrNotFound is returned by Get when the key has no entry.
var ErrNotFound = errors.New("store: key not found")

// ErrLostLeadership is returned by Put/Delete when the write's lease
// condition failed: another writer has since taken the lock, or this
// process's lease was revoked. The executor turns it into ctlerr.KindNotReady
// for the call that received it; later calls are rejected only once the
// lease keeper's Lost channel has closed.
var ErrLostLeadership = errors.New("store: lost leadership")
