// Package ctlerr defines the control plane's closed error taxonomy.
//
// Every error that crosses a component boundary is a *ctlerr.Error carrying
// a Kind from the closed set below, plus enough context (resource kind,
// a short source string, and free-form extra) for a caller or log line to
// explain what happened without inspecting a stack trace.
package ctlerr

import "fmt"

// Kind is a closed set of error categories. New kinds are not added outside
// this file — propagation policy (§7) depends on the set being closed.
type Kind string

const (
	KindWithMessage         Kind = "WithMessage"
	KindDeserializeReq      Kind = "DeserializeReq"
	KindInternal            Kind = "Internal"
	KindTimeout             Kind = "Timeout"
	KindInvalidArgument     Kind = "InvalidArgument"
	KindDeadlineExceeded    Kind = "DeadlineExceeded"
	KindNotFound            Kind = "NotFound"
	KindAlreadyExists       Kind = "AlreadyExists"
	KindPermissionDenied    Kind = "PermissionDenied"
	KindResourceExhausted   Kind = "ResourceExhausted"
	KindFailedPrecondition  Kind = "FailedPrecondition"
	KindAborted             Kind = "Aborted"
	KindOutOfRange          Kind = "OutOfRange"
	KindUnimplemented       Kind = "Unimplemented"
	KindUnavailable         Kind = "Unavailable"
	KindUnauthenticated     Kind = "Unauthenticated"
	KindUnauthorized        Kind = "Unauthorized"
	KindConflict            Kind = "Conflict"
	KindFailedPersist       Kind = "FailedPersist"
	KindAlreadyShared       Kind = "AlreadyShared"
	KindNotShared           Kind = "NotShared"
	KindNotPublished        Kind = "NotPublished"
	KindAlreadyPublished    Kind = "AlreadyPublished"
	KindDeleting            Kind = "Deleting"
	KindReplicaCountAchieved Kind = "ReplicaCountAchieved"
	KindReplicaChangeCount  Kind = "ReplicaChangeCount"
	KindReplicaIncrease     Kind = "ReplicaIncrease"
	KindVolumeNoReplicas    Kind = "VolumeNoReplicas"
	KindInUse               Kind = "InUse"
	KindReplicaCreateNumber Kind = "ReplicaCreateNumber"

	// KindNotReady is surfaced when the lease keeper has lost leadership and
	// the executor is refusing further mutating calls.
	KindNotReady Kind = "NotReady"
	// KindBusy is surfaced when a sequencer acquisition fails fast.
	KindBusy Kind = "Busy"
)

// Error is the control plane's error envelope.
type Error struct {
	Kind     Kind
	Resource string // resource kind, e.g. "pool", "nexus"
	Source   string // short source string, e.g. "operation_executor"
	Extra    string // free-form human-readable detail
}

func (e *Error) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Extra)
	}
	return fmt.Sprintf("%s(%s): %s", e.Kind, e.Resource, e.Extra)
}

// New builds an Error with the given kind, resource, source and a formatted
// extra message.
func New(kind Kind, resource, source, format string, args ...any) *Error {
	return &Error{Kind: kind, Resource: resource, Source: source, Extra: fmt.Sprintf(format, args...)}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if !asError(err, &ce) {
		return false
	}
	return ce.Kind == kind
}

func asError(err error, target **Error) bool {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// HTTPStatus maps a Kind to the HTTP status a REST front-end would use. The
// control plane itself exposes no REST surface; this mapping exists purely
// as a documented, testable part of the error taxonomy (spec §7).
func HTTPStatus(k Kind) int {
	switch k {
	case KindNotFound:
		return 404
	case KindAlreadyExists:
		return 422
	case KindFailedPrecondition, KindReplicaCountAchieved, KindReplicaChangeCount:
		return 412
	case KindConflict:
		return 409
	case KindDeadlineExceeded:
		return 504
	case KindUnavailable, KindNotReady:
		return 503
	case KindResourceExhausted:
		return 507
	case KindInvalidArgument, KindDeserializeReq, KindOutOfRange:
		return 400
	case KindPermissionDenied, KindUnauthorized:
		return 403
	case KindUnauthenticated:
		return 401
	case KindUnimplemented:
		return 501
	case KindAborted, KindBusy:
		return 409
	case KindTimeout:
		return 408
	default:
		return 500
	}
}
