package client

import (
	"errors"
	"fmt"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// ErrorKind classifies provider failures so the realize engine can match
// them against its recovery table without depending on error type
// hierarchies.
type ErrorKind int

const (
	// KindUnknown covers failures the provider could not classify. They
	// are fatal for the resource being processed.
	KindUnknown ErrorKind = iota
	// KindStatusCode is a generic API status error (connectivity, listing,
	// permission). It registers a cluster error.
	KindStatusCode
	// KindNotFound is the absent-object signal.
	KindNotFound
	// KindInvalidValue is raised when a stale last-applied-configuration
	// annotation makes the apply payload invalid.
	KindInvalidValue
	// KindAnnotationsTooLong is raised when the annotation payload exceeds
	// the server limit during a patch.
	KindAnnotationsTooLong
	// KindUnsupportedMediaType is raised when the server rejects the patch
	// content type.
	KindUnsupportedMediaType
	// KindFieldImmutable is raised when an update touches a field that is
	// immutable once set.
	KindFieldImmutable
	// KindMayNotChangeOnceSet is raised for fields the platform pins after
	// creation.
	KindMayNotChangeOnceSet
	// KindPrimaryClusterIPCannotBeUnset is raised when an update would
	// unset a service's primary cluster-internal address.
	KindPrimaryClusterIPCannotBeUnset
	// KindStatefulSetUpdateForbidden is raised when the platform forbids
	// an in-place update to a stateful workload.
	KindStatefulSetUpdateForbidden
)

func (k ErrorKind) String() string {
	switch k {
	case KindStatusCode:
		return "status-code"
	case KindNotFound:
		return "not-found"
	case KindInvalidValue:
		return "invalid-value"
	case KindAnnotationsTooLong:
		return "annotations-too-long"
	case KindUnsupportedMediaType:
		return "unsupported-media-type"
	case KindFieldImmutable:
		return "field-immutable"
	case KindMayNotChangeOnceSet:
		return "may-not-change-once-set"
	case KindPrimaryClusterIPCannotBeUnset:
		return "primary-cluster-ip-cannot-be-unset"
	case KindStatefulSetUpdateForbidden:
		return "statefulset-update-forbidden"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind      ErrorKind
	Cluster   string
	Namespace string
	Resource  string
	Name      string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s/%s] %s %s: %s (%s)",
		e.Cluster, e.Namespace, e.Resource, e.Name, e.Err, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or KindUnknown for anything
// that is not a client.Error.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err is the absent-object signal.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// Classify maps an API server error onto an ErrorKind by inspecting its
// status reason and message. Message matching is how the platform surfaces
// these conditions; there is no structured field for them.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case apierrors.IsNotFound(err):
		return KindNotFound
	case apierrors.IsRequestEntityTooLargeError(err):
		return KindAnnotationsTooLong
	case apierrors.IsUnsupportedMediaType(err):
		return KindUnsupportedMediaType
	}

	msg := err.Error()
	if apierrors.IsInvalid(err) || apierrors.IsBadRequest(err) {
		switch {
		case strings.Contains(msg, "metadata.annotations: Too long"):
			return KindAnnotationsTooLong
		case strings.Contains(msg, "field is immutable"):
			return KindFieldImmutable
		case strings.Contains(msg, "may not change once set"):
			return KindMayNotChangeOnceSet
		case strings.Contains(msg, "Invalid value"):
			return KindInvalidValue
		}
	}
	if apierrors.IsForbidden(err) &&
		strings.Contains(msg, "updates to statefulset spec") {
		return KindStatefulSetUpdateForbidden
	}
	if strings.Contains(msg, "primary clusterIP can not be unset") {
		return KindPrimaryClusterIPCannotBeUnset
	}
	// Connectivity failures and unclassified API status errors both land
	// here; the caller treats them as cluster-scoped.
	return KindStatusCode
}
