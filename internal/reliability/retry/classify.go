package retry

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorClass is the retry relevant category of an error.
type ErrorClass int

const (
	// ClassUnknown means the classifier has no opinion.
	ClassUnknown ErrorClass = iota
	ClassTransient
	ClassPermanent
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classifier maps an error to a class. Returning ClassUnknown defers to the next classifier.
type Classifier func(err error) ErrorClass

// Chain returns a classifier that asks each classifier in order and keeps the first
// definite answer. Errors nobody recognises are transient.
func Chain(classifiers ...Classifier) Classifier {
	return func(err error) ErrorClass {
		for _, c := range classifiers {
			if c == nil {
				continue
			}
			if class := c(err); class != ClassUnknown {
				return class
			}
		}
		return ClassTransient
	}
}

// DefaultClassifier recognises explicit markers, context errors, gRPC status codes
// and network timeouts.
func DefaultClassifier(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}

	// Retried to exhaustion by an inner executor, whatever the cause was
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ClassPermanent
	}

	// Explicit markers win over anything inferred
	if IsPermanent(err) {
		return ClassPermanent
	}
	if IsTransient(err) {
		return ClassTransient
	}
	var he *HandlerError
	if errors.As(err, &he) {
		if he.Retryable {
			return ClassTransient
		}
		return ClassPermanent
	}

	// The caller gave up, retrying cannot help
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassPermanent
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return ClassTransient
		case codes.Unknown:
			return ClassUnknown
		default:
			return ClassPermanent
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	return ClassUnknown
}
