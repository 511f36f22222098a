package s3client

import (
	"context"
	"errors"
	"fmt"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
)

// ErrKind classifies client errors for the caller's retry/surface policy.
type ErrKind int

const (
	// KindInvalidCredentials covers malformed or rejected credentials.
	// Never retried.
	KindInvalidCredentials ErrKind = iota
	// KindAccessDenied covers authorization failures. Never retried.
	KindAccessDenied
	// KindNotFound covers missing keys or buckets. Never retried.
	KindNotFound
	// KindTransient covers network failures and 5xx responses. Retried
	// internally with bounded backoff.
	KindTransient
	// KindCancelled covers cooperative cancellation.
	KindCancelled
	// KindPartialFailure marks a multi-page sequence interrupted after
	// some pages were applied.
	KindPartialFailure
)

func (k ErrKind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid-credentials"
	case KindAccessDenied:
		return "access-denied"
	case KindNotFound:
		return "not-found"
	case KindTransient:
		return "transient"
	case KindCancelled:
		return "cancelled"
	case KindPartialFailure:
		return "partial-failure"
	default:
		return "unknown"
	}
}

// Error is a typed client error.
type Error struct {
	Kind ErrKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or KindTransient when err carries no
// classification (unknown failures default to retryable network trouble).
func KindOf(err error) ErrKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransient
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsCancelled reports whether err resulted from cooperative cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

// Classify wraps err with its error kind. Already-classified errors pass
// through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindCancelled, Op: op, Err: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "AuthorizationHeaderMalformed",
			"InvalidSecurity", "TokenRefreshRequired", "ExpiredToken":
			return &Error{Kind: KindInvalidCredentials, Op: op, Err: err}
		case "AccessDenied", "AllAccessDisabled", "AccountProblem":
			return &Error{Kind: KindAccessDenied, Op: op, Err: err}
		case "NoSuchKey", "NoSuchBucket", "NotFound", "NoSuchUpload":
			return &Error{Kind: KindNotFound, Op: op, Err: err}
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return &Error{Kind: KindTransient, Op: op, Err: err}
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		switch {
		case status == 404:
			return &Error{Kind: KindNotFound, Op: op, Err: err}
		case status == 401 || status == 403:
			return &Error{Kind: KindAccessDenied, Op: op, Err: err}
		case status == 429 || status >= 500:
			return &Error{Kind: KindTransient, Op: op, Err: err}
		case status >= 400:
			return &Error{Kind: KindAccessDenied, Op: op, Err: err}
		}
	}

	// Connection resets, DNS failures and the like.
	return &Error{Kind: KindTransient, Op: op, Err: err}
}
