package s3client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/sgaunet/s3browse/pkg/config"
)

func respErr(status int) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      errors.New("http error"),
		},
	}
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want ErrKind
	}{
		{"nil passthrough is handled separately", nil, 0},
		{"access denied code", &smithy.GenericAPIError{Code: "AccessDenied"}, KindAccessDenied},
		{"bad access key", &smithy.GenericAPIError{Code: "InvalidAccessKeyId"}, KindInvalidCredentials},
		{"bad signature", &smithy.GenericAPIError{Code: "SignatureDoesNotMatch"}, KindInvalidCredentials},
		{"missing key", &smithy.GenericAPIError{Code: "NoSuchKey"}, KindNotFound},
		{"missing bucket", &smithy.GenericAPIError{Code: "NoSuchBucket"}, KindNotFound},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, KindTransient},
		{"server error status", respErr(500), KindTransient},
		{"bad gateway status", respErr(502), KindTransient},
		{"throttled status", respErr(429), KindTransient},
		{"not found status", respErr(404), KindNotFound},
		{"forbidden status", respErr(403), KindAccessDenied},
		{"context cancelled", context.Canceled, KindCancelled},
		{"deadline exceeded", context.DeadlineExceeded, KindCancelled},
		{"plain network error", errors.New("connection reset by peer"), KindTransient},
		{"wrapped api error", fmt.Errorf("op failed: %w", &smithy.GenericAPIError{Code: "AccessDenied"}), KindAccessDenied},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err == nil {
				if Classify("Op", nil) != nil {
					t.Fatal("Classify(nil) must return nil")
				}
				return
			}
			got := Classify("Op", tc.err)
			var ce *Error
			if !errors.As(got, &ce) {
				t.Fatalf("Classify should return *Error, got %T", got)
			}
			if ce.Kind != tc.want {
				t.Errorf("Expected kind %s, got %s", tc.want, ce.Kind)
			}
			if !errors.Is(got, tc.err) {
				t.Error("classified error must wrap the original")
			}
		})
	}
}

func TestClassify_AlreadyClassifiedPassesThrough(t *testing.T) {
	orig := &Error{Kind: KindNotFound, Op: "GetObject", Err: errors.New("gone")}
	got := Classify("Other", fmt.Errorf("outer: %w", orig))
	if KindOf(got) != KindNotFound {
		t.Errorf("Expected kind to survive re-classification, got %s", KindOf(got))
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(&Error{Kind: KindTransient}) {
		t.Error("Expected transient error to be retryable")
	}
	if IsTransient(&Error{Kind: KindAccessDenied}) {
		t.Error("AccessDenied must not be retryable")
	}
	if !IsTransient(errors.New("unclassified")) {
		t.Error("unclassified errors default to transient")
	}
}

func TestIsCancelled(t *testing.T) {
	if !IsCancelled(Classify("Op", context.Canceled)) {
		t.Error("Expected cancelled classification")
	}
	if IsCancelled(&Error{Kind: KindTransient}) {
		t.Error("transient is not cancelled")
	}
}

func TestNew_MalformedStaticCredentialsFailFast(t *testing.T) {
	// No network is involved: the malformed secret must be rejected before
	// any call is attempted.
	_, err := New(context.Background(), config.RemoteProfile{
		Name:            "r1",
		AccessKeyID:     "AKIA EXAMPLE",
		SecretAccessKey: "secret\n",
		BucketName:      "b",
		Endpoint:        "http://localhost:9000",
		Region:          "auto",
	})
	if err == nil {
		t.Fatal("expected error for malformed credentials")
	}
	if KindOf(err) != KindInvalidCredentials {
		t.Errorf("Expected KindInvalidCredentials, got %s", KindOf(err))
	}
}

func TestNew_StaticCredentials(t *testing.T) {
	c, err := New(context.Background(), config.RemoteProfile{
		Name:            "r1",
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
		BucketName:      "b",
		Endpoint:        "http://localhost:9000",
		Region:          "auto",
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if c.Remote() != "r1" {
		t.Errorf("Expected remote name r1, got %s", c.Remote())
	}
}
