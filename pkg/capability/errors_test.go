package capability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"classified permission", Permission("drive.move", errors.New("denied")), KindPermission},
		{"wrapped transient", fmt.Errorf("list: %w", Transient("drive.list", errors.New("reset"))), KindTransient},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"os permission", &os.PathError{Op: "open", Path: "/x", Err: os.ErrPermission}, KindPermission},
		{"unknown", errors.New("boom"), KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNotFoundErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("drive.list: %w", NotFound("/ProjectX"))
	if !IsNotFound(err) {
		t.Fatal("expected IsNotFound")
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Path != "/ProjectX" {
		t.Fatalf("errors.As NotFoundError = %+v", nf)
	}
	if IsRetryable(err) {
		t.Fatal("not-found must not be retryable")
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	base := errors.New("status")
	tests := []struct {
		status int
		want   Kind
	}{
		{401, KindPermission},
		{403, KindPermission},
		{429, KindTransient},
		{503, KindTransient},
		{400, KindUnavailable},
	}
	for _, tt := range tests {
		if got := KindOf(ClassifyHTTPStatus("op", tt.status, base)); got != tt.want {
			t.Fatalf("status %d: got %s, want %s", tt.status, got, tt.want)
		}
	}
}
