package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNewNilIsNil(t *testing.T) {
	if err := New(KindNetwork, "op", nil); err != nil {
		t.Fatalf("New(nil) = %v, want nil", err)
	}
}

func TestKindOfWrapped(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("fetch blocks: %w", Network("GET /api/blocks/latest", base))

	if got := KindOf(err); got != KindNetwork {
		t.Errorf("KindOf = %v, want %v", got, KindNetwork)
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error should unwrap to the base error")
	}
}

func TestKindOfContextErrors(t *testing.T) {
	if got := KindOf(context.Canceled); got != KindCancellation {
		t.Errorf("KindOf(Canceled) = %v, want cancellation", got)
	}
	if got := KindOf(fmt.Errorf("wait: %w", context.DeadlineExceeded)); got != KindTimeout {
		t.Errorf("KindOf(DeadlineExceeded) = %v, want timeout", got)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("KindOf(plain) = %v, want unknown", got)
	}
}

func TestIsCancellation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, true},
		{"network wrapping canceled", Network("op", context.Canceled), true},
		{"explicit kind", New(KindCancellation, "search", errors.New("superseded")), true},
		{"schema", Schemaf("op", "success=false"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCancellation(tt.err); got != tt.want {
				t.Errorf("IsCancellation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsUserVisible(t *testing.T) {
	if IsUserVisible(Cache("set", errors.New("quota"))) {
		t.Error("cache errors must not be user visible")
	}
	if IsUserVisible(context.Canceled) {
		t.Error("cancellation must not be user visible")
	}
	if !IsUserVisible(Network("get", errors.New("refused"))) {
		t.Error("network errors should be user visible")
	}
	if !IsUserVisible(Timeout("sync", errors.New("ceiling"))) {
		t.Error("timeouts should be user visible")
	}
}

func TestErrorString(t *testing.T) {
	err := Schemaf("GET /api/mempool", "missing data")
	want := "GET /api/mempool: schema: missing data"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestParseKindRoundTrip(t *testing.T) {
	for k := KindUnknown; k <= KindInvalid; k++ {
		if got := ParseKind(k.String()); got != k {
			t.Errorf("ParseKind(%q) = %v, want %v", k.String(), got, k)
		}
	}
	if got := ParseKind("bogus"); got != KindUnknown {
		t.Errorf("ParseKind(bogus) = %v", got)
	}
}

func TestInvalidf(t *testing.T) {
	err := Invalidf("pause", "unknown feed %q", "x")
	if !Is(err, KindInvalid) {
		t.Fatalf("kind = %v", KindOf(err))
	}
	if err.Error() != `pause: invalid: unknown feed "x"` {
		t.Errorf("Error() = %q", err.Error())
	}
}
