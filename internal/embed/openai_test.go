package embed

import (
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429}, true},
		{"server error", &openai.APIError{HTTPStatusCode: 500}, true},
		{"bad gateway", &openai.APIError{HTTPStatusCode: 502}, true},
		{"unauthorized", &openai.APIError{HTTPStatusCode: 401}, false},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, false},
		{"reset", errors.New("read tcp: connection reset by peer"), true},
		{"timeout", errors.New("dial tcp: i/o timeout"), true},
		{"other", errors.New("invalid input"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryable(tt.err); got != tt.want {
				t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestZeroVector(t *testing.T) {
	v := ZeroVector(4)
	if len(v) != 4 {
		t.Fatalf("len = %d, want 4", len(v))
	}
	for i, x := range v {
		if x != 0 {
			t.Errorf("v[%d] = %v, want 0", i, x)
		}
	}
}
