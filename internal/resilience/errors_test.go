package resilience

import (
	"fmt"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", eris.New("bad input"), false},
		{"transient wrapper", NewTransientError(eris.New("429"), 429), true},
		{"wrapped transient", fmt.Errorf("call failed: %w", NewTransientError(eris.New("503"), 503)), true},
		{"connection reset", syscall.ECONNRESET, true},
		{"wrapped conn reset", fmt.Errorf("dial: %w", syscall.ECONNRESET), true},
		{"message heuristic", eris.New("read tcp: connection reset by peer"), true},
		{"io timeout message", eris.New("Get \"https://api\": i/o timeout"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "transient", ClassifyError(NewTransientError(eris.New("overloaded"), 529)))
	assert.Equal(t, "permanent", ClassifyError(eris.New("schema mismatch")))
}
