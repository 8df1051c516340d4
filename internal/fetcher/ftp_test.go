package fetcher

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/manifest-cli/internal/resilience"
)

func TestParseFTPURL(t *testing.T) {
	tests := []struct {
		name     string
		rawURL   string
		wantHost string
		wantPath string
		wantErr  bool
	}{
		{
			name:     "default port",
			rawURL:   "ftp://manifests.example.com/outbound/week03.xlsx",
			wantHost: "manifests.example.com:21",
			wantPath: "/outbound/week03.xlsx",
		},
		{
			name:     "explicit port",
			rawURL:   "ftp://manifests.example.com:2121/week03.csv",
			wantHost: "manifests.example.com:2121",
			wantPath: "/week03.csv",
		},
		{
			name:    "wrong scheme",
			rawURL:  "https://manifests.example.com/week03.csv",
			wantErr: true,
		},
		{
			name:    "empty path",
			rawURL:  "ftp://manifests.example.com",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, path, err := parseFTPURL(tt.rawURL)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

func TestReadFTP_RetriesTransientDialFailures(t *testing.T) {
	// Grab a port with no listener so the dial is refused.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	saved := ftpRetry
	t.Cleanup(func() { ftpRetry = saved })
	var retries int
	ftpRetry = resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		OnRetry:        func(attempt int, err error) { retries++ },
	}

	_, err = readFTP(context.Background(), "ftp://"+addr+"/week03.csv", Options{FTPTimeout: time.Second})
	require.Error(t, err)
	assert.Equal(t, 1, retries)
}
