package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborline/manifest-cli/internal/resilience"
)

const defaultFTPTimeout = 30 * time.Second

// ftpRetry governs transient download failures. Each attempt opens a fresh
// connection.
var ftpRetry = resilience.DefaultRetryConfig()

// readFTP downloads a manifest from a forwarder's FTP drop box to a
// temporary file and parses it by extension.
func readFTP(ctx context.Context, ftpURL string, opts Options) (*Manifest, error) {
	host, path, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	timeout := opts.FTPTimeout
	if timeout == 0 {
		timeout = defaultFTPTimeout
	}

	ext := filepath.Ext(path)
	tmp, err := os.CreateTemp("", "manifest-*"+ext)
	if err != nil {
		return nil, eris.Wrap(err, "ftp: create temp file")
	}
	if err := tmp.Close(); err != nil {
		return nil, eris.Wrap(err, "ftp: close temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	err = resilience.Do(ctx, ftpRetry, func(ctx context.Context) error {
		return downloadFTP(ctx, host, path, tmp.Name(), timeout)
	})
	if err != nil {
		return nil, err
	}

	m, err := Read(ctx, tmp.Name(), opts)
	if err != nil {
		return nil, err
	}
	m.SourceName = ftpURL
	return m, nil
}

func downloadFTP(ctx context.Context, host, path, dest string, timeout time.Duration) error {
	zap.L().Debug("ftp: connecting", zap.String("host", host), zap.String("path", path))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return eris.Wrap(err, "ftp: dial")
	}
	defer conn.Quit() //nolint:errcheck

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		return eris.Wrap(err, "ftp: login")
	}

	resp, err := conn.Retr(path)
	if err != nil {
		return eris.Wrap(err, "ftp: retrieve")
	}
	defer resp.Close()

	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrap(err, "ftp: create temp file")
	}
	if _, err := io.Copy(out, resp); err != nil {
		out.Close()
		return eris.Wrap(err, "ftp: download")
	}
	return eris.Wrap(out.Close(), "ftp: close temp file")
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "ftp: parse url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("ftp: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = u.Path
	if path == "" {
		return "", "", eris.New("ftp: empty path in url")
	}

	return host, path, nil
}
