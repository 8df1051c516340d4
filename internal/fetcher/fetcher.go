// Package fetcher reads shipment manifests from XLSX, CSV, and FTP sources.
package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Manifest is a parsed tabular manifest: one header row plus data rows as
// raw cell text. Typing of cells happens later, at capture time.
type Manifest struct {
	SourceName string
	Headers    []string
	Rows       [][]string
}

// Options configures manifest parsing.
type Options struct {
	SheetIndex int    // xlsx: which sheet, default 0
	SheetName  string // xlsx: overrides SheetIndex when set
	Delimiter  rune   // csv: default ','
	FTPTimeout time.Duration
}

// Read parses a manifest from a local path or an ftp:// URL, dispatching on
// extension. This is the only place the engine touches file I/O.
func Read(ctx context.Context, source string, opts Options) (*Manifest, error) {
	if strings.HasPrefix(source, "ftp://") {
		return readFTP(ctx, source, opts)
	}

	switch strings.ToLower(filepath.Ext(source)) {
	case ".xlsx":
		return ReadXLSX(source, opts)
	case ".csv":
		f, err := os.Open(source)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: open %s", source)
		}
		defer f.Close()
		return ReadCSV(f, filepath.Base(source), opts)
	default:
		return nil, eris.Errorf("fetcher: unsupported manifest format %q", filepath.Ext(source))
	}
}

// trim drops trailing empty cells so ragged spreadsheet rows compare sanely
// against the header width.
func trimRow(cells []string) []string {
	end := len(cells)
	for end > 0 && strings.TrimSpace(cells[end-1]) == "" {
		end--
	}
	return cells[:end]
}

// validate rejects manifests the pipeline cannot work with.
func (m *Manifest) validate() error {
	if len(m.Headers) == 0 {
		return eris.Errorf("fetcher: %s has no header row", m.SourceName)
	}
	seen := make(map[string]bool, len(m.Headers))
	for _, h := range m.Headers {
		key := strings.ToLower(strings.TrimSpace(h))
		if key == "" {
			continue
		}
		if seen[key] {
			return eris.Errorf("fetcher: %s has duplicate header %q", m.SourceName, h)
		}
		seen[key] = true
	}
	return nil
}
