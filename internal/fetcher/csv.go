package fetcher

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

// ReadCSV reads a CSV manifest. The first record is the header row.
func ReadCSV(r io.Reader, sourceName string, opts Options) (*Manifest, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.FieldsPerRecord = -1 // forwarder exports are frequently ragged

	m := &Manifest{SourceName: sourceName}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "csv: read %s", sourceName)
		}

		cells := trimRow(record)
		if len(cells) == 0 {
			continue
		}
		if m.Headers == nil {
			m.Headers = cells
			continue
		}
		m.Rows = append(m.Rows, cells)
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}
