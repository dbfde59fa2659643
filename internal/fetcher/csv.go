package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the CSV readers.
type CSVOptions struct {
	Delimiter  rune            // default ','
	HasHeader  bool            // if true, first row is sent to HeaderCh instead of rows
	HeaderCh   chan<- []string // optional: receives the header row
	LazyQuotes bool
	TrimSpace  bool
}

func newCSVReader(r io.Reader, opts CSVOptions) *csv.Reader {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1
	return reader
}

// ReadCSVFile reads a whole CSV file and returns its header and data rows.
// A UTF-8 BOM on the first header cell is stripped.
func ReadCSVFile(path string, opts CSVOptions) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "csv: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	reader := newCSVReader(f, opts)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, eris.Wrapf(err, "csv: read %s", path)
	}
	if len(records) == 0 {
		return nil, nil, eris.Errorf("csv: %s is empty", path)
	}

	if opts.TrimSpace {
		for _, rec := range records {
			trimFields(rec)
		}
	}
	header := records[0]
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	return header, records[1:], nil
}

// StreamCSV reads CSV rows onto a channel. Both channels are closed when
// reading completes; the caller must drain the row channel.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := newCSVReader(r, opts)
		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			if opts.TrimSpace {
				trimFields(record)
			}

			if first && opts.HasHeader {
				first = false
				record[0] = strings.TrimPrefix(record[0], "\ufeff")
				if opts.HeaderCh == nil {
					continue
				}
				select {
				case opts.HeaderCh <- record:
				case <-ctx.Done():
					errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled sending header")
					return
				}
				continue
			}
			first = false

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

func trimFields(record []string) {
	for i, field := range record {
		record[i] = strings.TrimSpace(field)
	}
}
