// Package sink appends generated records to a JSONL file, one record
// per line, UTF-8 with non-ASCII characters left unescaped.
package sink

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
)

// json is configured to keep accented characters readable in the
// output file instead of \u-escaping them.
var json = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// Record is one output line. Document fields are omitted when the
// caller did not request them.
type Record struct {
	Name           string `json:"name"`
	MiddleName     string `json:"middle_name"`
	Surnames       string `json:"surnames"`
	City           string `json:"city"`
	State          string `json:"state"`
	StateAbbr      string `json:"state_abbr"`
	CEP            string `json:"cep"`
	Street         string `json:"street"`
	Neighborhood   string `json:"neighborhood"`
	BuildingNumber string `json:"building_number"`
	Phone          string `json:"phone"`
	CPF            string `json:"cpf,omitempty"`
	RG             string `json:"rg,omitempty"`
	PIS            string `json:"pis,omitempty"`
	CNPJ           string `json:"cnpj,omitempty"`
	CEI            string `json:"cei,omitempty"`
}

// Writer appends records to a JSONL file. The truncate-or-append choice
// applies only to Open; every write after that appends, so one run's
// sub-batches land in order in a single file.
//
// Not safe for concurrent use. The orchestrator writes from a single
// goroutine.
type Writer struct {
	f   *os.File
	buf *bufio.Writer
	n   int
}

// Open opens (creating parent directories as needed) the JSONL file at
// path. With append false the file is truncated first.
func Open(path string, append bool) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening output file: %w", err)
	}
	return &Writer{f: f, buf: bufio.NewWriter(f)}, nil
}

// WriteRecords appends one line per record.
func (w *Writer) WriteRecords(records []Record) error {
	for i := range records {
		line, err := json.Marshal(&records[i])
		if err != nil {
			return fmt.Errorf("encoding record %d: %w", w.n+i, err)
		}
		if _, err := w.buf.Write(line); err != nil {
			return fmt.Errorf("writing record %d: %w", w.n+i, err)
		}
		if err := w.buf.WriteByte('\n'); err != nil {
			return fmt.Errorf("writing record %d: %w", w.n+i, err)
		}
	}
	w.n += len(records)
	return nil
}

// Count returns the number of records written so far.
func (w *Writer) Count() int { return w.n }

// Flush drains the buffer and syncs the file to disk. Called after
// every sub-batch so a crash never loses a completed batch.
func (w *Writer) Flush() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flushing output: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("syncing output: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
