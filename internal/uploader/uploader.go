// Package uploader turns upload files into streams of normalized note
// records. Parsing stays deliberately minimal: the pipeline needs
// (patient, date, text) plus optional demographics, nothing more.
package uploader

import (
	"io"

	"github.com/notescan/notescan/internal/types"
)

// Record is one normalized row from an upload: the patient it belongs
// to and the note itself. Field naming is canonical from here on; any
// legacy column aliases are reconciled inside the source.
type Record struct {
	Patient types.Patient
	Note    types.Note
}

// Source streams normalized records from one upload.
type Source interface {
	// Total returns the number of data rows when known, else -1.
	Total() int
	// Next returns the next record, io.EOF after the last one.
	// Malformed rows are skipped internally and counted.
	Next() (*Record, error)
	// Skipped reports rows dropped so far for validation failures.
	Skipped() int
	io.Closer
}

// Opener creates a Source for an uploaded file. The job manager
// depends on this interface, not on the CSV implementation.
type Opener interface {
	Open(path, tenantID string) (Source, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(path, tenantID string) (Source, error)

// Open implements Opener.
func (f OpenerFunc) Open(path, tenantID string) (Source, error) {
	return f(path, tenantID)
}
