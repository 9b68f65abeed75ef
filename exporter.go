package localba

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Exporter defines an export interface.
type Exporter interface {
	Write(Result) error
	Close() error
}

// CSVExporter writes one line per Result to a CSV file.
type CSVExporter struct {
	delimiter string
	hdlr      *os.File
	rows      int
}

// ResultCSVHeader lists the columns written by CSVExporter.
var ResultCSVHeader = []string{"run", "reason", "iterations", "initial_error", "final_error", "accepted_steps"}

// Close closes the file.
func (e *CSVExporter) Close() (err error) {
	err = e.WriteRawLn(fmt.Sprintf("# Closing date (UTC): %s", time.Now().UTC()))
	if err != nil {
		return
	}
	return e.hdlr.Close()
}

// Write writes the summary of a result to the CSV file.
func (e *CSVExporter) Write(res Result) error {
	vals := []string{
		fmt.Sprintf("%d", e.rows),
		res.Reason.String(),
		fmt.Sprintf("%d", res.Iterations),
		fmt.Sprintf("%e", res.InitialError),
		fmt.Sprintf("%e", res.FinalError),
		fmt.Sprintf("%d", max(len(res.History)-1, 0)),
	}
	e.rows++
	_, err := e.hdlr.WriteString(strings.Join(vals, e.delimiter) + "\n")
	return err
}

// WriteRawLn writes a raw line to the CSV file.
func (e *CSVExporter) WriteRawLn(s string) error {
	_, err := e.hdlr.WriteString(s + "\n")
	return err
}

// NewCSVExporter initializes a new CSV export in dir/filename.
func NewCSVExporter(dir, filename string) (*CSVExporter, error) {
	f, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return nil, errors.Wrap(err, "cannot create CSV export")
	}
	delimiter := ","
	if _, err := f.WriteString(fmt.Sprintf("# Creation date (UTC): %s\n%s\n", time.Now().UTC(), strings.Join(ResultCSVHeader, delimiter))); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "cannot write CSV header")
	}
	return &CSVExporter{delimiter: delimiter, hdlr: f}, nil
}

// WriteHistory writes the accepted errors of res as "step,error" CSV lines,
// step 0 being the initial estimate.
func WriteHistory(w io.Writer, res Result) error {
	if _, err := fmt.Fprintln(w, "step,error"); err != nil {
		return err
	}
	for k, E := range res.History {
		if _, err := fmt.Fprintf(w, "%d,%e\n", k, E); err != nil {
			return err
		}
	}
	return nil
}
