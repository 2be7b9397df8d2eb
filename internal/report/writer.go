package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Format represents the output format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// Writer renders batches to a stream when no ingest endpoint is configured.
type Writer struct {
	format    Format
	w         io.Writer
	csvWriter *csv.Writer
	mu        sync.Mutex
	hasHeader bool
}

func NewWriter(format string, w io.Writer) (*Writer, error) {
	var f Format
	switch strings.ToLower(format) {
	case "json":
		f = FormatJSON
	case "jsonl", "ndjson":
		f = FormatJSONL
	case "csv":
		f = FormatCSV
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}

	writer := &Writer{format: f, w: w}
	if f == FormatCSV {
		writer.csvWriter = csv.NewWriter(w)
	}
	return writer, nil
}

func NewStdoutWriter(format string) (*Writer, error) {
	return NewWriter(format, os.Stdout)
}

func (w *Writer) WriteBatch(batch Batch) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.format {
	case FormatJSON:
		enc := json.NewEncoder(w.w)
		enc.SetIndent("", "  ")
		return enc.Encode(batch)

	case FormatJSONL:
		enc := json.NewEncoder(w.w)
		return enc.Encode(batch)

	case FormatCSV:
		return w.writeCSV(batch)

	default:
		return fmt.Errorf("unsupported format: %s", w.format)
	}
}

// writeCSV flattens resolutions one row each; correlations get one row per
// collected path.
func (w *Writer) writeCSV(batch Batch) error {
	if !w.hasHeader {
		w.csvWriter.Write([]string{
			"kind", "identity", "node_id", "hop_index", "repeater", "confidence", "collision", "path", "observed_at", "probe_id", "run_id",
		})
		w.hasHeader = true
	}

	for _, r := range batch.Resolutions {
		w.csvWriter.Write([]string{
			"resolution", r.Identity, r.NodeID, strconv.Itoa(r.HopIndex), r.Repeater,
			strconv.FormatFloat(r.Confidence, 'f', 2, 64), strconv.FormatBool(r.Collision),
			"", r.ObservedAt.Format(time.RFC3339), batch.ProbeID, batch.RunID,
		})
	}
	for _, c := range batch.Correlations {
		for _, p := range c.Paths {
			w.csvWriter.Write([]string{
				"correlation", c.Identity, "", "", "", "", "",
				p, c.ClosedAt.Format(time.RFC3339), batch.ProbeID, batch.RunID,
			})
		}
	}
	return w.csvWriter.Error()
}

func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.csvWriter != nil {
		w.csvWriter.Flush()
		return w.csvWriter.Error()
	}
	return nil
}
