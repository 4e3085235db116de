package output

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nyar-vm/nyar-string/config"
	"github.com/nyar-vm/nyar-string/smart"
	"github.com/nyar-vm/nyar-string/stats"
)

// Record describes the layout of one smart string.
type Record struct {
	Text     string `json:"text"`
	Released bool   `json:"released,omitempty"`
	Kind     string `json:"kind"`
	Length   int    `json:"length"`
	Raw      string `json:"raw"`
	Key      string `json:"key,omitempty"`
}

// Summary captures the outcome of an interning run.
type Summary struct {
	Lines         int              `json:"lines"`
	InputBytes    int              `json:"input_bytes"`
	Bodies        int              `json:"bodies"`
	InternedBytes int              `json:"interned_bytes"`
	HitRate       float64          `json:"hit_rate"`
	Collisions    int64            `json:"collisions"`
	Kinds         map[string]int64 `json:"kinds"`
}

// Describe builds the record for value without taking a reference.
func Describe(value smart.String) Record {
	record := Record{
		Kind:   value.Kind().String(),
		Length: value.Len(),
		Raw:    value.Hex(),
	}
	text, ok := value.Lookup()
	record.Text = text
	record.Released = !ok
	if key, ok := value.Key(); ok {
		record.Key = fmt.Sprintf("%#x", uintptr(key))
	}
	return record
}

// Writer serialises reports to stdout or a file in a configured format.
type Writer struct {
	format        config.Format
	destination   io.Writer
	closer        io.Closer
	csvWriter     *csv.Writer
	csvHeaderSent bool
	encoder       *json.Encoder
	buffered      *bufio.Writer
}

// NewWriter creates a writer for cfg. Reports go to stdout when no output
// path is configured.
func NewWriter(cfg *config.Config, stdout io.Writer) (*Writer, error) {
	var (
		dest   io.Writer
		closer io.Closer
	)

	if cfg.LiveOutput() {
		dest = stdout
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o755); err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
		file, err := os.Create(cfg.OutputPath)
		if err != nil {
			return nil, fmt.Errorf("opening output file: %w", err)
		}
		dest = file
		closer = file
	}

	writer := &Writer{format: cfg.Format}

	switch cfg.Format {
	case config.FormatJSON:
		writer.encoder = json.NewEncoder(dest)
		writer.encoder.SetEscapeHTML(false)
	case config.FormatCSV:
		writer.csvWriter = csv.NewWriter(dest)
	default:
		writer.format = config.FormatTXT
		writer.buffered = bufio.NewWriter(dest)
		dest = writer.buffered
	}

	writer.destination = dest
	writer.closer = closer
	return writer, nil
}

// WriteRecord persists a single layout record.
func (w *Writer) WriteRecord(record Record) error {
	switch w.format {
	case config.FormatJSON:
		return w.encoder.Encode(record)
	case config.FormatCSV:
		return w.writeCSV([]string{"text", "released", "kind", "length", "raw", "key"}, []string{
			record.Text,
			strconv.FormatBool(record.Released),
			record.Kind,
			strconv.Itoa(record.Length),
			record.Raw,
			record.Key,
		})
	case config.FormatTXT:
		text := strconv.Quote(record.Text)
		if record.Released {
			text = "<released>"
		}
		line := fmt.Sprintf("kind=%-7s len=%-4d raw=%s text=%s", record.Kind, record.Length, record.Raw, text)
		if record.Key != "" {
			line += " key=" + record.Key
		}
		return w.writeTXT(line + "\n")
	default:
		return fmt.Errorf("unsupported output format: %s", w.format)
	}
}

// WriteSummary persists the totals of an interning run.
func (w *Writer) WriteSummary(summary Summary) error {
	if summary.Kinds == nil {
		summary.Kinds = map[string]int64{}
	}
	kinds := stats.FormatBreakdown(summary.Kinds, 0)

	switch w.format {
	case config.FormatJSON:
		return w.encoder.Encode(summary)
	case config.FormatCSV:
		return w.writeCSV([]string{"lines", "input_bytes", "bodies", "interned_bytes", "hit_rate", "collisions", "kinds"}, []string{
			strconv.Itoa(summary.Lines),
			strconv.Itoa(summary.InputBytes),
			strconv.Itoa(summary.Bodies),
			strconv.Itoa(summary.InternedBytes),
			strconv.FormatFloat(summary.HitRate, 'f', 1, 64),
			strconv.FormatInt(summary.Collisions, 10),
			kinds,
		})
	case config.FormatTXT:
		var builder strings.Builder
		builder.WriteString(fmt.Sprintf("lines:          %d\n", summary.Lines))
		builder.WriteString(fmt.Sprintf("input bytes:    %d\n", summary.InputBytes))
		builder.WriteString(fmt.Sprintf("interned:       %d bodies, %d bytes\n", summary.Bodies, summary.InternedBytes))
		builder.WriteString(fmt.Sprintf("kinds:          %s\n", kinds))
		builder.WriteString(fmt.Sprintf("hit rate:       %.1f%%\n", summary.HitRate))
		builder.WriteString(fmt.Sprintf("collisions:     %d\n", summary.Collisions))
		return w.writeTXT(builder.String())
	default:
		return fmt.Errorf("unsupported output format: %s", w.format)
	}
}

func (w *Writer) writeCSV(header, row []string) error {
	if w.csvWriter == nil {
		return fmt.Errorf("csv writer not initialised")
	}
	if !w.csvHeaderSent {
		if err := w.csvWriter.Write(header); err != nil {
			return err
		}
		w.csvHeaderSent = true
	}
	if err := w.csvWriter.Write(row); err != nil {
		return err
	}
	w.csvWriter.Flush()
	return w.csvWriter.Error()
}

func (w *Writer) writeTXT(text string) error {
	if w.destination == nil {
		return fmt.Errorf("txt writer not initialised")
	}
	if _, err := io.WriteString(w.destination, text); err != nil {
		return err
	}
	if w.buffered != nil {
		return w.buffered.Flush()
	}
	return nil
}

// Close flushes any buffered data and closes owned file handles.
func (w *Writer) Close() error {
	if w.csvWriter != nil {
		w.csvWriter.Flush()
		if err := w.csvWriter.Error(); err != nil {
			return err
		}
	}

	if w.buffered != nil {
		if err := w.buffered.Flush(); err != nil {
			return err
		}
	}

	if w.closer != nil {
		return w.closer.Close()
	}

	return nil
}
