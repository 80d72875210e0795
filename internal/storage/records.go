package storage

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/maltedev/listing-harvester/internal/models"
)

const FileTimestampLayout = "20060102_150405"

// Output is one harvest ready to be written.
type Output struct {
	Variant string
	Query   string
	// Header is used when Records is empty; otherwise the first record's
	// keys are written.
	Header  []string
	Records []*models.Record
}

type Paths struct {
	JSON string `json:"json"`
	CSV  string `json:"csv"`
}

func (p Paths) List() []string { return []string{p.JSON, p.CSV} }

type Writer struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

func NewWriter(dir string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{dir: dir, logger: logger.With("component", "storage"), now: time.Now}
}

// Write saves out as <variant>_<query>_<timestamp>.json and .csv.
func (w *Writer) Write(out Output) (Paths, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("failed to create output dir: %w", err)
	}

	ts := w.now()
	paths := Paths{
		JSON: filepath.Join(w.dir, Filename(out.Variant, out.Query, ts, "json")),
		CSV:  filepath.Join(w.dir, Filename(out.Variant, out.Query, ts, "csv")),
	}

	if err := WriteJSON(paths.JSON, out.Records); err != nil {
		return Paths{}, err
	}
	header := out.Header
	if len(out.Records) > 0 {
		header = out.Records[0].Keys()
	}
	if err := WriteCSV(paths.CSV, header, out.Records); err != nil {
		return Paths{}, err
	}

	w.logger.Info("results saved", "json", paths.JSON, "csv", paths.CSV, "records", len(out.Records))
	return paths, nil
}

// Filename builds "<variant>_<query>_<timestamp>.<ext>" with the query
// reduced to lowercase letters, digits and underscores.
func Filename(variant, query string, ts time.Time, ext string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r) || r == '-' || r == '_':
			return '_'
		}
		return -1
	}, strings.TrimSpace(query))
	for strings.Contains(slug, "__") {
		slug = strings.ReplaceAll(slug, "__", "_")
	}
	slug = strings.Trim(slug, "_")
	if slug == "" {
		slug = "results"
	}
	return fmt.Sprintf("%s_%s_%s.%s", variant, slug, ts.Format(FileTimestampLayout), ext)
}

func WriteJSON(path string, records []*models.Record) error {
	if records == nil {
		records = []*models.Record{}
	}
	return writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	})
}

func WriteCSV(path string, header []string, records []*models.Record) error {
	return writeAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if len(header) > 0 {
			if err := cw.Write(header); err != nil {
				return err
			}
		}
		for _, r := range records {
			if err := cw.Write(r.Values()); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

func ReadJSON(path string) ([]*models.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []*models.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return records, nil
}

// ReadCSV returns the header and the data rows.
func ReadCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	return rows[0], rows[1:], nil
}

// WriteRows writes a header and rows atomically.
func WriteRows(path string, header []string, rows [][]string) error {
	return writeAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
		return cw.Error()
	})
}

// writeAtomic writes through a temp file in the target directory and
// renames it into place.
func writeAtomic(path string, fn func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	bw := bufio.NewWriter(tmp)
	if err := fn(bw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
