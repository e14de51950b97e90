// Package export provides record sinks for extracted ads: CSV, JSON lines,
// and a plain-text run report.
package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pvaillant/adwatch/internal/scraper"
)

// CSVSink writes records to CSV.
type CSVSink struct {
	file   *os.File
	writer *csv.Writer
}

// NewCSVSink initialises a CSV sink and writes the header row.
func NewCSVSink(filename string) (*CSVSink, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	header := []string{"title", "raw_price", "clean_price", "url", "location", "category", "keyword", "page_number", "scraped_at"}
	if err := writer.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVSink{file: f, writer: writer}, nil
}

// Write appends records to the CSV output.
func (s *CSVSink) Write(_ context.Context, records []scraper.AdRecord) error {
	for _, rec := range records {
		cleanPrice := ""
		if rec.CleanPrice != nil {
			cleanPrice = strconv.FormatFloat(*rec.CleanPrice, 'f', -1, 64)
		}
		row := []string{
			rec.Title,
			rec.RawPrice,
			cleanPrice,
			rec.URL,
			rec.Location,
			rec.Category,
			rec.Keyword,
			strconv.Itoa(rec.PageNumber),
			rec.ScrapedAt.Format(time.RFC3339),
		}
		if err := s.writer.Write(row); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (s *CSVSink) Close() error {
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return s.file.Close()
}

// JSONLSink writes newline-delimited JSON records.
type JSONLSink struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
}

// NewJSONLSink initialises the JSON-lines sink.
func NewJSONLSink(filename string) (*JSONLSink, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONLSink{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends records in JSONL format.
func (s *JSONLSink) Write(_ context.Context, records []scraper.AdRecord) error {
	for _, rec := range records {
		if err := s.encoder.Encode(rec); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (s *JSONLSink) Close() error {
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return s.file.Close()
}

// MultiSink fans records out to several sinks; the first error wins but all
// sinks still see Close.
type MultiSink struct {
	sinks []scraper.RecordSink
}

// NewMultiSink combines sinks into one.
func NewMultiSink(sinks ...scraper.RecordSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Write forwards the batch to every sink.
func (m *MultiSink) Write(ctx context.Context, records []scraper.AdRecord) error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Write(ctx, records); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every sink.
func (m *MultiSink) Close() error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
