package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"carwatch/models"
)

var csvHeader = []string{
	"token", "title", "brand_model", "year", "price", "mileage", "region", "district",
	"seller_type", "chassis", "body", "engine", "deal_tag", "tags", "ingested_at",
}

// CSVWriter appends ingested listings to an audit CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter opens (or creates) the CSV file at the given path in append
// mode, writing the header row only when the file is new. Intermediate
// directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv: open file %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: stat %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("csv: write header: %w", err)
		}
		w.Flush()
	}

	return &CSVWriter{file: f, writer: w}, nil
}

// Write appends one row per listing.
func (c *CSVWriter) Write(listings []*models.Listing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range listings {
		row := []string{
			l.Token,
			l.Title,
			l.BrandModel,
			strconv.Itoa(l.Year),
			strconv.FormatInt(l.Price, 10),
			strconv.FormatInt(l.Mileage, 10),
			l.RegionName,
			l.District,
			l.SellerType,
			l.ChassisCondition,
			l.BodyCondition,
			l.EngineCondition,
			l.DealTag,
			strings.Join(l.Tags, " | "),
			l.CreatedAt.Format(time.RFC3339),
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
