package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"weibo_feed/internal/model"
)

// Names of the files kept under the output directory.
const (
	WatermarkFile = "timestamp.txt"
	FeedFile      = "atom.xml"
)

// WatermarkLayout is the ISO-8601 minute-precision form written to disk.
const WatermarkLayout = "2006-01-02T15:04Z07:00"

// Files implements Storage as plain files in a directory.
type Files struct {
	dir string
}

// NewFiles returns a Files rooted at dir, creating the directory if needed.
func NewFiles(dir string) (*Files, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &Files{dir: dir}, nil
}

// Dir returns the output directory.
func (f *Files) Dir() string {
	return f.dir
}

// LoadWatermark reads the watermark sidecar. A missing or malformed file
// yields model.Epoch.
func (f *Files) LoadWatermark(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	data, err := os.ReadFile(filepath.Join(f.dir, WatermarkFile))
	if err != nil {
		return model.Epoch, nil //nolint:nilerr // unreadable state restarts from the epoch
	}
	return ParseWatermark(string(data)), nil
}

// SaveWatermark replaces the watermark sidecar.
func (f *Files) SaveWatermark(ctx context.Context, watermark time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.write(WatermarkFile, []byte(FormatWatermark(watermark)))
}

// LoadFeed reads the feed document.
func (f *Files) LoadFeed(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(f.dir, FeedFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	return data, nil
}

// SaveFeed replaces the feed document.
func (f *Files) SaveFeed(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.write(FeedFile, data)
}

// write replaces name atomically so readers never observe a partial file.
func (f *Files) write(name string, data []byte) error {
	tmp, err := os.CreateTemp(f.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(f.dir, name)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// FormatWatermark renders t in UTC+8 at minute precision.
func FormatWatermark(t time.Time) string {
	return t.In(model.CST).Format(WatermarkLayout)
}

// ParseWatermark accepts minute or second precision ISO-8601 with an offset
// and falls back to model.Epoch.
func ParseWatermark(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{WatermarkLayout, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return model.Epoch
}
