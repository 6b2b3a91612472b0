package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/schollz/progressbar/v3"
)

// dataFileMode is the mode of entries built from in-memory data.
const dataFileMode = 0o644

var (
	// errDuplicateEntry is returned when two entries share an archive name.
	errDuplicateEntry = errors.New("duplicate archive entry")
	// errUnsafeEntry is returned for absolute names or names escaping the archive root.
	errUnsafeEntry = errors.New("unsafe archive entry name")
)

// Entry is one file of the archive.
type Entry struct {
	// Name is the slash-separated path inside the archive.
	Name string
	// Source is the file copied into the archive when Data is nil.
	Source string
	// Data is written verbatim when not nil.
	Data []byte
}

// buildOptions holds optional Build settings.
type buildOptions struct {
	// progress receives a progress bar when not nil.
	progress io.Writer
	// modified is the timestamp of in-memory entries.
	modified time.Time
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

// WithProgress renders a progress bar to w while entries are compressed.
func WithProgress(w io.Writer) BuildOption {
	return func(o *buildOptions) {
		o.progress = w
	}
}

// WithModified sets the timestamp of entries built from in-memory data.
func WithModified(t time.Time) BuildOption {
	return func(o *buildOptions) {
		o.modified = t
	}
}

// Build compresses the entries, in order, into a zip archive held in memory.
func Build(ctx context.Context, entries []Entry, opts ...BuildOption) ([]byte, error) {
	options := buildOptions{modified: time.Now()}
	for _, opt := range opts {
		opt(&options)
	}

	var bar *progressbar.ProgressBar
	if options.progress != nil {
		bar = progressbar.NewOptions(len(entries),
			progressbar.OptionSetWriter(options.progress),
			progressbar.OptionSetDescription("Packaging"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	var (
		buffer bytes.Buffer
		writer = zip.NewWriter(&buffer)
		seen   = make(map[string]struct{}, len(entries))
	)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := validateName(entry.Name); err != nil {
			return nil, err
		}

		if _, ok := seen[entry.Name]; ok {
			return nil, fmt.Errorf("%w: %s", errDuplicateEntry, entry.Name)
		}

		seen[entry.Name] = struct{}{}

		if err := addEntry(writer, entry, options.modified); err != nil {
			return nil, err
		}

		if bar != nil {
			_ = bar.Add(1)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finish archive: %w", err)
	}

	if bar != nil {
		_ = bar.Finish()
	}

	return buffer.Bytes(), nil
}

// addEntry writes one entry, keeping the mode and timestamp of source files.
func addEntry(writer *zip.Writer, entry Entry, modified time.Time) error {
	var (
		header *zip.FileHeader
		data   = entry.Data
	)

	if data == nil {
		info, err := os.Stat(entry.Source)
		if err != nil {
			return fmt.Errorf("stat %s: %w", entry.Source, err)
		}

		if header, err = zip.FileInfoHeader(info); err != nil {
			return fmt.Errorf("header for %s: %w", entry.Source, err)
		}

		if data, err = os.ReadFile(filepath.Clean(entry.Source)); err != nil {
			return fmt.Errorf("read %s: %w", entry.Source, err)
		}
	} else {
		header = &zip.FileHeader{Modified: modified}
		header.SetMode(dataFileMode)
	}

	header.Name = entry.Name
	header.Method = zip.Deflate

	w, err := writer.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", entry.Name, err)
	}

	if _, err = w.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", entry.Name, err)
	}

	return nil
}

// validateName rejects absolute names and names leaving the archive root.
func validateName(name string) error {
	cleaned := path.Clean(name)
	if name == "" || path.IsAbs(name) || strings.Contains(name, "\\") ||
		cleaned == ".." || strings.HasPrefix(cleaned, "../") || cleaned != name {
		return fmt.Errorf("%w: %q", errUnsafeEntry, name)
	}

	return nil
}
