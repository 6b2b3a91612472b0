package packager

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/manifest-packager/internal/logger"
)

// ReadUserManifest returns the files listed in the user manifest below root, one per
// non-blank line. A missing user manifest yields no files. Every listed file must exist.
func ReadUserManifest(ctx context.Context, root, filename string) ([]string, error) {
	contents, err := os.ReadFile(filepath.Join(root, filename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.DebugKV(ctx, "No user manifest", "file", filename)

			return nil, nil
		}

		return nil, fmt.Errorf("read user manifest %s: %w", filename, err)
	}

	var (
		files   []string
		scanner = bufio.NewScanner(bytes.NewReader(contents))
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		file, cleanErr := cleanRelative(line)
		if cleanErr != nil {
			return nil, fmt.Errorf("%s: %w", filename, cleanErr)
		}

		info, statErr := os.Stat(filepath.Join(root, filepath.FromSlash(file)))

		switch {
		case errors.Is(statErr, os.ErrNotExist):
			return nil, fmt.Errorf("%w: %s, listed in %s", ErrMissingUserFile, line, filename)
		case statErr != nil:
			return nil, fmt.Errorf("stat %s from %s: %w", line, filename, statErr)
		case info.IsDir():
			return nil, fmt.Errorf("%w: %s, listed in %s, is a directory", ErrMissingUserFile, line, filename)
		}

		logger.InfoKV(ctx, "Adding file from the user manifest", "file", file, "user_manifest", filename)

		files = append(files, file)
	}

	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("read user manifest %s: %w", filename, err)
	}

	return files, nil
}
