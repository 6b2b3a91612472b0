package archive

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha512"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/manifest-packager/internal/logger"
)

// FileMode is the permission of an installed archive.
const FileMode os.FileMode = 0o644

// Install atomically replaces the file at target with data.
// The checksum of the written file is verified before the rename.
// A target created by Install is removed again when installation fails.
func Install(ctx context.Context, target string, data []byte) (err error) {
	target = filepath.Clean(target)

	_, statErr := os.Stat(target)
	created := errors.Is(statErr, os.ErrNotExist)

	if created {
		var file *os.File
		if file, err = os.Create(target); err != nil {
			return fmt.Errorf("create %s: %w", target, err)
		}

		if err = file.Close(); err != nil {
			return fmt.Errorf("create %s: %w", target, err)
		}

		defer func() {
			if err != nil {
				_ = os.Remove(target)
			}
		}()
	}

	checksum := sha512.Sum512(data)

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: FileMode,
		Checksum:   checksum[:],
		Hash:       crypto.SHA512,
	}

	logger.DebugKV(ctx, "Installing archive", "target", target, "bytes", len(data))

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("install %s: %w", target, err)
	}

	return nil
}
