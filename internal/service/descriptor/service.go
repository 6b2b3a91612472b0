package descriptor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/oshokin/manifest-packager/internal/config"
	domain "github.com/oshokin/manifest-packager/internal/domain/manifest"
	"github.com/oshokin/manifest-packager/internal/logger"
	repository "github.com/oshokin/manifest-packager/internal/repository/manifest"
	"github.com/oshokin/manifest-packager/internal/signature"
)

var (
	// ErrAlreadyKeyed is returned by Keygen for a descriptor that already carries a public key.
	ErrAlreadyKeyed = errors.New("descriptor already has a public key, use --force to replace it")
	// ErrVerification is returned by Verify when at least one descriptor fails to load or verify.
	ErrVerification = errors.New("descriptor verification failed")

	// errEmptySet is returned for a blank set name.
	errEmptySet = errors.New("set name must not be empty")
	// errInvalidFile is returned for blank or absolute file names.
	errInvalidFile = errors.New("file must be a non-empty relative path")
)

// Service edits the descriptors below a root directory.
type Service struct {
	// repo reads and writes descriptors and key files.
	repo repository.Repository
}

// NewService creates a Service for root using the naming conventions of cfg.
func NewService(root string, cfg *config.Config) *Service {
	if cfg == nil {
		cfg = config.Default()
	}

	return &Service{
		repo: repository.NewFileRepository(root,
			repository.WithDescriptorNames(cfg.DescriptorNames...),
			repository.WithKeyFilename(cfg.KeyFilename),
		),
	}
}

// Report is the verification outcome of one descriptor.
type Report struct {
	// Filename is the descriptor path relative to the root.
	Filename string
	// Signed is set when the descriptor carries a valid signature.
	Signed bool
	// Err is the load or verification failure.
	Err error
}

// Keygen creates a private key next to the descriptor in dir, publishes its public
// key in the descriptor and signs it. It returns the key file path.
func (s *Service) Keygen(ctx context.Context, dir string, force bool) (string, error) {
	filename, err := s.repo.FindInDir(ctx, dir)
	if err != nil {
		return "", err
	}

	m, err := s.repo.LoadUnverified(ctx, filename)
	if err != nil {
		return "", err
	}

	if m.PublicKey != nil {
		if !force {
			return "", fmt.Errorf("%s: %w", filename, ErrAlreadyKeyed)
		}

		m.PublicKey = nil
		m.Signature = nil
	}

	_, priv, err := signature.GenerateKey()
	if err != nil {
		return "", err
	}

	keyPEM, err := signature.EncodePrivateKey(priv)
	if err != nil {
		return "", err
	}

	if err = s.repo.SavePrivateKey(ctx, m, keyPEM, force); err != nil {
		return "", err
	}

	if err = m.AttachPrivateKey(priv); err != nil {
		return "", err
	}

	if err = s.resignAndSave(ctx, m); err != nil {
		return "", err
	}

	return s.repo.KeyFilename(m), nil
}

// Sign re-signs every descriptor that has a private key next to it, including
// descriptors edited by hand since they were last signed. It returns the signed descriptors.
func (s *Service) Sign(ctx context.Context) ([]string, error) {
	files, err := s.repo.Discover(ctx)
	if err != nil {
		return nil, err
	}

	var signed []string

	for _, file := range files {
		m, loadErr := s.repo.LoadUnverified(ctx, file)
		if loadErr != nil {
			return signed, loadErr
		}

		if !s.repo.HasPrivateKey(m) {
			if m.PublicKey != nil {
				logger.WarnKV(ctx, "Signed descriptor has no private key, leaving it as is", "file", file)
			}

			continue
		}

		// The key decides the public key, an outdated one is replaced.
		m.PublicKey = nil

		if err = s.repo.LoadPrivateKey(ctx, m); err != nil {
			return signed, err
		}

		if err = s.resignAndSave(ctx, m); err != nil {
			return signed, err
		}

		signed = append(signed, file)
	}

	return signed, nil
}

// Verify loads every descriptor and checks its signature.
// The returned error joins every failure and wraps ErrVerification.
func (s *Service) Verify(ctx context.Context) ([]Report, error) {
	files, err := s.repo.Discover(ctx)
	if err != nil {
		return nil, err
	}

	var (
		reports  = make([]Report, 0, len(files))
		failures []error
	)

	for _, file := range files {
		report := Report{Filename: file}

		m, loadErr := s.repo.Load(ctx, file)
		if loadErr != nil {
			report.Err = loadErr
			failures = append(failures, loadErr)
		} else {
			report.Signed = m.Signature != nil && m.Verify()
		}

		reports = append(reports, report)
	}

	if len(failures) > 0 {
		return reports, fmt.Errorf("%w: %w", ErrVerification, errors.Join(failures...))
	}

	return reports, nil
}

// Show writes the summary of every descriptor to w.
func (s *Service) Show(ctx context.Context, w io.Writer) error {
	manifests, err := s.repo.LoadAll(ctx)
	if err != nil {
		return err
	}

	for i, m := range manifests {
		if i > 0 {
			if _, err = fmt.Fprintln(w); err != nil {
				return err
			}
		}

		if _, err = fmt.Fprintln(w, m.String()); err != nil {
			return err
		}
	}

	return nil
}

// AddFiles adds files to set in the descriptor of dir and re-signs it when it is signed.
func (s *Service) AddFiles(ctx context.Context, dir, set string, files ...string) error {
	return s.edit(ctx, dir, set, files, func(m *domain.Manifest, file string) {
		m.AddFile(set, file)
	})
}

// RemoveFiles removes files from set in the descriptor of dir and re-signs it when it is signed.
// Files that are not in the set are reported and skipped.
func (s *Service) RemoveFiles(ctx context.Context, dir, set string, files ...string) error {
	return s.edit(ctx, dir, set, files, func(m *domain.Manifest, file string) {
		if !m.RemoveFile(set, file) {
			logger.WarnKV(ctx, "File is not in the set", "file", file, "set", set, "descriptor", m.Filename)
		}
	})
}

// edit applies change to every file and writes the descriptor back.
func (s *Service) edit(
	ctx context.Context,
	dir, set string,
	files []string,
	change func(m *domain.Manifest, file string),
) error {
	if strings.TrimSpace(set) == "" {
		return errEmptySet
	}

	cleaned := make([]string, 0, len(files))

	for _, file := range files {
		slashed := strings.ReplaceAll(strings.TrimSpace(file), "\\", "/")
		if slashed == "" || path.IsAbs(slashed) {
			return fmt.Errorf("%w: %q", errInvalidFile, file)
		}

		cleaned = append(cleaned, path.Clean(slashed))
	}

	filename, err := s.repo.FindInDir(ctx, dir)
	if err != nil {
		return err
	}

	m, err := s.repo.Load(ctx, filename)
	if err != nil {
		return err
	}

	if m.PublicKey != nil {
		if err = s.repo.LoadPrivateKey(ctx, m); err != nil {
			return err
		}
	}

	for _, file := range cleaned {
		change(m, file)
	}

	return s.resignAndSave(ctx, m)
}

// resignAndSave signs m when a key is attached and writes it back.
func (s *Service) resignAndSave(ctx context.Context, m *domain.Manifest) error {
	signed, err := m.Resign()
	if err != nil {
		return err
	}

	if err = s.repo.Save(ctx, m); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Descriptor written", "file", m.Filename, "signed", signed)

	return nil
}
