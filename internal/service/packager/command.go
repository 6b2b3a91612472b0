package packager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/oshokin/manifest-packager/internal/archive"
	"github.com/oshokin/manifest-packager/internal/config"
	domain "github.com/oshokin/manifest-packager/internal/domain/manifest"
	"github.com/oshokin/manifest-packager/internal/logger"
	"github.com/oshokin/manifest-packager/internal/prompt"
	repository "github.com/oshokin/manifest-packager/internal/repository/manifest"
	"github.com/oshokin/manifest-packager/internal/service/common"
	"github.com/oshokin/manifest-packager/internal/version"
)

// selfEntryBase is the archive name of the embedded packager executable, without extension.
const selfEntryBase = "package"

// Options contains inputs for the packager entry point.
type Options struct {
	// Root is the directory holding the root descriptor (defaults to ".").
	Root string
	// Sets are the requested sets (defaults to the configured default sets).
	Sets []string
	// OutputPath overrides "<name>.zip" in Root. It is used as given.
	OutputPath string
	// Config holds naming conventions (defaults to config.Default).
	Config *config.Config
	// Confirmer is asked before an existing archive is replaced (defaults to a terminal prompt).
	Confirmer prompt.Confirmer
	// SelfPath is the executable embedded for SetIn (defaults to the running binary).
	SelfPath string
	// Progress receives a progress bar while the archive is compressed.
	Progress io.Writer
}

// Result describes a finished run.
type Result struct {
	// Plan is the file selection.
	Plan *Plan
	// OutputPath is the filesystem path of the archive.
	OutputPath string
	// Entries are the archive entry names in write order.
	Entries []string
	// Declined is set when the user refused to replace an existing archive.
	Declined bool
}

// packager holds the state of one run.
// It is unexported, callers should use Run, which encapsulates setup and validation.
type packager struct {
	// cfg holds naming conventions.
	cfg *config.Config
	// repo reads descriptors and key files.
	repo repository.Repository
	// opts are the caller options.
	opts *Options
}

// Run executes the packaging workflow.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, "packager")

	pkg, err := newPackager(opts)
	if err != nil {
		return nil, err
	}

	marker, err := common.AcquireMarker(ctx, pkg.repo.Root(), pkg.cfg.MarkerFilename)
	if err != nil {
		return nil, err
	}

	defer func() {
		if releaseErr := marker.Release(); releaseErr != nil {
			logger.WarnKV(ctx, "Unable to remove the run marker", "error", releaseErr)
		}
	}()

	return pkg.run(ctx)
}

// newPackager validates the options and fills defaults.
func newPackager(opts *Options) (*packager, error) {
	if opts == nil {
		opts = new(Options)
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	root := opts.Root
	if root == "" {
		root = "."
	}

	return &packager{
		cfg:  cfg,
		repo: repository.NewFileRepository(root,
			repository.WithDescriptorNames(cfg.DescriptorNames...),
			repository.WithKeyFilename(cfg.KeyFilename),
		),
		opts: opts,
	}, nil
}

// run loads the descriptors, selects the files and writes the archive.
func (p *packager) run(ctx context.Context) (*Result, error) {
	if _, err := p.repo.RootDescriptor(ctx); err != nil {
		return nil, err
	}

	manifests, err := p.repo.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, m := range manifests {
		logger.InfoKV(ctx, "Found and read", "file", m.Filename, "kind", m.Kind, "signed", m.Signature != nil)
	}

	sets := p.opts.Sets
	if len(sets) == 0 {
		sets = p.cfg.DefaultSets
	}

	plan, err := Select(manifests, sets, p.opts.OutputPath)
	if err != nil {
		return nil, err
	}

	if plan.AllowUserManifest {
		userFiles, readErr := ReadUserManifest(ctx, p.repo.Root(), p.cfg.UserManifestFilename)
		if readErr != nil {
			return nil, readErr
		}

		if err = plan.AddUserFiles(userFiles); err != nil {
			return nil, err
		}
	}

	// The in set always carries the packager and the descriptors, so it is never empty.
	if len(plan.Files) == 0 && !plan.EmbedsDescriptors() {
		return nil, fmt.Errorf("%w: set(s) %s", ErrEmptyFileSet, strings.Join(plan.Sets, ","))
	}

	entries, err := p.prepareEntries(ctx, plan)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Plan:       plan,
		OutputPath: p.outputPath(plan),
		Entries:    make([]string, 0, len(entries)),
	}

	for _, entry := range entries {
		result.Entries = append(result.Entries, entry.Name)
	}

	proceed, err := p.confirmOverwrite(ctx, result.OutputPath)
	if err != nil {
		return nil, err
	}

	if !proceed {
		logger.WarnKV(ctx, "Archive already exists, not overwriting", "output", result.OutputPath)

		result.Declined = true

		return result, nil
	}

	logger.InfoKV(ctx, "Creating archive", "output", result.OutputPath, "entries", len(entries))

	data, err := archive.Build(ctx, entries, archive.WithProgress(p.opts.Progress))
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrArchiveWrite, result.OutputPath, err)
	}

	if err = archive.Install(ctx, result.OutputPath, data); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrArchiveWrite, result.OutputPath, err)
	}

	logger.InfoKV(ctx, "Package created", "output", result.OutputPath, "name", plan.PackageName)

	return result, nil
}

// prepareEntries assembles every archive entry. Generated entries replace selected
// files with the same archive name.
func (p *packager) prepareEntries(ctx context.Context, plan *Plan) ([]archive.Entry, error) {
	generated, err := p.generatedEntries(ctx, plan)
	if err != nil {
		return nil, err
	}

	reserved := make(map[string]struct{}, len(generated))
	for _, entry := range generated {
		reserved[entry.Name] = struct{}{}
	}

	entries := make([]archive.Entry, 0, len(plan.Files)+len(generated))

	for _, file := range plan.Files {
		name := path.Join(plan.PackageName, file.Archive)
		if _, ok := reserved[name]; ok {
			logger.WarnKV(ctx, "Selected file is replaced by a generated entry", "file", file.Source, "entry", name)

			continue
		}

		logger.DebugKV(ctx, "Adding file", "file", file.Source)

		entries = append(entries, archive.Entry{
			Name:   name,
			Source: filepath.Join(p.repo.Root(), filepath.FromSlash(file.Source)),
		})
	}

	return append(entries, generated...), nil
}

// generatedEntries returns the packager executable, the descriptor copies and the description file
// as requested by the plan.
func (p *packager) generatedEntries(ctx context.Context, plan *Plan) ([]archive.Entry, error) {
	var entries []archive.Entry

	if plan.EmbedsDescriptors() {
		self, err := p.selfPath()
		if err != nil {
			return nil, err
		}

		entries = append(entries, archive.Entry{
			Name:   path.Join(plan.PackageName, selfEntryBase+common.ExecutableExtension()),
			Source: self,
		})

		for _, m := range plan.Embedded {
			data, embedErr := p.embeddedDescriptor(ctx, m)
			if embedErr != nil {
				return nil, embedErr
			}

			logger.DebugKV(ctx, "Adding descriptor", "file", m.Filename)

			entries = append(entries, archive.Entry{
				Name: path.Join(plan.PackageName, m.Filename),
				Data: data,
			})
		}

		for _, m := range plan.Skipped {
			logger.InfoKV(ctx, "Skipping descriptor", "file", m.Filename)
		}
	}

	if plan.Describes() {
		host, err := common.DetectHost()
		if err != nil {
			return nil, err
		}

		entries = append(entries, archive.Entry{
			Name: path.Join(plan.PackageName, p.cfg.InfoFilename),
			Data: []byte(describe(host, plan.UserFiles)),
		})
	}

	return entries, nil
}

// embeddedDescriptor sanitizes a copy of m and re-signs it with the key next to the descriptor.
func (p *packager) embeddedDescriptor(ctx context.Context, m *domain.Manifest) ([]byte, error) {
	embedded := m.Clone()

	if embedded.PublicKey != nil {
		if err := p.repo.LoadPrivateKey(ctx, embedded); err != nil {
			return nil, err
		}
	}

	embedded.Sanitize()

	if _, err := embedded.Resign(); err != nil {
		return nil, err
	}

	data, err := embedded.Serialize(embedded.Format)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Filename, err)
	}

	return data, nil
}

// selfPath returns the executable embedded for SetIn.
func (p *packager) selfPath() (string, error) {
	if p.opts.SelfPath != "" {
		return p.opts.SelfPath, nil
	}

	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate packager executable: %w", err)
	}

	return self, nil
}

// outputPath resolves the archive location: an explicit output as given, the default inside the root.
func (p *packager) outputPath(plan *Plan) string {
	if p.opts.OutputPath != "" {
		return filepath.Clean(p.opts.OutputPath)
	}

	return filepath.Join(p.repo.Root(), plan.OutputPath)
}

// confirmOverwrite asks before replacing an existing archive.
func (p *packager) confirmOverwrite(ctx context.Context, output string) (bool, error) {
	info, err := os.Stat(output)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}

	if err != nil {
		return false, fmt.Errorf("stat %s: %w", output, err)
	}

	if info.IsDir() {
		return false, fmt.Errorf("%w: %s is a directory", ErrArchiveWrite, output)
	}

	confirmer := p.opts.Confirmer
	if confirmer == nil {
		confirmer = prompt.NewTerminal()
	}

	return confirmer.Confirm(ctx, output+" already exists, overwrite?")
}

// describe renders the description file.
func describe(host common.Host, userFiles []string) string {
	var builder strings.Builder

	builder.WriteString("created by package\n")
	builder.WriteString("platform: " + host.Platform + "\n")
	builder.WriteString("node: " + host.Hostname + "\n")
	builder.WriteString("packager: " + version.Full() + "\n")

	if len(userFiles) > 0 {
		builder.WriteString("user-manifest: " + strings.Join(userFiles, ", ") + "\n")
	}

	return builder.String()
}
