package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/manifest-packager/internal/service/descriptor"
)

var (
	// forceKeygen replaces an existing key pair.
	forceKeygen bool
	// editDir selects the descriptor edited by add and remove.
	editDir string

	// keygenCmd creates a signing key for one descriptor.
	keygenCmd = &cobra.Command{
		Use:   "keygen [dir]",
		Short: "Create a signing key for a descriptor and sign it",
		Long:  "Generate an Ed25519 key next to the descriptor in dir (default: the root), publish its public key in the descriptor and sign it.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			keyFile, err := newDescriptorService().Keygen(cmd.Context(), dir, forceKeygen)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Private key written to %s, keep it out of version control\n", keyFile)

			return nil
		},
	}

	// signCmd re-signs every descriptor with a key.
	signCmd = &cobra.Command{
		Use:   "sign",
		Short: "Re-sign every descriptor that has a private key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			signed, err := newDescriptorService().Sign(cmd.Context())
			for _, file := range signed {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "signed %s\n", file)
			}

			return err
		},
	}

	// verifyCmd checks every descriptor.
	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Check the signature of every descriptor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reports, err := newDescriptorService().Verify(cmd.Context())

			out := cmd.OutOrStdout()
			for _, report := range reports {
				switch {
				case report.Err != nil:
					_, _ = fmt.Fprintf(out, "%s: FAILED: %v\n", report.Filename, report.Err)
				case report.Signed:
					_, _ = fmt.Fprintf(out, "%s: signed\n", report.Filename)
				default:
					_, _ = fmt.Fprintf(out, "%s: unsigned\n", report.Filename)
				}
			}

			return err
		},
	}

	// showCmd prints descriptor summaries.
	showCmd = &cobra.Command{
		Use:   "show",
		Short: "Print a summary of every descriptor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newDescriptorService().Show(cmd.Context(), cmd.OutOrStdout())
		},
	}

	// addCmd adds files to a set.
	addCmd = &cobra.Command{
		Use:   "add <set> <file>...",
		Short: "Add files to a set of a descriptor",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newDescriptorService().AddFiles(cmd.Context(), editDir, args[0], args[1:]...)
		},
	}

	// removeCmd removes files from a set.
	removeCmd = &cobra.Command{
		Use:   "remove <set> <file>...",
		Short: "Remove files from a set of a descriptor",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newDescriptorService().RemoveFiles(cmd.Context(), editDir, args[0], args[1:]...)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	keygenCmd.Flags().BoolVar(&forceKeygen, "force", false, "replace an existing key")

	for _, c := range []*cobra.Command{addCmd, removeCmd} {
		c.Flags().StringVar(&editDir, "dir", ".", "directory of the descriptor, relative to the root")
	}
}

// newDescriptorService returns a descriptor service for the root directory.
func newDescriptorService() *descriptor.Service {
	return descriptor.NewService(rootDir, settings)
}
