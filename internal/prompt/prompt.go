package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// Confirmer asks a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, question string) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, question string) (bool, error) {
	return f(ctx, question)
}

// Always answers every question with answer, e.g. for --yes.
func Always(answer bool) Confirmer {
	return ConfirmFunc(func(context.Context, string) (bool, error) {
		return answer, nil
	})
}

// Terminal asks on a terminal with a huh confirm field.
type Terminal struct {
	// In is read for the answer.
	In io.Reader
	// Out receives the rendered question.
	Out io.Writer
}

// NewTerminal returns a Terminal on the process stdin and stderr.
func NewTerminal() *Terminal {
	return &Terminal{
		In:  os.Stdin,
		Out: os.Stderr,
	}
}

// Confirm renders the question and waits for an answer.
// Aborting the form counts as "no".
func (t *Terminal) Confirm(ctx context.Context, question string) (bool, error) {
	var answer bool

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(question).
				Affirmative("Yes").
				Negative("No").
				Value(&answer),
		),
	).
		WithAccessible(!isTerminal(t.In)).
		WithInput(t.In).
		WithOutput(t.Out)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}

		return false, fmt.Errorf("confirm: %w", err)
	}

	return answer, nil
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	file, ok := r.(*os.File)
	if !ok {
		return false
	}

	fd := file.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
