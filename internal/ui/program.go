package ui

import (
	"context"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// quitGrace is how long a program gets to exit after Quit before it is killed
const quitGrace = 2 * time.Second

// ProgramRunner manages the lifecycle of the inline status program
type ProgramRunner struct {
	program *tea.Program
	done    chan struct{}
}

// NewProgramRunner wraps model in an inline program. input may be nil when
// stdin is not a terminal.
func NewProgramRunner(model tea.Model, input io.Reader, output io.Writer) *ProgramRunner {
	opts := []tea.ProgramOption{tea.WithOutput(output)}
	if input == nil {
		opts = append(opts, tea.WithInput(nil))
	} else {
		opts = append(opts, tea.WithInput(input))
	}
	return &ProgramRunner{
		program: tea.NewProgram(model, opts...),
		done:    make(chan struct{}),
	}
}

// Run blocks until the program exits or ctx is cancelled
func (r *ProgramRunner) Run(ctx context.Context) error {
	defer close(r.done)

	errCh := make(chan error, 1)
	go func() {
		_, err := r.program.Run()
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		r.program.Quit()
		select {
		case err := <-errCh:
			return err
		case <-time.After(quitGrace):
			r.program.Kill()
			<-errCh
			return nil
		}
	}
}

// Send sends a message to the running program
func (r *ProgramRunner) Send(msg tea.Msg) {
	r.program.Send(msg)
}

// Done returns a channel that's closed when the program exits
func (r *ProgramRunner) Done() <-chan struct{} {
	return r.done
}
