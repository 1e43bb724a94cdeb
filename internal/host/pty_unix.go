//go:build !windows

package host

import (
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// terminalSession is the tool process behind a PTY, mirrored onto the
// caller's terminal.
type terminalSession struct {
	cmd     *exec.Cmd
	ptm     *os.File
	restore func()
	winch   chan os.Signal
}

// startTerminal launches cmd under a new PTY. When stdin is a terminal it
// goes raw and window size changes propagate to the child.
func startTerminal(cmd *exec.Cmd) (*terminalSession, error) {
	ptm, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	ts := &terminalSession{cmd: cmd, ptm: ptm}

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		if state, rerr := term.MakeRaw(fd); rerr == nil {
			ts.restore = func() { term.Restore(fd, state) }
		}
		ts.winch = make(chan os.Signal, 1)
		signal.Notify(ts.winch, syscall.SIGWINCH)
		go func() {
			for range ts.winch {
				pty.InheritSize(os.Stdin, ptm)
			}
		}()
		ts.winch <- syscall.SIGWINCH
	}
	return ts, nil
}

func (ts *terminalSession) Read(p []byte) (int, error)  { return ts.ptm.Read(p) }
func (ts *terminalSession) Write(p []byte) (int, error) { return ts.ptm.Write(p) }

// Wait blocks for process exit.
func (ts *terminalSession) Wait() error { return ts.cmd.Wait() }

// Close releases the PTY and restores the caller's terminal state.
func (ts *terminalSession) Close() {
	if ts.winch != nil {
		signal.Stop(ts.winch)
		close(ts.winch)
	}
	ts.ptm.Close()
	if ts.restore != nil {
		ts.restore()
	}
}
