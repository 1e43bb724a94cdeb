//go:build windows

package host

import (
	"io"
	"os/exec"
)

// terminalSession runs the tool over plain pipes on Windows; the tool keeps
// its own console rendering and the bridge reads the combined output stream.
type terminalSession struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	outR  *io.PipeReader
	outW  *io.PipeWriter
}

func startTerminal(cmd *exec.Cmd) (*terminalSession, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	outR, outW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = outW
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &terminalSession{cmd: cmd, stdin: stdin, outR: outR, outW: outW}, nil
}

func (ts *terminalSession) Read(p []byte) (int, error)  { return ts.outR.Read(p) }
func (ts *terminalSession) Write(p []byte) (int, error) { return ts.stdin.Write(p) }

// Wait blocks for process exit and unblocks pending reads.
func (ts *terminalSession) Wait() error {
	err := ts.cmd.Wait()
	ts.outW.Close()
	return err
}

func (ts *terminalSession) Close() {
	ts.stdin.Close()
	ts.outW.Close()
	ts.outR.Close()
}
