//go:build !darwin && !windows

package isolation

import (
	"context"
	"fmt"
	"os/exec"
)

// ConfigurationPageWorker is the isolation configuration for page-render
// worker subprocesses. On this platform family there is no sandbox profile
// language available (unlike Darwin's sandbox-exec); isolation here comes
// only from running in a separate process plus whatever rlimit, cgroup or
// process-group setup the caller applies in modifier.
const ConfigurationPageWorker = ``

// process is the non-Darwin POSIX process implementation.
type process struct {
	// cancel cancels the context associated with the process.
	cancel context.CancelFunc
	// command is the subprocess handle.
	command *exec.Cmd
}

func (p *process) Command() *exec.Cmd { return p.command }

func (p *process) Close() error {
	p.cancel()
	return nil
}

// Create starts an isolated subprocess. ctx, name, and arg correspond to
// their counterparts in os/exec.CommandContext. configuration and
// updatedBinPath are accepted for signature parity with the Darwin and
// Windows implementations but are unused here. modifier, if non-nil,
// configures the command (e.g. setting SysProcAttr rlimits) before it
// starts.
func Create(ctx context.Context, _ string, modifier func(*exec.Cmd), _ string, name string, arg ...string) (Process, error) {
	ctx, cancel := context.WithCancel(ctx)

	command := exec.CommandContext(ctx, name, arg...)
	if modifier != nil {
		modifier(command)
	}

	if err := command.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("unable to start isolated process: %w", err)
	}
	return &process{cancel: cancel, command: command}, nil
}
