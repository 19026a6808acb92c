package isolation

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strings"
)

// ConfigurationPageWorker is the sandbox-exec profile for a page-render
// worker subprocess. Unlike a backend server process, a page worker speaks
// to its parent purely over stdin/stdout pipes handed to it at exec time, so
// this profile denies networking unconditionally rather than carving out an
// exception for an IPC socket.
const ConfigurationPageWorker = `(version 1)

;;; Keep a default allow policy (encoding things like DYLD support and device
;;; access is difficult to enumerate exhaustively), but deny the critical
;;; exploitation targets a page-rendering worker has no legitimate need for.
(allow default)

;;; Deny all network access; the worker talks to its parent only over the
;;; pipes it inherited at exec time.
(deny network*)

;;; Deny access to the camera and microphone.
(deny device*)

;;; Deny access to NVRAM settings.
(deny nvram*)

;;; Deny access to system-level privileges.
(deny system*)

;;; Deny job creation (no forking further subprocesses).
(deny job-creation)

;;; Don't allow new executable code to be created in memory at runtime.
(deny dynamic-code-generation)

;;; Disable access to user preferences.
(deny user-preference*)

;;; Restrict file access to the binary/library locations and the
;;; working directory the worker was started in ([WORKDIR]).
(deny file-map-executable)
(deny file-write*)
(deny file-read*
    (subpath "/Applications")
    (subpath "/private/etc")
    (subpath "/Library")
    (subpath "/Users")
    (subpath "/Volumes"))
(allow file-read* file-map-executable
    (subpath "/usr")
    (subpath "/System")
    (subpath "[UPDATEDBINPATH]")
    (subpath "[UPDATEDLIBPATH]"))
(allow file-write*
    (literal "/dev/null")
    (subpath "[WORKDIR]"))
(allow file-read*
    (subpath "[WORKDIR]"))
`

// process is the Darwin sandbox implementation.
type process struct {
	// cancel cancels the context associated with the process.
	cancel context.CancelFunc
	// command is the sandboxed process handle.
	command *exec.Cmd
}

func (p *process) Command() *exec.Cmd { return p.command }

func (p *process) Close() error {
	p.cancel()
	return nil
}

// Create starts a sandboxed subprocess. ctx, name, and arg correspond to
// their counterparts in os/exec.CommandContext. configuration specifies the
// sandbox-exec profile (use ConfigurationPageWorker). updatedBinPath is
// templated into the profile so the worker binary and its shared libraries
// remain readable after relocation. modifier, if non-nil, configures the
// command before it starts.
func Create(ctx context.Context, configuration string, modifier func(*exec.Cmd), updatedBinPath, name string, arg ...string) (Process, error) {
	_, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("unable to lookup user: %w", err)
	}

	currentDirectory, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("unable to determine working directory: %w", err)
	}

	profile := strings.ReplaceAll(configuration, "[WORKDIR]", currentDirectory)
	profile = strings.ReplaceAll(profile, "[UPDATEDBINPATH]", updatedBinPath)
	profile = strings.ReplaceAll(profile, "[UPDATEDLIBPATH]", filepath.Join(filepath.Dir(updatedBinPath), "lib"))

	ctx, cancel := context.WithCancel(ctx)

	sandboxedArgs := make([]string, 0, len(arg)+3)
	sandboxedArgs = append(sandboxedArgs, "-p", profile, name)
	sandboxedArgs = append(sandboxedArgs, arg...)
	command := exec.CommandContext(ctx, "sandbox-exec", sandboxedArgs...)
	if modifier != nil {
		modifier(command)
	}

	if err := command.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("unable to start sandboxed process: %w", err)
	}
	return &process{cancel: cancel, command: command}, nil
}
