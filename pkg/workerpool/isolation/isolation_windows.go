package isolation

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"

	"github.com/kolesnikovae/go-winjob"
)

// limitTokenMatcher finds limit tokens in an isolation configuration.
var limitTokenMatcher = regexp.MustCompile(`\(With[a-zA-Z]+\)`)

// limitTokenToGenerator maps limit tokens to their corresponding generators.
var limitTokenToGenerator = map[string]func() winjob.Limit{
	"(WithDesktopLimit)":            winjob.WithDesktopLimit,
	"(WithDieOnUnhandledException)": winjob.WithDieOnUnhandledException,
	"(WithDisplaySettingsLimit)":    winjob.WithDisplaySettingsLimit,
	"(WithExitWindowsLimit)":        winjob.WithExitWindowsLimit,
	"(WithGlobalAtomsLimit)":        winjob.WithGlobalAtomsLimit,
	"(WithHandlesLimit)":            winjob.WithHandlesLimit,
	"(WithDisableOutgoingNetworking)": func() winjob.Limit {
		return winjob.WithOutgoingBandwidthLimit(0)
	},
	"(WithReadClipboardLimit)":    winjob.WithReadClipboardLimit,
	"(WithSystemParametersLimit)": winjob.WithSystemParametersLimit,
	"(WithWriteClipboardLimit)":   winjob.WithWriteClipboardLimit,
}

// ConfigurationPageWorker is the Job Object configuration for a page-render
// worker subprocess: no desktop/clipboard/display access, no outgoing
// network, killed as soon as its parent closes the job.
const ConfigurationPageWorker = `(WithDesktopLimit)
(WithDieOnUnhandledException)
(WithDisplaySettingsLimit)
(WithExitWindowsLimit)
(WithGlobalAtomsLimit)
(WithHandlesLimit)
(WithDisableOutgoingNetworking)
(WithReadClipboardLimit)
(WithSystemParametersLimit)
(WithWriteClipboardLimit)
`

// process is the Windows Job Object implementation.
type process struct {
	// job is the Windows Job object that encapsulates the process.
	job *winjob.JobObject
	// command is the sandboxed process handle.
	command *exec.Cmd
}

func (p *process) Command() *exec.Cmd { return p.command }

func (p *process) Close() error { return p.job.Close() }

// Create starts a subprocess inside a Windows Job Object configured per
// configuration (use ConfigurationPageWorker). updatedBinPath is accepted
// for signature parity with the Darwin implementation but unused on
// Windows, which has no path-templated sandbox profile.
func Create(ctx context.Context, configuration string, modifier func(*exec.Cmd), _ string, name string, arg ...string) (Process, error) {
	limits := []winjob.Limit{winjob.WithKillOnJobClose()}
	tokens := limitTokenMatcher.FindAllString(configuration, -1)
	for _, token := range tokens {
		generator, ok := limitTokenToGenerator[token]
		if !ok {
			return nil, fmt.Errorf("unknown limit token: %q", token)
		}
		limits = append(limits, generator())
	}

	command := exec.CommandContext(ctx, name, arg...)
	if modifier != nil {
		modifier(command)
	}

	job, err := winjob.Start(command, limits...)
	if err != nil {
		return nil, fmt.Errorf("unable to start isolated process: %w", err)
	}
	return &process{job: job, command: command}, nil
}
