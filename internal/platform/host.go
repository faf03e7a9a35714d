package platform

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// hostScript collects the interpreter facts needed to build compat tags
// without requiring a full environment/venv model.
const hostScript = `import sys, sysconfig
print(sysconfig.get_platform())
print(f'{sys.version_info.major}{sys.version_info.minor}')`

const expectedOutputLines = 2

// Host describes the interpreter platform selection runs against.
type Host struct {
	PlatformTag   string // e.g. "macosx_14_0_arm64": sysconfig's "macosx-14.0-arm64" with "-" and "." normalized to "_"
	PythonVersion string // e.g. "312"
}

// CommandRunner executes a command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// DetectHost runs pythonBin to discover the host's PEP 425 platform facts.
func DetectHost(ctx context.Context, pythonBin string, run CommandRunner) (*Host, error) {
	if run == nil {
		run = defaultRunCmd
	}

	output, err := run(ctx, pythonBin, "-c", hostScript)
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", pythonBin, err)
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) != expectedOutputLines {
		return nil, fmt.Errorf("unexpected output from %s: expected %d lines, got %d",
			pythonBin, expectedOutputLines, len(lines))
	}

	return &Host{
		PlatformTag:   normalizePlatform(strings.TrimSpace(lines[0])),
		PythonVersion: strings.TrimSpace(lines[1]),
	}, nil
}

// normalizePlatform mirrors the wheel filename convention, which replaces
// "-" and "." with "_" in the platform segment.
func normalizePlatform(tag string) string {
	r := strings.NewReplacer("-", "_", ".", "_")
	return r.Replace(tag)
}

func defaultRunCmd(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
