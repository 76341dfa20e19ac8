// Package wrapper provides the execution wrapper drivers used to launch
// playbook subprocesses. The passthrough driver runs commands directly;
// the bubblewrap driver confines them with bwrap bind mounts so untrusted
// playbooks cannot read outside their build directory.
package wrapper

import (
	"context"
	"fmt"
	"os/exec"
)

// Options describes the context a wrapped subprocess runs in.
type Options struct {
	// WorkDir is the subprocess working directory. It is always mounted
	// read-write for confined drivers.
	WorkDir string

	// SSHAuthSock, when set, is passed through so ansible can reach the
	// per-build ssh-agent.
	SSHAuthSock string

	// ROBinds and RWBinds are extra host paths made visible inside the
	// confinement, read-only and read-write respectively. Ignored by the
	// passthrough driver.
	ROBinds []string
	RWBinds []string

	// Env is the full environment for the subprocess.
	Env []string
}

// Driver turns an argv into an exec.Cmd, optionally confining it.
type Driver interface {
	Name() string
	Command(ctx context.Context, opts Options, argv []string) (*exec.Cmd, error)
}

// New returns the driver for the given name.
func New(name string) (Driver, error) {
	switch name {
	case "passthrough":
		return &passthrough{}, nil
	case "bubblewrap":
		return &bubblewrap{}, nil
	default:
		return nil, fmt.Errorf("unknown execution wrapper %q", name)
	}
}
