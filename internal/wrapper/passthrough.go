package wrapper

import (
	"context"
	"fmt"
	"os/exec"
)

// passthrough runs the subprocess directly with no confinement.
type passthrough struct{}

func (p *passthrough) Name() string { return "passthrough" }

func (p *passthrough) Command(ctx context.Context, opts Options, argv []string) (*exec.Cmd, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = opts.WorkDir
	cmd.Env = opts.Env
	if opts.SSHAuthSock != "" {
		cmd.Env = append(cmd.Env, "SSH_AUTH_SOCK="+opts.SSHAuthSock)
	}
	return cmd, nil
}
