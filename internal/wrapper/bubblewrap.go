package wrapper

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// bubblewrap confines the subprocess with bwrap. The build directory and
// any configured extra paths are bind mounted; everything else on the host
// is invisible to the playbook.
type bubblewrap struct{}

func (b *bubblewrap) Name() string { return "bubblewrap" }

// systemROBinds are host paths every playbook run needs to find its
// interpreter and libraries.
var systemROBinds = []string{
	"/usr",
	"/lib",
	"/lib64",
	"/bin",
	"/sbin",
	"/etc/resolv.conf",
	"/etc/hosts",
	"/etc/ssl",
	"/etc/passwd",
	"/etc/group",
}

func (b *bubblewrap) Command(ctx context.Context, opts Options, argv []string) (*exec.Cmd, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if opts.WorkDir == "" {
		return nil, fmt.Errorf("bubblewrap requires a work directory")
	}

	args := []string{
		"--die-with-parent",
		"--unshare-pid",
		"--unshare-ipc",
		"--unshare-uts",
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
	}

	for _, path := range systemROBinds {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		args = append(args, "--ro-bind", path, path)
	}
	for _, path := range opts.ROBinds {
		args = append(args, "--ro-bind", path, path)
	}
	args = append(args, "--bind", opts.WorkDir, opts.WorkDir)
	for _, path := range opts.RWBinds {
		args = append(args, "--bind", path, path)
	}
	if opts.SSHAuthSock != "" {
		sockDir := filepath.Dir(opts.SSHAuthSock)
		args = append(args, "--bind", sockDir, sockDir)
	}

	args = append(args, "--chdir", opts.WorkDir)
	args = append(args, "--clearenv")
	for _, kv := range opts.Env {
		key, value, ok := splitEnv(kv)
		if !ok {
			continue
		}
		args = append(args, "--setenv", key, value)
	}
	if opts.SSHAuthSock != "" {
		args = append(args, "--setenv", "SSH_AUTH_SOCK", opts.SSHAuthSock)
	}

	args = append(args, "--")
	args = append(args, argv...)

	cmd := exec.CommandContext(ctx, "bwrap", args...)
	cmd.Dir = opts.WorkDir
	return cmd, nil
}

func splitEnv(kv string) (string, string, bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}
