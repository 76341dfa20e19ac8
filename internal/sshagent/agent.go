// Package sshagent manages a per-build ssh-agent subprocess. Each build
// gets its own agent so node keys never leak between jobs.
package sshagent

import (
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/mattjoyce/gantry/internal/log"
)

var (
	authSockPattern = regexp.MustCompile(`SSH_AUTH_SOCK=([^;]+);`)
	agentPIDPattern = regexp.MustCompile(`SSH_AGENT_PID=([0-9]+);`)
)

// Agent is a running ssh-agent process.
type Agent struct {
	AuthSock string
	PID      int
}

// Start launches a new ssh-agent and parses its environment output.
func Start() (*Agent, error) {
	out, err := exec.Command("ssh-agent", "-s").Output()
	if err != nil {
		return nil, fmt.Errorf("start ssh-agent: %w", err)
	}

	sockMatch := authSockPattern.FindSubmatch(out)
	pidMatch := agentPIDPattern.FindSubmatch(out)
	if sockMatch == nil || pidMatch == nil {
		return nil, fmt.Errorf("unexpected ssh-agent output: %q", strings.TrimSpace(string(out)))
	}
	pid, err := strconv.Atoi(string(pidMatch[1]))
	if err != nil {
		return nil, fmt.Errorf("parse ssh-agent pid: %w", err)
	}

	agent := &Agent{AuthSock: string(bytes.TrimSpace(sockMatch[1])), PID: pid}
	log.Get().Debug("started ssh-agent", "pid", agent.PID, "sock", agent.AuthSock)
	return agent, nil
}

// Add loads the private key at keyPath into the agent.
func (a *Agent) Add(keyPath string) error {
	cmd := exec.Command("ssh-add", keyPath)
	cmd.Env = a.env()
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ssh-add %s: %w: %s", keyPath, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Remove unloads the private key at keyPath from the agent.
func (a *Agent) Remove(keyPath string) error {
	cmd := exec.Command("ssh-add", "-d", keyPath)
	cmd.Env = a.env()
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ssh-add -d %s: %w: %s", keyPath, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// List returns the agent's loaded key fingerprints, one per line.
func (a *Agent) List() ([]string, error) {
	cmd := exec.Command("ssh-add", "-l")
	cmd.Env = a.env()
	out, err := cmd.Output()
	if err != nil {
		// ssh-add exits 1 when the agent has no identities.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("ssh-add -l: %w", err)
	}
	var keys []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			keys = append(keys, line)
		}
	}
	return keys, nil
}

// Stop terminates the agent process.
func (a *Agent) Stop() error {
	if a.PID <= 0 {
		return nil
	}
	if err := syscall.Kill(a.PID, syscall.SIGTERM); err != nil {
		return fmt.Errorf("stop ssh-agent pid %d: %w", a.PID, err)
	}
	log.Get().Debug("stopped ssh-agent", "pid", a.PID)
	return nil
}

func (a *Agent) env() []string {
	return []string{
		"SSH_AUTH_SOCK=" + a.AuthSock,
		"SSH_AGENT_PID=" + strconv.Itoa(a.PID),
	}
}
