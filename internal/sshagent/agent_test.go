package sshagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAgentOutput(t *testing.T) {
	out := []byte("SSH_AUTH_SOCK=/tmp/ssh-XXXXXX/agent.123; export SSH_AUTH_SOCK;\n" +
		"SSH_AGENT_PID=456; export SSH_AGENT_PID;\n" +
		"echo Agent pid 456;\n")

	sockMatch := authSockPattern.FindSubmatch(out)
	pidMatch := agentPIDPattern.FindSubmatch(out)

	assert.NotNil(t, sockMatch)
	assert.NotNil(t, pidMatch)
	assert.Equal(t, "/tmp/ssh-XXXXXX/agent.123", string(sockMatch[1]))
	assert.Equal(t, "456", string(pidMatch[1]))
}

func TestAgentEnv(t *testing.T) {
	agent := &Agent{AuthSock: "/tmp/agent.sock", PID: 99}
	env := agent.env()
	assert.Contains(t, env, "SSH_AUTH_SOCK=/tmp/agent.sock")
	assert.Contains(t, env, "SSH_AGENT_PID=99")
}

func TestStopWithoutPID(t *testing.T) {
	agent := &Agent{}
	assert.NoError(t, agent.Stop())
}
