package commandsock

import (
	"bufio"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		word string
		want Command
	}{
		{"stop", CmdStop},
		{"pause", CmdPause},
		{"unpause", CmdUnpause},
		{"graceful", CmdGraceful},
		{"verbose", CmdVerbose},
		{"unverbose", CmdUnverbose},
		{"keep", CmdKeep},
		{"nokeep", CmdNoKeep},
		{"  KEEP \n", CmdKeep},
	}
	for _, tc := range cases {
		got, err := ParseCommand(tc.word)
		require.NoError(t, err, tc.word)
		assert.Equal(t, tc.want, got, tc.word)
	}

	_, err := ParseCommand("restart")
	assert.Error(t, err)
}

func TestListenerDeliversCommands(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "exec.sock")
	l, err := Listen(sock)
	require.NoError(t, err)
	defer l.Close()

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("pause\nbogus\nkeep\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	var replies []string
	for i := 0; i < 3; i++ {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		replies = append(replies, strings.TrimSpace(line))
	}
	assert.Equal(t, "OK pause", replies[0])
	assert.True(t, strings.HasPrefix(replies[1], "ERR"))
	assert.Equal(t, "OK keep", replies[2])

	assert.Equal(t, CmdPause, <-l.Commands())
	assert.Equal(t, CmdKeep, <-l.Commands())
}

func TestListenerReplacesStaleSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "exec.sock")

	first, err := Listen(sock)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Listen(sock)
	require.NoError(t, err)
	defer second.Close()

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	conn.Close()
}

func TestCloseStopsListener(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "exec.sock")
	l, err := Listen(sock)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := net.Dial("unix", sock); err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("socket still accepting after Close")
}
