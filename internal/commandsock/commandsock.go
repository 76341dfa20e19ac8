// Package commandsock exposes a unix domain socket on which operators send
// single-word runtime commands to the executor.
package commandsock

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/mattjoyce/gantry/internal/log"
)

// Command is a runtime operator command.
type Command int

const (
	// CmdStop shuts the executor down, aborting running builds.
	CmdStop Command = iota
	// CmdPause stops accepting new builds; running builds continue.
	CmdPause
	// CmdUnpause resumes accepting new builds.
	CmdUnpause
	// CmdGraceful stops accepting new builds and exits once running
	// builds finish.
	CmdGraceful
	// CmdVerbose raises playbook verbosity for builds started afterwards.
	CmdVerbose
	// CmdUnverbose restores normal playbook verbosity.
	CmdUnverbose
	// CmdKeep retains build directories after completion.
	CmdKeep
	// CmdNoKeep deletes build directories after completion.
	CmdNoKeep
)

var commandNames = map[Command]string{
	CmdStop:      "stop",
	CmdPause:     "pause",
	CmdUnpause:   "unpause",
	CmdGraceful:  "graceful",
	CmdVerbose:   "verbose",
	CmdUnverbose: "unverbose",
	CmdKeep:      "keep",
	CmdNoKeep:    "nokeep",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// ParseCommand maps a command word to its Command value.
func ParseCommand(word string) (Command, error) {
	word = strings.ToLower(strings.TrimSpace(word))
	for cmd, name := range commandNames {
		if name == word {
			return cmd, nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", word)
}

// Listener accepts operator commands on a unix socket and delivers them on
// a channel.
type Listener struct {
	path     string
	ln       net.Listener
	commands chan Command

	closeOnce sync.Once
	done      chan struct{}
}

// Listen binds the command socket, removing any stale socket file first.
func Listen(path string) (*Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale command socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on command socket: %w", err)
	}
	l := &Listener{
		path:     path,
		ln:       ln,
		commands: make(chan Command, 8),
		done:     make(chan struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

// Commands returns the channel on which parsed commands arrive.
func (l *Listener) Commands() <-chan Command {
	return l.commands
}

// Close stops the listener and removes the socket file.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.ln.Close()
		_ = os.Remove(l.path)
	})
	return err
}

func (l *Listener) acceptLoop() {
	logger := log.WithComponent("commandsock")
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			logger.Warn("accept failed", "error", err)
			continue
		}
		go l.handle(conn, logger)
	}
}

func (l *Listener) handle(conn net.Conn, logger *slog.Logger) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		cmd, err := ParseCommand(line)
		if err != nil {
			logger.Warn("ignoring command", "error", err)
			fmt.Fprintf(conn, "ERR %v\n", err)
			continue
		}
		select {
		case l.commands <- cmd:
			fmt.Fprintf(conn, "OK %s\n", cmd)
		case <-l.done:
			return
		}
	}
}
