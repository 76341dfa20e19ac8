package executor

import (
	"encoding/json"
	"fmt"
)

// RunStatus classifies how a single playbook subprocess ended.
type RunStatus int

const (
	// RunNormal means the subprocess exited on its own; its exit code
	// carries the pass/fail information.
	RunNormal RunStatus = iota
	// RunTimedOut means the watchdog killed the process group.
	RunTimedOut
	// RunUnreachable means the automation engine reported it could not
	// reach a target host.
	RunUnreachable
	// RunAborted means an operator or scheduler stop request killed the
	// process group, or prevented the launch entirely.
	RunAborted
)

func (s RunStatus) String() string {
	switch s {
	case RunNormal:
		return "normal"
	case RunTimedOut:
		return "timed_out"
	case RunUnreachable:
		return "unreachable"
	case RunAborted:
		return "aborted"
	default:
		return fmt.Sprintf("run_status(%d)", int(s))
	}
}

// BuildStatus is the closed set of build outcomes. StatusUnset marshals as
// null and tells the scheduler the build is retryable.
type BuildStatus int

const (
	StatusUnset BuildStatus = iota
	StatusSuccess
	StatusFailure
	StatusPostFailure
	StatusTimedOut
	StatusAborted
	StatusMergerFailure
	StatusError
)

var buildStatusNames = map[BuildStatus]string{
	StatusSuccess:       "SUCCESS",
	StatusFailure:       "FAILURE",
	StatusPostFailure:   "POST_FAILURE",
	StatusTimedOut:      "TIMED_OUT",
	StatusAborted:       "ABORTED",
	StatusMergerFailure: "MERGER_FAILURE",
	StatusError:         "ERROR",
}

func (s BuildStatus) String() string {
	if s == StatusUnset {
		return ""
	}
	if name, ok := buildStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("build_status(%d)", int(s))
}

// MarshalJSON emits the wire classification string, or null for StatusUnset.
func (s BuildStatus) MarshalJSON() ([]byte, error) {
	if s == StatusUnset {
		return []byte("null"), nil
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts null or a classification string.
func (s *BuildStatus) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = StatusUnset
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for status, n := range buildStatusNames {
		if n == name {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown build status %q", name)
}

// BuildResult is the completion document sent back to the scheduler.
type BuildResult struct {
	Status BuildStatus    `json:"result"`
	Data   map[string]any `json:"data"`
	Error  string         `json:"error,omitempty"`
}
