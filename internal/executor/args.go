package executor

import (
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/gantry/internal/merger"
)

// ExecuteArgs is the argument document of an "executor:execute" job.
type ExecuteArgs struct {
	// Zuul carries the scheduler's free-form parameter map. The executor
	// reads "branch" from it and passes the rest through to the inventory.
	Zuul map[string]any `json:"zuul"`

	// Projects lists every repository to check out into the workspace.
	Projects []ProjectArgs `json:"projects"`
	// Items is the change-under-test list, in dependency order.
	Items []merger.MergeItem `json:"items"`

	PrePlaybooks  []PlaybookArgs `json:"pre_playbooks"`
	Playbooks     []PlaybookArgs `json:"playbooks"`
	PostPlaybooks []PlaybookArgs `json:"post_playbooks"`

	Nodes  []NodeArgs     `json:"nodes"`
	Groups []GroupArgs    `json:"groups"`
	Vars   map[string]any `json:"vars"`
	// Secrets are written to a separate 0600 vars file, never logged.
	Secrets map[string]any `json:"secrets"`

	// Timeout bounds each playbook run, in seconds. Zero means unlimited.
	Timeout int `json:"timeout"`

	// Branch is the job-level checkout branch, second in the fallback
	// chain after a project's override.
	Branch string `json:"branch,omitempty"`

	// RepoState pins the starting refs for the speculative merge.
	RepoState map[string]any `json:"repo_state,omitempty"`
}

// ZuulBranch returns the branch recorded in the scheduler parameter map.
func (a *ExecuteArgs) ZuulBranch() string {
	if a.Zuul == nil {
		return ""
	}
	branch, _ := a.Zuul["branch"].(string)
	return branch
}

// ProjectArgs is one repository checkout instruction.
type ProjectArgs struct {
	Connection     string `json:"connection"`
	Name           string `json:"name"`
	OverrideBranch string `json:"override_branch,omitempty"`
}

// PlaybookArgs describes one playbook to stage and run.
type PlaybookArgs struct {
	Connection string     `json:"connection"`
	Project    string     `json:"project"`
	Path       string     `json:"path"`
	Trusted    bool       `json:"trusted"`
	Branch     string     `json:"branch"`
	Roles      []RoleArgs `json:"roles"`
}

// RoleArgs describes one role reference of a playbook.
type RoleArgs struct {
	// Type selects the resolution strategy. Only "zuul" (a managed role
	// checked out from a connection/project) is currently defined.
	Type       string `json:"type"`
	Connection string `json:"connection"`
	Project    string `json:"project"`
	// TargetName is the name the role is linked as inside its slot.
	TargetName string `json:"target_name"`
}

// NodeArgs is one target host of the inventory.
type NodeArgs struct {
	Name           string   `json:"name"`
	InterfaceIP    string   `json:"interface_ip"`
	ConnectionPort int      `json:"connection_port,omitempty"`
	Username       string   `json:"username,omitempty"`
	HostKeys       []string `json:"host_keys"`
	Provider       string   `json:"provider,omitempty"`
	Region         string   `json:"region,omitempty"`
	AZ             string   `json:"az,omitempty"`
}

// GroupArgs names an inventory group and its member nodes.
type GroupArgs struct {
	Name  string   `json:"name"`
	Nodes []string `json:"nodes"`
}

// StopArgs is the argument document of an "executor:stop" job.
type StopArgs struct {
	UUID string `json:"uuid"`
}

// CatArgs is the argument document of a "merger:cat" job.
type CatArgs struct {
	Connection string   `json:"connection"`
	Project    string   `json:"project"`
	Branch     string   `json:"branch"`
	Files      []string `json:"files"`
	Dirs       []string `json:"dirs,omitempty"`
}

// CatResult is the completion document of a "merger:cat" job.
type CatResult struct {
	Updated bool              `json:"updated"`
	Files   map[string]string `json:"files"`
	ZuulURL string            `json:"zuul_url"`
}

// MergeArgs is the argument document of a "merger:merge" job.
type MergeArgs struct {
	Items     []merger.MergeItem `json:"items"`
	Files     []string           `json:"files,omitempty"`
	Dirs      []string           `json:"dirs,omitempty"`
	RepoState map[string]any     `json:"repo_state,omitempty"`
}

// MergeJobResult is the completion document of a "merger:merge" job. On a
// merge conflict Merged is false and every other field is empty.
type MergeJobResult struct {
	Merged    bool              `json:"merged"`
	Commit    string            `json:"commit,omitempty"`
	Files     map[string]string `json:"files,omitempty"`
	RepoState map[string]any    `json:"repo_state,omitempty"`
	ZuulURL   string            `json:"zuul_url"`
}

func decodeArgs(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode job arguments: %w", err)
	}
	return nil
}
