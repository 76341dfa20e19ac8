// Package merger defines the narrow interface through which the executor
// consumes the git merge/checkout engine and the connection/source registry.
// The executor never touches git state directly; everything goes through a
// Merger so tests can substitute fakes and the engine can live out of
// process later.
package merger

import "log/slog"

// Project is the registry's view of a repository reachable through a named
// connection.
type Project struct {
	Name              string
	ConnectionName    string
	CanonicalName     string // stable, connection-independent, e.g. "git.example.com/acme/widgets"
	CanonicalHostname string
	DefaultBranch     string
}

// Source resolves project names for one connection.
type Source interface {
	GetProject(name string) (Project, error)
}

// Sources is the connection/source registry.
type Sources interface {
	GetSource(connection string) (Source, error)
}

// MergeItem is one change in a speculative merge, in dependency order.
type MergeItem struct {
	Connection string `json:"connection"`
	Project    string `json:"project"`
	Branch     string `json:"branch"`
	Refspec    string `json:"refspec,omitempty"`
	Ref        string `json:"ref,omitempty"`
}

// RefKey identifies a branch of a project on a connection.
type RefKey struct {
	Connection string
	Project    string
	Branch     string
}

// MergeResult is the outcome of a successful speculative merge. A nil
// *MergeResult with a nil error from MergeChanges means a merge conflict.
type MergeResult struct {
	Commit    string
	Files     map[string]string
	RepoState map[string]any
	// Recent maps each touched branch to the commit the merge produced
	// there, so callers can pin refs in job checkouts.
	Recent map[RefKey]string
}

// Merger maintains a set of git repositories under a root directory.
type Merger interface {
	// UpdateRepo refreshes the cached mirror of a repository from its
	// upstream.
	UpdateRepo(connection, project string) error
	// GetRepo ensures a working clone exists under the merger's root and
	// returns a handle to it.
	GetRepo(connection, project string) (Repo, error)
	// GetFiles reads file and directory contents at the tip of branch.
	GetFiles(connection, project, branch string, files, dirs []string) (map[string]string, error)
	// MergeChanges performs a speculative merge of items. files and dirs
	// select content to return from the merge result; repoState pins the
	// starting refs. Returns (nil, nil) on a merge conflict.
	MergeChanges(items []MergeItem, files, dirs []string, repoState map[string]any) (*MergeResult, error)
	// CheckoutBranch checks out the tip of branch in the working clone.
	CheckoutBranch(connection, project, branch string) error
}

// Repo is a working clone of a single repository.
type Repo interface {
	GetBranches() ([]string, error)
	CheckoutLocalBranch(branch string) error
	DeleteRemote(name string) error
	SetRef(ref, sha string) error
}

// Factory creates a Merger whose working clones live under root. The
// executor uses one long-lived merger for the shared mirror cache and a
// short-lived one per job workspace.
type Factory func(root string, logger *slog.Logger) (Merger, error)
