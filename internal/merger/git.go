package merger

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Git is a Merger backed by the git command line. Mirrors live under
// cacheRoot keyed by connection and project; working clones live under root
// keyed by canonical hostname and project name, matching the layout job
// playbooks expect under work/src.
type Git struct {
	root      string
	cacheRoot string // empty when this merger owns the mirror cache itself
	sources   Sources
	remotes   map[string]string // connection name -> base URL
	userName  string
	userEmail string
	logger    *slog.Logger
}

var _ Merger = (*Git)(nil)

// GitOptions configures a git-CLI merger.
type GitOptions struct {
	Root      string
	CacheRoot string
	Sources   Sources
	Remotes   map[string]string
	UserName  string
	UserEmail string
}

// NewGit creates a git-CLI merger.
func NewGit(opts GitOptions, logger *slog.Logger) (*Git, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("merger root is empty")
	}
	if opts.Sources == nil {
		return nil, fmt.Errorf("merger requires a source registry")
	}
	return &Git{
		root:      opts.Root,
		cacheRoot: opts.CacheRoot,
		sources:   opts.Sources,
		remotes:   opts.Remotes,
		userName:  opts.UserName,
		userEmail: opts.UserEmail,
		logger:    logger,
	}, nil
}

// GitFactory returns a Factory whose mergers share the mirror cache from
// opts while keeping their working clones under the caller's root.
func GitFactory(opts GitOptions) Factory {
	return func(root string, logger *slog.Logger) (Merger, error) {
		o := opts
		o.Root = root
		if o.CacheRoot == "" {
			o.CacheRoot = opts.Root
		}
		return NewGit(o, logger)
	}
}

func (g *Git) mirrorRoot() string {
	if g.cacheRoot != "" {
		return g.cacheRoot
	}
	return g.root
}

func (g *Git) mirrorPath(connection, project string) string {
	return filepath.Join(g.mirrorRoot(), connection, project+".git")
}

func (g *Git) remoteURL(connection, project string) (string, error) {
	base, ok := g.remotes[connection]
	if !ok {
		return "", fmt.Errorf("no remote configured for connection %q", connection)
	}
	return strings.TrimRight(base, "/") + "/" + project, nil
}

func (g *Git) project(connection, name string) (Project, error) {
	source, err := g.sources.GetSource(connection)
	if err != nil {
		return Project{}, err
	}
	return source.GetProject(name)
}

// UpdateRepo clones or fetches the mirror for connection/project.
func (g *Git) UpdateRepo(connection, project string) error {
	mirror := g.mirrorPath(connection, project)
	if _, err := os.Stat(mirror); os.IsNotExist(err) {
		url, err := g.remoteURL(connection, project)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(mirror), 0o755); err != nil {
			return fmt.Errorf("create mirror parent: %w", err)
		}
		if _, err := runGit("", "clone", "--mirror", url, mirror); err != nil {
			return fmt.Errorf("mirror %s/%s: %w", connection, project, err)
		}
		return nil
	}
	if _, err := runGit(mirror, "fetch", "--prune", "origin"); err != nil {
		return fmt.Errorf("fetch %s/%s: %w", connection, project, err)
	}
	return nil
}

// GetRepo ensures a working clone under root and returns a handle to it.
func (g *Git) GetRepo(connection, project string) (Repo, error) {
	p, err := g.project(connection, project)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(g.root, p.CanonicalHostname, p.Name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		mirror := g.mirrorPath(connection, project)
		if _, err := os.Stat(mirror); os.IsNotExist(err) {
			if err := g.UpdateRepo(connection, project); err != nil {
				return nil, err
			}
		}
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return nil, fmt.Errorf("create clone parent: %w", err)
		}
		if _, err := runGit("", "clone", mirror, dir); err != nil {
			return nil, fmt.Errorf("clone %s/%s: %w", connection, project, err)
		}
		if g.userName != "" {
			if _, err := runGit(dir, "config", "user.name", g.userName); err != nil {
				return nil, err
			}
		}
		if g.userEmail != "" {
			if _, err := runGit(dir, "config", "user.email", g.userEmail); err != nil {
				return nil, err
			}
		}
	}
	return &gitRepo{dir: dir}, nil
}

// CheckoutBranch fetches and checks out the tip of branch in the working
// clone for connection/project.
func (g *Git) CheckoutBranch(connection, project, branch string) error {
	repo, err := g.GetRepo(connection, project)
	if err != nil {
		return err
	}
	gr := repo.(*gitRepo)
	if _, err := runGit(gr.dir, "fetch", "origin"); err != nil {
		return err
	}
	return gr.CheckoutLocalBranch(branch)
}

// GetFiles reads files and directory trees from the mirror at branch tip.
func (g *Git) GetFiles(connection, project, branch string, files, dirs []string) (map[string]string, error) {
	mirror := g.mirrorPath(connection, project)
	out := make(map[string]string)

	paths := append([]string(nil), files...)
	for _, dir := range dirs {
		listing, err := runGit(mirror, "ls-tree", "-r", "--name-only", branch, "--", dir)
		if err != nil {
			// A missing directory yields no files, not an error.
			continue
		}
		for _, name := range strings.Split(strings.TrimSpace(listing), "\n") {
			if name != "" {
				paths = append(paths, name)
			}
		}
	}

	for _, path := range paths {
		content, err := runGit(mirror, "show", branch+":"+path)
		if err != nil {
			continue
		}
		out[path] = content
	}
	return out, nil
}

// MergeChanges merges each item in order onto its target branch. A merge
// conflict aborts the attempt and returns (nil, nil).
func (g *Git) MergeChanges(items []MergeItem, files, dirs []string, repoState map[string]any) (*MergeResult, error) {
	result := &MergeResult{
		Files:     make(map[string]string),
		RepoState: make(map[string]any),
		Recent:    make(map[RefKey]string),
	}
	var lastDir string
	for _, item := range items {
		repo, err := g.GetRepo(item.Connection, item.Project)
		if err != nil {
			return nil, err
		}
		gr := repo.(*gitRepo)
		lastDir = gr.dir

		if _, err := runGit(gr.dir, "fetch", "origin"); err != nil {
			return nil, err
		}
		if err := gr.CheckoutLocalBranch(item.Branch); err != nil {
			return nil, err
		}
		if item.Refspec != "" {
			if _, err := runGit(gr.dir, "fetch", "origin", item.Refspec); err != nil {
				return nil, err
			}
			if _, err := runGit(gr.dir, "merge", "--no-edit", "FETCH_HEAD"); err != nil {
				if g.logger != nil {
					g.logger.Info("merge conflict", "connection", item.Connection,
						"project", item.Project, "branch", item.Branch)
				}
				_, _ = runGit(gr.dir, "merge", "--abort")
				return nil, nil
			}
		}

		sha, err := runGit(gr.dir, "rev-parse", "HEAD")
		if err != nil {
			return nil, err
		}
		sha = strings.TrimSpace(sha)
		result.Commit = sha
		result.Recent[RefKey{item.Connection, item.Project, item.Branch}] = sha

		stateKey := item.Connection + "/" + item.Project
		branches, _ := result.RepoState[stateKey].(map[string]any)
		if branches == nil {
			branches = make(map[string]any)
		}
		branches["refs/heads/"+item.Branch] = sha
		result.RepoState[stateKey] = branches
	}

	if lastDir != "" {
		for _, path := range files {
			content, err := runGit(lastDir, "show", "HEAD:"+path)
			if err != nil {
				continue
			}
			result.Files[path] = content
		}
	}
	return result, nil
}

type gitRepo struct {
	dir string
}

var _ Repo = (*gitRepo)(nil)

func (r *gitRepo) GetBranches() ([]string, error) {
	// Remote branches count: the clone is fresh and unmodified, so the
	// mirror's branches are what jobs can check out.
	out, err := runGit(r.dir, "for-each-ref", "--format=%(refname:short)", "refs/remotes/origin")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		name := strings.TrimPrefix(strings.TrimSpace(line), "origin/")
		if name != "" && name != "HEAD" {
			branches = append(branches, name)
		}
	}
	return branches, nil
}

func (r *gitRepo) CheckoutLocalBranch(branch string) error {
	if _, err := runGit(r.dir, "checkout", branch); err != nil {
		// Fall back to creating a local branch from the remote tip.
		if _, err2 := runGit(r.dir, "checkout", "-b", branch, "origin/"+branch); err2 != nil {
			return err
		}
	}
	return nil
}

func (r *gitRepo) DeleteRemote(name string) error {
	_, err := runGit(r.dir, "remote", "remove", name)
	return err
}

func (r *gitRepo) SetRef(ref, sha string) error {
	_, err := runGit(r.dir, "update-ref", ref, sha)
	return err
}

// runGit executes git with args, returning stdout. Errors include the
// combined output for diagnosis.
func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err,
			strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
