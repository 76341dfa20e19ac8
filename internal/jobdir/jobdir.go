// Package jobdir builds and tears down the per-build workspace tree:
//
//	<root>/<build-uuid>/
//	  ansible/
//	    inventory.yaml
//	    secrets.yaml
//	    pre_playbook_0/  playbook_0/  post_playbook_0/   (numbered slots)
//	      ansible.cfg
//	      role_0/                                        (numbered role slots)
//	  trusted/
//	    project_0/<canonical-hostname>/<project>          (one per name+branch)
//	  work/
//	    .ssh/known_hosts
//	    src/<canonical-hostname>/<project>
//	    logs/job-output.txt
//	    results.json
//
// Trusted checkouts and the work tree are kept apart so content from the
// change under test can never shadow operator-controlled playbooks.
package jobdir

import (
	"fmt"
	"os"
	"path/filepath"
)

// Playbook is one allocated playbook slot and its resolution state. Path
// stays empty until the resolver finds a playbook file for it.
type Playbook struct {
	Root          string
	Trusted       bool
	Branch        string
	CanonicalName string // canonical project name plus playbook path
	Path          string
	Roles         []string // allocated role slot directories
	RolesPath     []string // role search path handed to the automation engine
	AnsibleConfig string
}

// AddRole allocates the next numbered role slot under the playbook root.
func (p *Playbook) AddRole() (string, error) {
	root := filepath.Join(p.Root, fmt.Sprintf("role_%d", len(p.Roles)))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create role slot: %w", err)
	}
	p.Roles = append(p.Roles, root)
	return root, nil
}

type trustedKey struct {
	canonicalName string
	branch        string
}

// JobDir is one build's workspace.
type JobDir struct {
	Root        string
	WorkRoot    string
	SrcRoot     string
	LogRoot     string
	AnsibleRoot string
	TrustedRoot string

	KnownHostsFile string
	InventoryFile  string
	SecretsFile    string
	ResultDataFile string
	JobOutputFile  string
	HasSecrets     bool

	PrePlaybooks  []*Playbook
	Playbooks     []*Playbook // main candidates, in submission order
	PostPlaybooks []*Playbook
	Playbook      *Playbook // the selected main candidate

	keep            bool
	trustedProjects []string
	trustedIndex    map[trustedKey]string
}

// New creates the workspace tree for buildUUID under root. The workspace
// root and the ssh directory are 0700; everything else is default. keep
// leaves the tree on disk at Cleanup for operator inspection.
func New(root string, keep bool, buildUUID string) (*JobDir, error) {
	if root == "" {
		root = os.TempDir()
	}
	if buildUUID == "" {
		return nil, fmt.Errorf("build uuid is empty")
	}

	d := &JobDir{
		Root:         filepath.Join(root, buildUUID),
		keep:         keep,
		trustedIndex: make(map[trustedKey]string),
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create jobdir root: %w", err)
	}
	if err := os.Mkdir(d.Root, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	d.WorkRoot = filepath.Join(d.Root, "work")
	d.SrcRoot = filepath.Join(d.WorkRoot, "src")
	d.LogRoot = filepath.Join(d.WorkRoot, "logs")
	d.AnsibleRoot = filepath.Join(d.Root, "ansible")
	d.TrustedRoot = filepath.Join(d.Root, "trusted")
	for _, dir := range []string{d.WorkRoot, d.SrcRoot, d.LogRoot, d.AnsibleRoot, d.TrustedRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace subtree: %w", err)
		}
	}

	sshDir := filepath.Join(d.WorkRoot, ".ssh")
	if err := os.Mkdir(sshDir, 0o700); err != nil {
		return nil, fmt.Errorf("create ssh dir: %w", err)
	}

	d.KnownHostsFile = filepath.Join(sshDir, "known_hosts")
	d.InventoryFile = filepath.Join(d.AnsibleRoot, "inventory.yaml")
	d.SecretsFile = filepath.Join(d.AnsibleRoot, "secrets.yaml")
	d.ResultDataFile = filepath.Join(d.WorkRoot, "results.json")
	d.JobOutputFile = filepath.Join(d.LogRoot, "job-output.txt")

	if err := os.WriteFile(d.ResultDataFile, nil, 0o644); err != nil {
		return nil, fmt.Errorf("create result data file: %w", err)
	}
	return d, nil
}

// AddTrustedProject allocates a dedicated checkout slot for a (canonical
// project name, branch) pair. Separate slots per branch let different
// playbooks use different branches of the same project.
func (d *JobDir) AddTrustedProject(canonicalName, branch string) (string, error) {
	root := filepath.Join(d.TrustedRoot, fmt.Sprintf("project_%d", len(d.trustedProjects)))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create trusted project slot: %w", err)
	}
	d.trustedProjects = append(d.trustedProjects, root)
	d.trustedIndex[trustedKey{canonicalName, branch}] = root
	return root, nil
}

// TrustedProject returns the slot for a (canonical name, branch) pair, or ""
// if none was allocated yet.
func (d *JobDir) TrustedProject(canonicalName, branch string) string {
	return d.trustedIndex[trustedKey{canonicalName, branch}]
}

// AddPrePlaybook allocates the next pre-phase playbook slot.
func (d *JobDir) AddPrePlaybook() (*Playbook, error) {
	p, err := d.addPlaybook(fmt.Sprintf("pre_playbook_%d", len(d.PrePlaybooks)))
	if err != nil {
		return nil, err
	}
	d.PrePlaybooks = append(d.PrePlaybooks, p)
	return p, nil
}

// AddPlaybook allocates the next main-candidate playbook slot.
func (d *JobDir) AddPlaybook() (*Playbook, error) {
	p, err := d.addPlaybook(fmt.Sprintf("playbook_%d", len(d.Playbooks)))
	if err != nil {
		return nil, err
	}
	d.Playbooks = append(d.Playbooks, p)
	return p, nil
}

// AddPostPlaybook allocates the next post-phase playbook slot.
func (d *JobDir) AddPostPlaybook() (*Playbook, error) {
	p, err := d.addPlaybook(fmt.Sprintf("post_playbook_%d", len(d.PostPlaybooks)))
	if err != nil {
		return nil, err
	}
	d.PostPlaybooks = append(d.PostPlaybooks, p)
	return p, nil
}

func (d *JobDir) addPlaybook(name string) (*Playbook, error) {
	root := filepath.Join(d.AnsibleRoot, name)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create playbook slot: %w", err)
	}
	return &Playbook{
		Root:          root,
		AnsibleConfig: filepath.Join(root, "ansible.cfg"),
	}, nil
}

// Cleanup removes the workspace unless the keep flag was set.
func (d *JobDir) Cleanup() error {
	if d.keep {
		return nil
	}
	return os.RemoveAll(d.Root)
}
