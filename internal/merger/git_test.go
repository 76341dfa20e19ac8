package merger

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/mattjoyce/gantry/internal/log"
)

func gitOrSkip(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// newUpstream creates a plain upstream repository with one commit on master
// and returns its parent directory, which serves as the connection base URL.
func newUpstream(t *testing.T, project string, files map[string]string) string {
	t.Helper()
	base := t.TempDir()
	dir := filepath.Join(base, project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	mustGit(t, dir, "init", "-b", "master")
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustGit(t, dir, "add", ".")
	mustGit(t, dir, "-c", "user.name=test", "-c", "user.email=test@example.com",
		"commit", "-m", "initial")
	return base
}

func mustGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := runGit(dir, args...)
	if err != nil {
		t.Fatalf("git %v: %v", args, err)
	}
	return out
}

func newTestGit(t *testing.T, baseURL string) *Git {
	t.Helper()
	g, err := NewGit(GitOptions{
		Root: t.TempDir(),
		Sources: StaticSources{
			"gerrit": {Connection: "gerrit", Hostname: "git.example.com", DefaultBranch: "master"},
		},
		Remotes:   map[string]string{"gerrit": baseURL},
		UserName:  "gantry",
		UserEmail: "gantry@example.com",
	}, log.WithComponent("merger"))
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestUpdateAndGetRepo(t *testing.T) {
	gitOrSkip(t)
	base := newUpstream(t, "acme/widgets", map[string]string{"README": "widgets\n"})
	g := newTestGit(t, base)

	if err := g.UpdateRepo("gerrit", "acme/widgets"); err != nil {
		t.Fatalf("UpdateRepo: %v", err)
	}
	// A second update fetches instead of cloning.
	if err := g.UpdateRepo("gerrit", "acme/widgets"); err != nil {
		t.Fatalf("second UpdateRepo: %v", err)
	}

	repo, err := g.GetRepo("gerrit", "acme/widgets")
	if err != nil {
		t.Fatalf("GetRepo: %v", err)
	}
	branches, err := repo.GetBranches()
	if err != nil {
		t.Fatalf("GetBranches: %v", err)
	}
	if len(branches) != 1 || branches[0] != "master" {
		t.Errorf("branches = %v, want [master]", branches)
	}

	// The working clone lands under <root>/<canonical-hostname>/<project>.
	readme := filepath.Join(g.root, "git.example.com", "acme/widgets", "README")
	if _, err := os.Stat(readme); err != nil {
		t.Errorf("working clone missing README: %v", err)
	}
}

func TestGetFiles(t *testing.T) {
	gitOrSkip(t)
	base := newUpstream(t, "acme/widgets", map[string]string{
		"zuul.yaml":          "- job: {}\n",
		"playbooks/run.yaml": "- hosts: all\n",
	})
	g := newTestGit(t, base)
	if err := g.UpdateRepo("gerrit", "acme/widgets"); err != nil {
		t.Fatal(err)
	}

	files, err := g.GetFiles("gerrit", "acme/widgets", "master",
		[]string{"zuul.yaml", "missing.yaml"}, []string{"playbooks"})
	if err != nil {
		t.Fatalf("GetFiles: %v", err)
	}
	if files["zuul.yaml"] != "- job: {}\n" {
		t.Errorf("zuul.yaml = %q", files["zuul.yaml"])
	}
	if files["playbooks/run.yaml"] != "- hosts: all\n" {
		t.Errorf("playbooks/run.yaml = %q", files["playbooks/run.yaml"])
	}
	if _, ok := files["missing.yaml"]; ok {
		t.Error("missing file reported as present")
	}
}

func TestCheckoutBranchAndDeleteRemote(t *testing.T) {
	gitOrSkip(t)
	base := newUpstream(t, "acme/widgets", map[string]string{"README": "widgets\n"})
	g := newTestGit(t, base)

	if err := g.CheckoutBranch("gerrit", "acme/widgets", "master"); err != nil {
		t.Fatalf("CheckoutBranch: %v", err)
	}
	repo, err := g.GetRepo("gerrit", "acme/widgets")
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteRemote("origin"); err != nil {
		t.Fatalf("DeleteRemote: %v", err)
	}
	dir := filepath.Join(g.root, "git.example.com", "acme/widgets")
	out := mustGit(t, dir, "remote")
	if out != "" {
		t.Errorf("remotes remain after delete: %q", out)
	}
}

func TestMergeChangesFastForward(t *testing.T) {
	gitOrSkip(t)
	base := newUpstream(t, "acme/widgets", map[string]string{"README": "widgets\n"})
	g := newTestGit(t, base)

	// Push a change ref onto the upstream the way a code-review system
	// would.
	upstream := filepath.Join(base, "acme/widgets")
	if err := os.WriteFile(filepath.Join(upstream, "feature.txt"), []byte("new\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustGit(t, upstream, "checkout", "-b", "change")
	mustGit(t, upstream, "add", ".")
	mustGit(t, upstream, "-c", "user.name=test", "-c", "user.email=test@example.com",
		"commit", "-m", "feature")
	mustGit(t, upstream, "update-ref", "refs/changes/1/1/1", "HEAD")
	mustGit(t, upstream, "checkout", "master")

	result, err := g.MergeChanges([]MergeItem{{
		Connection: "gerrit",
		Project:    "acme/widgets",
		Branch:     "master",
		Refspec:    "refs/changes/1/1/1",
	}}, []string{"feature.txt"}, nil, nil)
	if err != nil {
		t.Fatalf("MergeChanges: %v", err)
	}
	if result == nil {
		t.Fatal("unexpected merge conflict")
	}
	if result.Commit == "" {
		t.Error("merge result has no commit")
	}
	if result.Files["feature.txt"] != "new\n" {
		t.Errorf("merged file content = %q", result.Files["feature.txt"])
	}
	key := RefKey{Connection: "gerrit", Project: "acme/widgets", Branch: "master"}
	if result.Recent[key] != result.Commit {
		t.Error("recent map does not pin the merged branch")
	}
}
