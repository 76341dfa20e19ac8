package jobdir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewCreatesTree(t *testing.T) {
	root := t.TempDir()
	d, err := New(root, false, "build-1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	info, err := os.Stat(d.Root)
	if err != nil {
		t.Fatalf("workspace root: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("root permissions = %o, want 700", perm)
	}

	sshInfo, err := os.Stat(filepath.Join(d.WorkRoot, ".ssh"))
	if err != nil {
		t.Fatalf("ssh dir: %v", err)
	}
	if perm := sshInfo.Mode().Perm(); perm != 0o700 {
		t.Errorf("ssh dir permissions = %o, want 700", perm)
	}

	for _, dir := range []string{d.SrcRoot, d.LogRoot, d.AnsibleRoot, d.TrustedRoot} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("missing subtree %s: %v", dir, err)
		}
	}
	if _, err := os.Stat(d.ResultDataFile); err != nil {
		t.Errorf("result data file not pre-created: %v", err)
	}
}

func TestNewRejectsEmptyUUID(t *testing.T) {
	if _, err := New(t.TempDir(), false, ""); err == nil {
		t.Error("expected error for empty build uuid")
	}
}

func TestPlaybookSlotsAreNumbered(t *testing.T) {
	d, err := New(t.TempDir(), false, "build-1")
	if err != nil {
		t.Fatal(err)
	}

	pre0, _ := d.AddPrePlaybook()
	pre1, _ := d.AddPrePlaybook()
	main0, _ := d.AddPlaybook()
	post0, _ := d.AddPostPlaybook()

	if filepath.Base(pre0.Root) != "pre_playbook_0" || filepath.Base(pre1.Root) != "pre_playbook_1" {
		t.Errorf("pre slots misnumbered: %s, %s", pre0.Root, pre1.Root)
	}
	if filepath.Base(main0.Root) != "playbook_0" {
		t.Errorf("main slot misnumbered: %s", main0.Root)
	}
	if filepath.Base(post0.Root) != "post_playbook_0" {
		t.Errorf("post slot misnumbered: %s", post0.Root)
	}

	role0, err := main0.AddRole()
	if err != nil {
		t.Fatal(err)
	}
	role1, _ := main0.AddRole()
	if filepath.Base(role0) != "role_0" || filepath.Base(role1) != "role_1" {
		t.Errorf("role slots misnumbered: %s, %s", role0, role1)
	}
}

func TestTrustedProjectIndex(t *testing.T) {
	d, err := New(t.TempDir(), false, "build-1")
	if err != nil {
		t.Fatal(err)
	}

	if d.TrustedProject("git.example.com/acme/jobs", "master") != "" {
		t.Error("unallocated slot reported as present")
	}

	slot, err := d.AddTrustedProject("git.example.com/acme/jobs", "master")
	if err != nil {
		t.Fatal(err)
	}
	if d.TrustedProject("git.example.com/acme/jobs", "master") != slot {
		t.Error("slot lookup by (name, branch) failed")
	}
	if d.TrustedProject("git.example.com/acme/jobs", "stable") != "" {
		t.Error("different branch resolved to the same slot")
	}
}

func TestCleanupHonorsKeep(t *testing.T) {
	root := t.TempDir()

	d, err := New(root, false, "ephemeral")
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(d.Root); !os.IsNotExist(err) {
		t.Error("workspace survived cleanup without keep")
	}

	kept, err := New(root, true, "durable")
	if err != nil {
		t.Fatal(err)
	}
	if err := kept.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(kept.Root); err != nil {
		t.Error("workspace removed despite keep flag")
	}
}
