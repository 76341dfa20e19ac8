package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/gantry/internal/jobdir"
	"github.com/mattjoyce/gantry/internal/merger"
)

// pluginDirSuffix marks directories the automation engine loads extension
// code from. Untrusted content carrying one is a trust violation.
const pluginDirSuffix = "_plugins"

// preparePlaybooks stages every pre, main-candidate and post playbook into
// the workspace. Pre and post playbooks are required; main candidates are
// tried in order and the first that resolves is selected. Errors here are
// fatal: the scheduler must not retry a build whose content cannot be
// staged.
func (b *Build) preparePlaybooks() error {
	for _, pb := range b.args.PrePlaybooks {
		slot, err := b.jobDir.AddPrePlaybook()
		if err != nil {
			return err
		}
		if err := b.preparePlaybook(slot, pb, true); err != nil {
			return err
		}
	}

	for _, pb := range b.args.Playbooks {
		slot, err := b.jobDir.AddPlaybook()
		if err != nil {
			return err
		}
		if err := b.preparePlaybook(slot, pb, false); err != nil {
			return err
		}
		if slot.Path != "" {
			b.jobDir.Playbook = slot
			break
		}
	}
	if b.jobDir.Playbook == nil {
		return Fatalf("no playbook specified in job found on disk")
	}

	for _, pb := range b.args.PostPlaybooks {
		slot, err := b.jobDir.AddPostPlaybook()
		if err != nil {
			return err
		}
		if err := b.preparePlaybook(slot, pb, true); err != nil {
			return err
		}
	}
	return nil
}

// preparePlaybook resolves one playbook request into slot. When required is
// false a missing playbook file leaves slot.Path empty so the caller can try
// the next candidate.
func (b *Build) preparePlaybook(slot *jobdir.Playbook, pb PlaybookArgs, required bool) error {
	source, err := b.server.sources.GetSource(pb.Connection)
	if err != nil {
		return Fatalf("unknown connection %q: %v", pb.Connection, err)
	}
	project, err := source.GetProject(pb.Project)
	if err != nil {
		return Fatalf("unknown project %q on connection %q: %v", pb.Project, pb.Connection, err)
	}

	slot.Trusted = pb.Trusted
	slot.Branch = pb.Branch
	slot.CanonicalName = project.CanonicalName + "/" + pb.Path

	var checkout string
	if !pb.Trusted && b.inChangeItems(pb.Connection, pb.Project) {
		// The speculative merge already produced this content under the
		// shared source tree.
		checkout = filepath.Join(b.jobDir.SrcRoot, project.CanonicalHostname, project.Name)
	} else {
		checkout, err = b.checkoutTrustedProject(project, pb.Branch)
		if err != nil {
			return err
		}
	}

	path, err := findPlaybook(filepath.Join(checkout, pb.Path), pb.Trusted)
	if err != nil {
		return err
	}
	if path == "" {
		if required {
			return Fatalf("playbook %s not found in %s", pb.Path, project.CanonicalName)
		}
		return nil
	}
	slot.Path = path

	for _, role := range pb.Roles {
		if role.Type != "zuul" {
			return Fatalf("unknown role type %q", role.Type)
		}
		if err := b.prepareZuulRole(slot, role, pb); err != nil {
			return err
		}
	}
	return b.writeAnsibleConfig(slot)
}

// inChangeItems reports whether connection/project is part of the change
// under test.
func (b *Build) inChangeItems(connection, project string) bool {
	for _, item := range b.args.Items {
		if item.Connection == connection && item.Project == project {
			return true
		}
	}
	return false
}

// checkoutTrustedProject checks out project at branch into a dedicated slot,
// reusing an existing slot for the same (canonical name, branch) pair.
func (b *Build) checkoutTrustedProject(project merger.Project, branch string) (string, error) {
	if branch == "" {
		branch = project.DefaultBranch
	}
	if root := b.jobDir.TrustedProject(project.CanonicalName, branch); root != "" {
		return filepath.Join(root, project.CanonicalHostname, project.Name), nil
	}

	root, err := b.jobDir.AddTrustedProject(project.CanonicalName, branch)
	if err != nil {
		return "", err
	}
	m, err := b.server.mergerFactory(root, b.logger)
	if err != nil {
		return "", fmt.Errorf("create workspace merger: %w", err)
	}
	if err := m.CheckoutBranch(project.ConnectionName, project.Name, branch); err != nil {
		return "", Fatalf("checkout %s@%s: %v", project.CanonicalName, branch, err)
	}
	return filepath.Join(root, project.CanonicalHostname, project.Name), nil
}

// prepareZuulRole resolves a managed role, links it into the playbook's next
// role slot, and extends the role search path.
func (b *Build) prepareZuulRole(slot *jobdir.Playbook, role RoleArgs, pb PlaybookArgs) error {
	source, err := b.server.sources.GetSource(role.Connection)
	if err != nil {
		return Fatalf("unknown role connection %q: %v", role.Connection, err)
	}
	project, err := source.GetProject(role.Project)
	if err != nil {
		return Fatalf("unknown role project %q on connection %q: %v", role.Project, role.Connection, err)
	}

	var checkout string
	if !pb.Trusted && b.inChangeItems(role.Connection, role.Project) {
		checkout = filepath.Join(b.jobDir.SrcRoot, project.CanonicalHostname, project.Name)
	} else {
		checkout, err = b.checkoutTrustedProject(project, pb.Branch)
		if err != nil {
			return err
		}
	}

	roleRoot, err := slot.AddRole()
	if err != nil {
		return err
	}
	link := filepath.Join(roleRoot, role.TargetName)
	absLink, err := filepath.Abs(link)
	if err != nil {
		return fmt.Errorf("resolve role link: %w", err)
	}
	absRoot, err := filepath.Abs(roleRoot)
	if err != nil {
		return fmt.Errorf("resolve role root: %w", err)
	}
	// A target name like "../../etc/ansible" would escape the slot.
	if !strings.HasPrefix(absLink, absRoot+string(os.PathSeparator)) {
		return Fatalf("invalid role name %q", role.TargetName)
	}
	if err := os.Symlink(checkout, absLink); err != nil {
		return fmt.Errorf("link role %s: %w", role.TargetName, err)
	}

	if isDir(filepath.Join(checkout, "tasks")) {
		// Bare role: the slot holding the symlink is the search path.
		if !pb.Trusted {
			if err := blockPluginDirs(checkout); err != nil {
				return err
			}
		}
		slot.RolesPath = append(slot.RolesPath, absRoot)
		return nil
	}
	if rolesDir := filepath.Join(checkout, "roles"); isDir(rolesDir) {
		// Role collection: the checkout's roles/ directory is the search
		// path, and each contained role is scanned individually.
		if !pb.Trusted {
			entries, err := os.ReadDir(rolesDir)
			if err != nil {
				return fmt.Errorf("read role collection: %w", err)
			}
			for _, entry := range entries {
				if !entry.IsDir() {
					continue
				}
				if err := blockPluginDirs(filepath.Join(rolesDir, entry.Name())); err != nil {
					return err
				}
			}
		}
		slot.RolesPath = append(slot.RolesPath, rolesDir)
		return nil
	}
	return Fatalf("role %s in %s has neither tasks/ nor roles/", role.TargetName, project.CanonicalName)
}

// findPlaybook looks for path.yaml then path.yml. For untrusted content the
// containing directory is scanned for plugin directories first.
func findPlaybook(path string, trusted bool) (string, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		candidate := path + ext
		if _, err := os.Stat(candidate); err == nil {
			if !trusted {
				if err := blockPluginDirs(filepath.Dir(candidate)); err != nil {
					return "", err
				}
			}
			return candidate, nil
		}
	}
	return "", nil
}

// blockPluginDirs rejects any subdirectory whose name carries the engine's
// extension suffix.
func blockPluginDirs(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasSuffix(entry.Name(), pluginDirSuffix) {
			return Fatalf("untrusted content may not supply %s directories: %s",
				pluginDirSuffix, filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
