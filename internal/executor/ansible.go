package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/gantry/internal/jobdir"
)

// zuulVarName is reserved for the executor-supplied parameter map; jobs may
// not define it themselves.
const zuulVarName = "zuul"

// writeAnsibleFiles generates inventory, known_hosts and the secrets vars
// file for a build.
func (b *Build) writeAnsibleFiles() error {
	if err := b.writeInventory(); err != nil {
		return err
	}
	if err := b.writeKnownHosts(); err != nil {
		return err
	}
	return b.writeSecrets()
}

func (b *Build) writeInventory() error {
	if _, ok := b.args.Vars[zuulVarName]; ok {
		return Fatalf("job variables may not define %q", zuulVarName)
	}
	if _, ok := b.args.Secrets[zuulVarName]; ok {
		return Fatalf("job secrets may not define %q", zuulVarName)
	}

	hosts := make(map[string]any, len(b.args.Nodes))
	for _, node := range b.args.Nodes {
		username := node.Username
		if username == "" {
			username = b.server.defaultUsername
		}
		hostVars := map[string]any{
			"ansible_host": node.InterfaceIP,
			"ansible_user": username,
			"nodepool": map[string]any{
				"az":       node.AZ,
				"provider": node.Provider,
				"region":   node.Region,
			},
		}
		if node.ConnectionPort != 0 && node.ConnectionPort != 22 {
			hostVars["ansible_port"] = node.ConnectionPort
		}
		hosts[node.Name] = hostVars
	}

	vars := make(map[string]any, len(b.args.Vars)+1)
	for k, v := range b.args.Vars {
		vars[k] = v
	}
	vars[zuulVarName] = b.zuulParams()

	inventory := map[string]any{
		"all": map[string]any{
			"hosts": hosts,
			"vars":  vars,
		},
	}
	for _, group := range b.args.Groups {
		members := make(map[string]any, len(group.Nodes))
		for _, name := range group.Nodes {
			members[name] = nil
		}
		inventory[group.Name] = map[string]any{"hosts": members}
	}

	data, err := yaml.Marshal(inventory)
	if err != nil {
		return fmt.Errorf("marshal inventory: %w", err)
	}
	if err := os.WriteFile(b.jobDir.InventoryFile, data, 0o644); err != nil {
		return fmt.Errorf("write inventory: %w", err)
	}
	return nil
}

// zuulParams is the scheduler parameter map extended with executor-side
// paths so playbooks can find their workspace.
func (b *Build) zuulParams() map[string]any {
	params := make(map[string]any, len(b.args.Zuul)+1)
	for k, v := range b.args.Zuul {
		params[k] = v
	}
	params["executor"] = map[string]any{
		"hostname":         b.server.hostname,
		"src_root":         b.jobDir.SrcRoot,
		"log_root":         b.jobDir.LogRoot,
		"result_data_file": b.jobDir.ResultDataFile,
	}
	return params
}

func (b *Build) writeKnownHosts() error {
	var buf strings.Builder
	for _, node := range b.args.Nodes {
		for _, key := range node.HostKeys {
			fmt.Fprintf(&buf, "%s\n", key)
		}
	}
	if err := os.WriteFile(b.jobDir.KnownHostsFile, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("write known_hosts: %w", err)
	}
	return nil
}

func (b *Build) writeSecrets() error {
	if len(b.args.Secrets) == 0 {
		return nil
	}
	data, err := yaml.Marshal(b.args.Secrets)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}
	if err := os.WriteFile(b.jobDir.SecretsFile, data, 0o600); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}
	b.jobDir.HasSecrets = true
	return nil
}

// writeAnsibleConfig renders the per-playbook ansible.cfg. Untrusted
// playbooks get their action and lookup plugins redirected to the vetted
// set and their task arguments echoed to the log.
func (b *Build) writeAnsibleConfig(p *jobdir.Playbook) error {
	if p.Path == "" {
		return Fatalf("playbook %s has no resolved path", p.CanonicalName)
	}

	var buf strings.Builder
	buf.WriteString("[defaults]\n")
	fmt.Fprintf(&buf, "inventory = %s\n", b.jobDir.InventoryFile)
	fmt.Fprintf(&buf, "local_tmp = %s/.ansible/local_tmp\n", b.jobDir.Root)
	buf.WriteString("remote_tmp = /tmp/.ansible-${USER}\n")
	buf.WriteString("retry_files_enabled = False\n")
	buf.WriteString("gathering = explicit\n")
	buf.WriteString("stdout_callback = zuul_stream\n")
	if len(p.RolesPath) > 0 {
		fmt.Fprintf(&buf, "roles_path = %s\n", strings.Join(p.RolesPath, ":"))
	}
	if !p.Trusted {
		fmt.Fprintf(&buf, "action_plugins = %s\n", filepath.Join(b.server.ansiblePluginDir, "action"))
		fmt.Fprintf(&buf, "lookup_plugins = %s\n", filepath.Join(b.server.ansiblePluginDir, "lookup"))
		buf.WriteString("display_args_to_stdout = True\n")
	}
	buf.WriteString("\n[ssh_connection]\n")
	fmt.Fprintf(&buf, "control_path_dir = %s/.ansible/cp\n", b.jobDir.Root)
	fmt.Fprintf(&buf, "ssh_args = -o ControlMaster=auto -o ControlPersist=60s -o UserKnownHostsFile=%s\n",
		b.jobDir.KnownHostsFile)
	buf.WriteString("pipelining = True\n")

	if err := os.WriteFile(p.AnsibleConfig, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("write ansible.cfg: %w", err)
	}
	return nil
}
