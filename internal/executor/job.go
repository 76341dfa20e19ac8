package executor

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/gantry/internal/jobdir"
	"github.com/mattjoyce/gantry/internal/log"
	"github.com/mattjoyce/gantry/internal/merger"
	"github.com/mattjoyce/gantry/internal/reposync"
	"github.com/mattjoyce/gantry/internal/rpc"
	"github.com/mattjoyce/gantry/internal/sshagent"
	"github.com/mattjoyce/gantry/internal/wrapper"
)

const (
	// maxOutputLineBytes bounds a single logged output line.
	maxOutputLineBytes = 1024
	// syntaxBufferLines is how many leading output lines are retained for
	// the parse-error diagnostic replay.
	syntaxBufferLines = 200

	// Exit codes with defined meanings in the automation engine.
	exitCodeUnreachable = 3
	exitCodeParseError  = 4
)

// Build drives one job's full lifecycle on its own goroutine.
type Build struct {
	server *Server
	job    rpc.Job
	args   *ExecuteArgs
	uuid   string
	logger *slog.Logger

	jobDir *jobdir.JobDir
	agent  *sshagent.Agent
	merger merger.Merger // workspace merger rooted at SrcRoot

	started time.Time

	mu      sync.Mutex
	aborted bool
	pgid    int

	finalStatus BuildStatus
	finalError  string
}

func newBuild(server *Server, job rpc.Job, args *ExecuteArgs) *Build {
	return &Build{
		server:  server,
		job:     job,
		args:    args,
		uuid:    job.Unique(),
		logger:  log.WithBuild(job.Unique()),
		started: time.Now(),
	}
}

// JobName returns the main playbook's project-qualified name when known.
func (b *Build) JobName() string {
	if name, ok := b.args.Zuul["job"].(string); ok {
		return name
	}
	return ""
}

// Abort requests cancellation. If a subprocess is running its whole process
// group is killed; otherwise the next launch attempt is suppressed.
func (b *Build) Abort() {
	b.mu.Lock()
	b.aborted = true
	pgid := b.pgid
	b.mu.Unlock()

	b.logger.Info("aborting build")
	if pgid > 0 {
		if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			b.logger.Warn("failed to kill process group", "pgid", pgid, "error", err)
		}
	}
}

func (b *Build) isAborted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aborted
}

// run executes the build and reports its outcome through the job handle.
// Preparation failures become a terminal ERROR result; anything unexpected
// goes out on the exception channel for scheduler retry policy.
func (b *Build) run() {
	defer b.cleanup()

	result, err := b.execute()
	switch {
	case err == nil:
		b.complete(result)
	case IsFatal(err):
		b.logger.Error("build preparation failed", "error", err)
		b.complete(BuildResult{Status: StatusError, Error: err.Error(), Data: map[string]any{}})
	default:
		b.logger.Error("build raised an exception", "error", err)
		payload, _ := json.Marshal(map[string]string{
			"exception": err.Error(),
			"traceback": string(debug.Stack()),
		})
		if sendErr := b.job.SendWorkException(payload); sendErr != nil {
			b.logger.Warn("failed to send work exception", "error", sendErr)
		}
	}
}

func (b *Build) complete(result BuildResult) {
	b.mu.Lock()
	b.finalStatus = result.Status
	b.finalError = result.Error
	b.mu.Unlock()

	payload, err := json.Marshal(result)
	if err != nil {
		b.logger.Error("failed to marshal build result", "error", err)
		_ = b.job.SendWorkFail()
		return
	}
	if err := b.job.SendWorkComplete(payload); err != nil {
		b.logger.Warn("failed to send work complete", "error", err)
	}
	b.logger.Info("build complete", "result", result.Status.String())
}

func (b *Build) execute() (BuildResult, error) {
	if err := b.announce(); err != nil {
		return BuildResult{}, err
	}

	agent, err := sshagent.Start()
	if err != nil {
		return BuildResult{}, err
	}
	b.agent = agent
	if key := b.server.privateKeyFile; key != "" {
		if err := agent.Add(key); err != nil {
			return BuildResult{}, err
		}
	}

	dir, err := jobdir.New(b.server.jobDirRoot, b.server.keepJobDirs(), b.uuid)
	if err != nil {
		return BuildResult{}, err
	}
	b.jobDir = dir

	b.waitForRepoUpdates()

	merged, err := b.prepareRepos()
	if err != nil {
		return BuildResult{}, err
	}
	if !merged {
		return BuildResult{Status: StatusMergerFailure, Data: map[string]any{}}, nil
	}

	if err := b.writeAnsibleFiles(); err != nil {
		return BuildResult{}, err
	}
	if err := b.preparePlaybooks(); err != nil {
		return BuildResult{}, err
	}

	status := b.runPlaybooks()
	return BuildResult{Status: status, Data: b.resultData()}, nil
}

// announce streams the log locator back to the scheduler before any real
// work starts.
func (b *Build) announce() error {
	data, err := json.Marshal(map[string]string{
		"worker_name":     b.server.hostname,
		"worker_hostname": b.server.hostname,
		"url":             b.server.fingerURL(b.uuid),
	})
	if err != nil {
		return err
	}
	return b.job.SendWorkData(data)
}

// waitForRepoUpdates refreshes the mirror of every repository the build
// touches. Coalesced refreshes share one outcome; failures surface later
// during workspace preparation.
func (b *Build) waitForRepoUpdates() {
	seen := make(map[string]bool)
	var tasks []*reposync.Task
	submit := func(connection, project string) {
		key := connection + "/" + project
		if connection == "" || project == "" || seen[key] {
			return
		}
		seen[key] = true
		tasks = append(tasks, b.server.coordinator.Submit(connection, project))
	}

	for _, p := range b.args.Projects {
		submit(p.Connection, p.Name)
	}
	for _, set := range [][]PlaybookArgs{b.args.PrePlaybooks, b.args.Playbooks, b.args.PostPlaybooks} {
		for _, pb := range set {
			submit(pb.Connection, pb.Project)
			for _, role := range pb.Roles {
				submit(role.Connection, role.Project)
			}
		}
	}
	for _, task := range tasks {
		task.Wait()
	}
}

// prepareRepos populates the shared source tree: speculative merge of the
// change items, then branch checkout for every other project. Returns false
// on a merge conflict.
func (b *Build) prepareRepos() (bool, error) {
	m, err := b.server.mergerFactory(b.jobDir.SrcRoot, b.logger)
	if err != nil {
		return false, fmt.Errorf("create workspace merger: %w", err)
	}
	b.merger = m

	var recent map[merger.RefKey]string
	if len(b.args.Items) > 0 {
		result, err := m.MergeChanges(b.args.Items, nil, nil, b.args.RepoState)
		if err != nil {
			return false, err
		}
		if result == nil {
			return false, nil
		}
		recent = result.Recent
	}

	for _, project := range b.args.Projects {
		if err := b.checkoutProject(project, recent); err != nil {
			return false, err
		}
	}

	// The merged repos must not be able to reach back to their upstream.
	for _, item := range b.args.Items {
		repo, err := m.GetRepo(item.Connection, item.Project)
		if err != nil {
			return false, err
		}
		if err := repo.DeleteRemote("origin"); err != nil {
			b.logger.Debug("unable to delete origin remote",
				"project", item.Project, "error", err)
		}
	}
	return true, nil
}

// checkoutProject checks out one workspace repository on the first branch of
// the fallback chain that actually exists: the project's override branch,
// the job branch, the scheduler branch, then the project's default branch.
func (b *Build) checkoutProject(project ProjectArgs, recent map[merger.RefKey]string) error {
	source, err := b.server.sources.GetSource(project.Connection)
	if err != nil {
		return Fatalf("unknown connection %q: %v", project.Connection, err)
	}
	meta, err := source.GetProject(project.Name)
	if err != nil {
		return Fatalf("unknown project %q on connection %q: %v", project.Name, project.Connection, err)
	}

	repo, err := b.merger.GetRepo(project.Connection, project.Name)
	if err != nil {
		return err
	}
	branches, err := repo.GetBranches()
	if err != nil {
		return err
	}
	available := make(map[string]bool, len(branches))
	for _, branch := range branches {
		available[branch] = true
	}

	for _, candidate := range []string{
		project.OverrideBranch,
		b.args.Branch,
		b.args.ZuulBranch(),
		meta.DefaultBranch,
	} {
		if candidate == "" || !available[candidate] {
			continue
		}
		key := merger.RefKey{Connection: project.Connection, Project: project.Name, Branch: candidate}
		if sha, ok := recent[key]; ok {
			// Pin the branch to the speculative merge result before
			// checking it out.
			if err := repo.SetRef("refs/heads/"+candidate, sha); err != nil {
				return err
			}
		}
		if err := repo.CheckoutLocalBranch(candidate); err != nil {
			return err
		}
		b.logger.Debug("checked out project", "project", meta.CanonicalName, "branch", candidate)
		return nil
	}
	return Fatalf("project %s has no checkout branch among override/job/zuul/default", meta.CanonicalName)
}

// runPlaybooks composes the pre/main/post phases into a build status.
//
// Pre failures leave the status unset so the scheduler retries; the main
// playbook is skipped but post playbooks still run for cleanup. A post
// failure becomes POST_FAILURE unless pre already failed: the pre failure is
// the outcome the scheduler must see, even though that hides the post
// result.
func (b *Build) runPlaybooks() BuildStatus {
	result := StatusUnset
	preFailed := false

	for _, p := range b.jobDir.PrePlaybooks {
		status, code := b.runAnsible(p, false)
		if status != RunNormal || code != 0 {
			b.logger.Info("pre playbook failed", "playbook", p.CanonicalName,
				"status", status.String(), "code", code)
			preFailed = true
			break
		}
	}

	success := false
	if !preFailed {
		status, code := b.runAnsible(b.jobDir.Playbook, false)
		switch status {
		case RunTimedOut:
			return StatusTimedOut
		case RunAborted:
			return StatusAborted
		case RunNormal:
			if code == 0 {
				result = StatusSuccess
				success = true
			} else {
				result = StatusFailure
			}
		default:
			// Unreachable targets are an environment problem; leave the
			// result unset for retry.
			return StatusUnset
		}
	}

	for _, p := range b.jobDir.PostPlaybooks {
		status, code := b.runAnsible(p, success)
		if (status != RunNormal || code != 0) && !preFailed {
			result = StatusPostFailure
		}
	}
	return result
}

// playbookArgv assembles the engine command line. Operator verbosity
// upgrades the always-present -v to -vvv.
func (b *Build) playbookArgv(p *jobdir.Playbook, success bool) []string {
	argv := []string{b.server.ansibleBin}
	if b.server.isVerbose() {
		argv = append(argv, "-vvv")
	} else {
		argv = append(argv, "-v")
	}
	argv = append(argv, "-e", fmt.Sprintf("zuul_success=%t", success))
	if b.jobDir.HasSecrets {
		argv = append(argv, "-e", "@"+b.jobDir.SecretsFile)
	}
	return append(argv, p.Path)
}

// runAnsible launches one playbook subprocess in its own process group and
// supervises it to completion.
func (b *Build) runAnsible(p *jobdir.Playbook, success bool) (RunStatus, int) {
	argv := b.playbookArgv(p, success)

	var sshAuthSock string
	if b.agent != nil {
		sshAuthSock = b.agent.AuthSock
	}
	cmd, err := b.server.wrapper.Command(b.server.baseCtx, wrapper.Options{
		WorkDir:     b.jobDir.WorkRoot,
		SSHAuthSock: sshAuthSock,
		ROBinds:     b.server.roBinds(p.Trusted),
		RWBinds:     b.server.rwBinds(p.Trusted),
		Env: []string{
			"ANSIBLE_CONFIG=" + p.AnsibleConfig,
			"HOME=" + b.jobDir.WorkRoot,
			"PATH=" + os.Getenv("PATH"),
		},
	}, argv)
	if err != nil {
		b.logger.Error("failed to build playbook command", "error", err)
		return RunNormal, -1
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		b.logger.Error("failed to open output pipe", "error", err)
		return RunNormal, -1
	}
	cmd.Stderr = cmd.Stdout

	b.logger.Info("running playbook", "playbook", p.CanonicalName, "trusted", p.Trusted)

	// The lock spans the abort check, the launch and the group recording so
	// a concurrent stop either prevents the launch or sees a killable group.
	b.mu.Lock()
	if b.aborted {
		b.mu.Unlock()
		return RunAborted, -1
	}
	if err := cmd.Start(); err != nil {
		b.mu.Unlock()
		b.logger.Error("failed to start playbook", "error", err)
		return RunNormal, -1
	}
	pgid := cmd.Process.Pid
	b.pgid = pgid
	b.mu.Unlock()

	var dog *watchdog
	if b.args.Timeout > 0 {
		dog = newWatchdog(time.Duration(b.args.Timeout)*time.Second, func() {
			b.logger.Warn("watchdog fired, killing process group", "pgid", pgid)
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		})
	}

	var syntaxBuffer []string
	reader := bufio.NewReaderSize(stdout, 64*1024)
	for {
		line, err := readOutputLine(reader)
		if err != nil && line == "" {
			break
		}
		if len(syntaxBuffer) < syntaxBufferLines {
			syntaxBuffer = append(syntaxBuffer, line)
		}
		b.logger.Debug("ansible output", "line", line)
		if err != nil {
			break
		}
	}

	waitErr := cmd.Wait()
	if dog != nil {
		dog.Stop()
	}
	b.mu.Lock()
	b.pgid = 0
	b.mu.Unlock()

	code, signaled := exitStatus(cmd, waitErr)
	switch {
	case dog != nil && dog.TimedOut():
		return RunTimedOut, code
	case b.isAborted() || signaled:
		return RunAborted, code
	case code == exitCodeUnreachable:
		return RunUnreachable, code
	case code == exitCodeParseError:
		b.flushSyntaxBuffer(syntaxBuffer)
		return RunNormal, code
	default:
		return RunNormal, code
	}
}

// readOutputLine reads one line from r, truncated to maxOutputLineBytes.
// The remainder of an overlong line is consumed and dropped so the pipe
// keeps draining no matter what the subprocess emits.
func readOutputLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line) < maxOutputLineBytes {
			line = append(line, chunk...)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if n := len(line); n > 0 && line[n-1] == '\n' {
			line = line[:n-1]
		}
		if len(line) > maxOutputLineBytes {
			line = line[:maxOutputLineBytes]
		}
		return string(line), err
	}
}

// exitStatus extracts the exit code and whether the process died to a
// signal.
func exitStatus(cmd *exec.Cmd, waitErr error) (int, bool) {
	if waitErr == nil {
		return 0, false
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return -1, true
		}
		return exitErr.ExitCode(), false
	}
	return -1, false
}

// flushSyntaxBuffer appends the retained leading output to the persistent
// job log so parse errors are visible even though the stream callback never
// got to run.
func (b *Build) flushSyntaxBuffer(lines []string) {
	f, err := os.OpenFile(b.jobDir.JobOutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		b.logger.Warn("unable to open job output file", "error", err)
		return
	}
	defer f.Close()
	for _, line := range lines {
		fmt.Fprintln(f, line)
	}
}

// resultData reads back the machine-readable result file the playbooks may
// have written. Absent or malformed content is not an error.
func (b *Build) resultData() map[string]any {
	data := map[string]any{}
	raw, err := os.ReadFile(b.jobDir.ResultDataFile)
	if err != nil || len(raw) == 0 {
		return data
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		b.logger.Warn("ignoring unparseable result data",
			"file", filepath.Base(b.jobDir.ResultDataFile), "error", err)
		return map[string]any{}
	}
	return data
}

// cleanup tears the build down. Each step is isolated so one failure does
// not suppress the others or mask the build result.
func (b *Build) cleanup() {
	if b.jobDir != nil {
		if err := b.jobDir.Cleanup(); err != nil {
			b.logger.Warn("workspace cleanup failed", "error", err)
		}
	}
	if b.agent != nil {
		if err := b.agent.Stop(); err != nil {
			b.logger.Warn("ssh-agent shutdown failed", "error", err)
		}
	}
	b.server.finishBuild(b)
}
