// Package executor is the heart of the worker: it accepts execute/stop jobs
// and merge/cat jobs from the broker, drives each build through workspace
// preparation and multi-phase playbook execution, and reports structured
// results back to the scheduler.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/gantry/internal/commandsock"
	"github.com/mattjoyce/gantry/internal/config"
	"github.com/mattjoyce/gantry/internal/history"
	"github.com/mattjoyce/gantry/internal/log"
	"github.com/mattjoyce/gantry/internal/merger"
	"github.com/mattjoyce/gantry/internal/reposync"
	"github.com/mattjoyce/gantry/internal/rpc"
	"github.com/mattjoyce/gantry/internal/wrapper"
)

// Broker function names.
const (
	FuncExecute = "executor:execute"
	FuncStop    = "executor:stop"
	FuncMerge   = "merger:merge"
	FuncCat     = "merger:cat"
)

// Options wires a Server's collaborators together.
type Options struct {
	Config   *config.Config
	Hostname string

	// ExecuteWorker consumes executor:execute and executor:stop;
	// MergeWorker consumes merger:merge and merger:cat.
	ExecuteWorker rpc.Worker
	MergeWorker   rpc.Worker

	// CacheMerger operates on the shared mirror cache; Factory creates
	// per-workspace mergers.
	CacheMerger merger.Merger
	Factory     merger.Factory
	Sources     merger.Sources

	Wrapper wrapper.Driver

	// History is optional; nil disables build-history recording.
	History *history.Store

	// CommandSocket is optional; empty disables the operator channel.
	CommandSocket string

	// AnsibleBin overrides the playbook command, used by tests.
	AnsibleBin string
	// AnsiblePluginDir is where the vetted plugin set lives.
	AnsiblePluginDir string
}

// BuildInfo is the status-API view of a live build.
type BuildInfo struct {
	UUID    string    `json:"uuid"`
	JobName string    `json:"job_name,omitempty"`
	Started time.Time `json:"started"`
}

// Server is the dispatcher: it owns the listener loops, the live-build
// registry, and the process-wide operator flags.
type Server struct {
	hostname         string
	jobDirRoot       string
	privateKeyFile   string
	defaultUsername  string
	fingerPort       int
	zuulURL          string
	ansibleBin       string
	ansiblePluginDir string

	trustedRO   []string
	trustedRW   []string
	untrustedRO []string
	untrustedRW []string

	executeWorker rpc.Worker
	mergeWorker   rpc.Worker
	cacheMerger   merger.Merger
	mergerFactory merger.Factory
	sources       merger.Sources
	wrapper       wrapper.Driver
	history       *history.Store
	logger        *slog.Logger

	// serial is the process-wide lock shared by refresh, merge and cat so
	// the on-disk mirror cache is never mutated concurrently.
	serial      sync.Mutex
	coordinator *reposync.Coordinator

	commandPath string
	commandSock *commandsock.Listener

	baseCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	builds   map[string]*Build
	verbose  bool
	keep     bool
	paused   bool
	graceful bool
}

// NewServer builds a Server from its options. Start must be called before
// any job is processed.
func NewServer(opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.ExecuteWorker == nil || opts.MergeWorker == nil {
		return nil, fmt.Errorf("both workers are required")
	}
	if opts.CacheMerger == nil || opts.Factory == nil || opts.Sources == nil {
		return nil, fmt.Errorf("merger collaborators are required")
	}
	if opts.Wrapper == nil {
		return nil, fmt.Errorf("execution wrapper is required")
	}

	ansibleBin := opts.AnsibleBin
	if ansibleBin == "" {
		ansibleBin = "ansible-playbook"
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		hostname:         opts.Hostname,
		jobDirRoot:       cfg.Executor.JobDirRoot,
		privateKeyFile:   cfg.Executor.PrivateKeyFile,
		defaultUsername:  cfg.Executor.DefaultUsername,
		fingerPort:       cfg.Executor.FingerPort,
		zuulURL:          cfg.Merger.ZuulURL,
		ansibleBin:       ansibleBin,
		ansiblePluginDir: opts.AnsiblePluginDir,
		trustedRO:        cfg.Executor.TrustedRODirs,
		trustedRW:        cfg.Executor.TrustedRWDirs,
		untrustedRO:      cfg.Executor.UntrustedRODirs,
		untrustedRW:      cfg.Executor.UntrustedRWDirs,
		executeWorker:    opts.ExecuteWorker,
		mergeWorker:      opts.MergeWorker,
		cacheMerger:      opts.CacheMerger,
		mergerFactory:    opts.Factory,
		sources:          opts.Sources,
		wrapper:          opts.Wrapper,
		history:          opts.History,
		logger:           log.WithComponent("executor"),
		commandPath:      opts.CommandSocket,
		baseCtx:          ctx,
		cancel:           cancel,
		done:             make(chan struct{}),
		builds:           make(map[string]*Build),
		keep:             cfg.Executor.KeepJobDirs,
	}
	s.coordinator = reposync.New(&s.serial, func(connection, project string) error {
		return s.cacheMerger.UpdateRepo(connection, project)
	})

	s.executeWorker.RegisterFunction(FuncExecute)
	s.executeWorker.RegisterFunction(FuncStop)
	s.mergeWorker.RegisterFunction(FuncMerge)
	s.mergeWorker.RegisterFunction(FuncCat)
	return s, nil
}

// Start launches the listener loops, the refresh consumer and the operator
// command channel.
func (s *Server) Start() error {
	if s.commandPath != "" {
		sock, err := commandsock.Listen(s.commandPath)
		if err != nil {
			return err
		}
		s.commandSock = sock
		s.wg.Add(1)
		go s.commandLoop()
	}

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.coordinator.Run()
	}()
	go s.dispatchLoop(s.executeWorker, "execute")
	go s.dispatchLoop(s.mergeWorker, "merge")

	s.logger.Info("executor started", "hostname", s.hostname)
	return nil
}

// Stop shuts the server down, aborting all running builds, and waits for
// the loops to drain. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping executor")
		s.cancel()
		s.executeWorker.Interrupt()
		s.mergeWorker.Interrupt()
		s.coordinator.Stop()
		if s.commandSock != nil {
			_ = s.commandSock.Close()
		}

		s.mu.Lock()
		builds := make([]*Build, 0, len(s.builds))
		for _, b := range s.builds {
			builds = append(builds, b)
		}
		s.mu.Unlock()
		for _, b := range builds {
			b.Abort()
		}

		s.wg.Wait()
		close(s.done)
		s.logger.Info("executor stopped")
	})
	<-s.done
}

// Done is closed once Stop has fully drained the server.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// dispatchLoop consumes one worker until shutdown. Broker hiccups are
// retried; only context cancellation ends the loop.
func (s *Server) dispatchLoop(worker rpc.Worker, name string) {
	defer s.wg.Done()
	logger := log.WithComponent("dispatch-" + name)
	for {
		job, err := worker.GetJob(s.baseCtx)
		if err != nil {
			if s.baseCtx.Err() != nil {
				return
			}
			if errors.Is(err, rpc.ErrInterrupted) {
				continue
			}
			logger.Warn("broker receive failed, retrying", "error", err)
			continue
		}
		s.dispatch(job, logger)
	}
}

func (s *Server) dispatch(job rpc.Job, logger *slog.Logger) {
	switch job.Name() {
	case FuncExecute:
		s.executeJob(job)
	case FuncStop:
		s.stopJob(job)
	case FuncMerge:
		s.mergeJob(job)
	case FuncCat:
		s.catJob(job)
	default:
		logger.Warn("ignoring unknown job", "name", job.Name())
		_ = job.SendWorkFail()
	}
}

func (s *Server) executeJob(job rpc.Job) {
	var args ExecuteArgs
	if err := decodeArgs(job.Arguments(), &args); err != nil {
		s.logger.Error("rejecting malformed execute job", "error", err)
		payload, _ := json.Marshal(map[string]string{"exception": err.Error()})
		_ = job.SendWorkException(payload)
		return
	}

	s.mu.Lock()
	if s.paused || s.graceful {
		s.mu.Unlock()
		s.logger.Info("refusing build while paused", "build", job.Unique())
		_ = job.SendWorkFail()
		return
	}
	build := newBuild(s, job, &args)
	s.builds[job.Unique()] = build
	s.mu.Unlock()

	s.logger.Info("accepted build", "build", job.Unique())
	go build.run()
}

func (s *Server) stopJob(job rpc.Job) {
	var args StopArgs
	if err := decodeArgs(job.Arguments(), &args); err != nil {
		s.logger.Error("rejecting malformed stop job", "error", err)
		_ = job.SendWorkFail()
		return
	}

	s.mu.Lock()
	build := s.builds[args.UUID]
	s.mu.Unlock()

	if build == nil {
		// The build may have finished between scheduling and delivery.
		s.logger.Info("stop requested for unknown build", "build", args.UUID)
	} else {
		build.Abort()
	}
	_ = job.SendWorkComplete(nil)
}

// catJob refreshes a repository and reads files from its cached mirror,
// serialized against merges and refreshes.
func (s *Server) catJob(job rpc.Job) {
	var args CatArgs
	if err := decodeArgs(job.Arguments(), &args); err != nil {
		s.logger.Error("rejecting malformed cat job", "error", err)
		_ = job.SendWorkFail()
		return
	}

	s.coordinator.Submit(args.Connection, args.Project).Wait()

	s.serial.Lock()
	files, err := s.cacheMerger.GetFiles(args.Connection, args.Project, args.Branch, args.Files, args.Dirs)
	s.serial.Unlock()
	if err != nil {
		s.logger.Error("cat failed", "project", args.Project, "error", err)
		_ = job.SendWorkFail()
		return
	}

	payload, err := json.Marshal(CatResult{Updated: true, Files: files, ZuulURL: s.zuulURL})
	if err != nil {
		_ = job.SendWorkFail()
		return
	}
	_ = job.SendWorkComplete(payload)
}

// mergeJob performs a one-shot speculative merge under the global lock.
func (s *Server) mergeJob(job rpc.Job) {
	var args MergeArgs
	if err := decodeArgs(job.Arguments(), &args); err != nil {
		s.logger.Error("rejecting malformed merge job", "error", err)
		_ = job.SendWorkFail()
		return
	}

	s.serial.Lock()
	result, err := s.cacheMerger.MergeChanges(args.Items, args.Files, args.Dirs, args.RepoState)
	s.serial.Unlock()
	if err != nil {
		s.logger.Error("merge failed", "error", err)
		_ = job.SendWorkFail()
		return
	}

	wire := MergeJobResult{ZuulURL: s.zuulURL}
	if result != nil {
		wire.Merged = true
		wire.Commit = result.Commit
		wire.Files = result.Files
		wire.RepoState = result.RepoState
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		_ = job.SendWorkFail()
		return
	}
	_ = job.SendWorkComplete(payload)
}

// finishBuild removes a build from the live registry and records it in the
// history store.
func (s *Server) finishBuild(b *Build) {
	s.mu.Lock()
	delete(s.builds, b.uuid)
	graceful := s.graceful
	remaining := len(s.builds)
	s.mu.Unlock()

	if s.history != nil {
		b.mu.Lock()
		result := b.finalStatus.String()
		detail := b.finalError
		b.mu.Unlock()
		rec := history.Record{
			UUID:        b.uuid,
			JobName:     b.JobName(),
			Result:      result,
			ErrorDetail: detail,
			StartedAt:   b.started,
			CompletedAt: time.Now(),
		}
		if err := s.history.Add(context.Background(), rec); err != nil {
			s.logger.Warn("failed to record build history", "build", b.uuid, "error", err)
		}
	}

	if graceful && remaining == 0 {
		s.logger.Info("last build finished, completing graceful shutdown")
		go s.Stop()
	}
}

// LiveBuilds returns a snapshot of the running builds for the status API.
func (s *Server) LiveBuilds() []BuildInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BuildInfo, 0, len(s.builds))
	for _, b := range s.builds {
		out = append(out, BuildInfo{UUID: b.uuid, JobName: b.JobName(), Started: b.started})
	}
	return out
}

// commandLoop applies operator commands until shutdown.
func (s *Server) commandLoop() {
	defer s.wg.Done()
	for {
		select {
		case cmd := <-s.commandSock.Commands():
			s.applyCommand(cmd)
		case <-s.baseCtx.Done():
			return
		}
	}
}

func (s *Server) applyCommand(cmd commandsock.Command) {
	s.logger.Info("operator command", "command", cmd.String())
	switch cmd {
	case commandsock.CmdStop:
		go s.Stop()
	case commandsock.CmdPause:
		s.setFlag(func() { s.paused = true })
	case commandsock.CmdUnpause:
		s.setFlag(func() { s.paused = false })
	case commandsock.CmdGraceful:
		s.mu.Lock()
		s.graceful = true
		remaining := len(s.builds)
		s.mu.Unlock()
		if remaining == 0 {
			go s.Stop()
		}
	case commandsock.CmdVerbose:
		s.setFlag(func() { s.verbose = true })
	case commandsock.CmdUnverbose:
		s.setFlag(func() { s.verbose = false })
	case commandsock.CmdKeep:
		s.setFlag(func() { s.keep = true })
	case commandsock.CmdNoKeep:
		s.setFlag(func() { s.keep = false })
	}
}

func (s *Server) setFlag(apply func()) {
	s.mu.Lock()
	apply()
	s.mu.Unlock()
}

func (s *Server) isVerbose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verbose
}

func (s *Server) keepJobDirs() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keep
}

// fingerURL is the log-streaming locator for a build. The port is omitted
// on the default finger port.
func (s *Server) fingerURL(uuid string) string {
	if s.fingerPort == 79 {
		return fmt.Sprintf("finger://%s/%s", s.hostname, uuid)
	}
	return fmt.Sprintf("finger://%s:%d/%s", s.hostname, s.fingerPort, uuid)
}

func (s *Server) roBinds(trusted bool) []string {
	if trusted {
		return s.trustedRO
	}
	return s.untrustedRO
}

func (s *Server) rwBinds(trusted bool) []string {
	if trusted {
		return s.trustedRW
	}
	return s.untrustedRW
}
