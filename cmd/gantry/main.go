package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattjoyce/gantry/internal/api"
	"github.com/mattjoyce/gantry/internal/config"
	"github.com/mattjoyce/gantry/internal/executor"
	"github.com/mattjoyce/gantry/internal/history"
	"github.com/mattjoyce/gantry/internal/lock"
	"github.com/mattjoyce/gantry/internal/log"
	"github.com/mattjoyce/gantry/internal/merger"
	"github.com/mattjoyce/gantry/internal/rpc"
	"github.com/mattjoyce/gantry/internal/storage"
	"github.com/mattjoyce/gantry/internal/wrapper"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("gantry", flag.ExitOnError)
	configPath := fs.String("config", "/etc/gantry/gantry.yaml", "Path to configuration file")
	keep := fs.Bool("keep", false, "Keep build directories after completion")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if *showVersion {
		fmt.Printf("gantry version %s\n", version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *keep {
		cfg.Executor.KeepJobDirs = true
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")

	fingerprint, err := config.Fingerprint(*configPath)
	if err != nil {
		logger.Error("failed to fingerprint config", "error", err)
		return 1
	}
	logger.Info("gantry starting", "version", version, "config", *configPath, "fingerprint", fingerprint)

	pidLockPath := filepath.Join(cfg.Executor.StateDir, "gantry.pid")
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)",
			"path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	hostname, err := os.Hostname()
	if err != nil {
		logger.Error("failed to determine hostname", "error", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	store := history.NewStore(db)

	sources := make(merger.StaticSources, len(cfg.Merger.Connections))
	remotes := make(map[string]string, len(cfg.Merger.Connections))
	for name, conn := range cfg.Merger.Connections {
		sources[name] = merger.StaticSource{
			Connection:    name,
			Hostname:      conn.Hostname,
			DefaultBranch: conn.DefaultBranch,
		}
		remotes[name] = conn.BaseURL
	}

	gitOpts := merger.GitOptions{
		Root:      cfg.Merger.GitDir,
		Sources:   sources,
		Remotes:   remotes,
		UserName:  cfg.Merger.GitUserName,
		UserEmail: cfg.Merger.GitUserEmail,
	}
	cacheMerger, err := merger.NewGit(gitOpts, log.WithComponent("merger"))
	if err != nil {
		logger.Error("failed to initialize merger", "error", err)
		return 1
	}
	factory := merger.GitFactory(gitOpts)

	driver, err := wrapper.New(cfg.Executor.ExecutionWrapper)
	if err != nil {
		logger.Error("invalid execution wrapper", "error", err)
		return 1
	}

	brokerAddr := fmt.Sprintf("%s:%d", cfg.Broker.Server, cfg.Broker.Port)
	server, err := executor.NewServer(executor.Options{
		Config:        cfg,
		Hostname:      hostname,
		ExecuteWorker: rpc.NewClient(brokerAddr),
		MergeWorker:   rpc.NewClient(brokerAddr),
		CacheMerger:   cacheMerger,
		Factory:       factory,
		Sources:       sources,
		Wrapper:       driver,
		History:       store,
		CommandSocket: filepath.Join(cfg.Executor.StateDir, "gantry.socket"),
	})
	if err != nil {
		logger.Error("failed to build executor", "error", err)
		return 1
	}
	if err := server.Start(); err != nil {
		logger.Error("failed to start executor", "error", err)
		return 1
	}

	apiCtx, cancelAPI := context.WithCancel(ctx)
	defer cancelAPI()
	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen:      cfg.API.Listen,
			Fingerprint: fingerprint,
		}, server, store, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(apiCtx); err != nil {
				logger.Error("status API failed", "error", err)
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-signals:
		logger.Info("received signal, shutting down", "signal", sig.String())
		server.Stop()
	case <-server.Done():
		// Graceful shutdown finished via the command socket.
	}

	logger.Info("gantry stopped")
	return 0
}
