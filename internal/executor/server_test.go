package executor

import (
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/mattjoyce/gantry/internal/commandsock"
	"github.com/mattjoyce/gantry/internal/config"
	"github.com/mattjoyce/gantry/internal/merger"
	"github.com/mattjoyce/gantry/internal/merger/mocks"
	"github.com/mattjoyce/gantry/internal/rpc"
	"github.com/mattjoyce/gantry/internal/wrapper"
)

func dispatcherFixture(t *testing.T, cacheMerger merger.Merger) (*Server, *rpc.Broker) {
	t.Helper()

	cfg := config.Defaults()
	cfg.Executor.StateDir = t.TempDir()
	cfg.Executor.JobDirRoot = filepath.Join(cfg.Executor.StateDir, "builds")
	cfg.Merger.ZuulURL = "https://zuul.example.com"

	driver, err := wrapper.New("passthrough")
	if err != nil {
		t.Fatal(err)
	}

	broker := rpc.NewBroker()
	s, err := NewServer(Options{
		Config:        cfg,
		Hostname:      "exec1",
		ExecuteWorker: broker.NewWorker(),
		MergeWorker:   broker.NewWorker(),
		CacheMerger:   cacheMerger,
		Factory: func(root string, logger *slog.Logger) (merger.Merger, error) {
			return cacheMerger, nil
		},
		Sources: merger.StaticSources{},
		Wrapper: driver,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
	return s, broker
}

func waitDone(t *testing.T, sub *rpc.Submitted) {
	t.Helper()
	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job never completed")
	}
}

func TestStopUnknownBuildCompletes(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	_, broker := dispatcherFixture(t, mocks.NewMockMerger(ctrl))

	args, _ := json.Marshal(StopArgs{UUID: "no-such-build"})
	sub, err := broker.Submit(FuncStop, args)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, sub)
	if sub.Failed() || sub.Exception() != nil {
		t.Error("stop for an unknown build should complete cleanly")
	}
}

func TestCatJobReadsFiles(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	cache := mocks.NewMockMerger(ctrl)
	cache.EXPECT().UpdateRepo("gerrit", "acme/widgets").Return(nil)
	cache.EXPECT().
		GetFiles("gerrit", "acme/widgets", "master", []string{"zuul.yaml"}, gomock.Nil()).
		Return(map[string]string{"zuul.yaml": "- job: {}"}, nil)

	_, broker := dispatcherFixture(t, cache)

	args, _ := json.Marshal(CatArgs{
		Connection: "gerrit",
		Project:    "acme/widgets",
		Branch:     "master",
		Files:      []string{"zuul.yaml"},
	})
	sub, err := broker.Submit(FuncCat, args)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, sub)

	var result CatResult
	if err := json.Unmarshal(sub.Result(), &result); err != nil {
		t.Fatalf("decode cat result: %v", err)
	}
	if !result.Updated {
		t.Error("cat result not marked updated")
	}
	if result.Files["zuul.yaml"] != "- job: {}" {
		t.Errorf("files = %v", result.Files)
	}
	if result.ZuulURL != "https://zuul.example.com" {
		t.Errorf("zuul_url = %q", result.ZuulURL)
	}
}

func TestMergeJobConflict(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	cache := mocks.NewMockMerger(ctrl)
	cache.EXPECT().
		MergeChanges(gomock.Any(), gomock.Nil(), gomock.Nil(), gomock.Nil()).
		Return(nil, nil)

	_, broker := dispatcherFixture(t, cache)

	args, _ := json.Marshal(MergeArgs{Items: []merger.MergeItem{
		{Connection: "gerrit", Project: "acme/widgets", Branch: "master", Ref: "refs/changes/1/1/1"},
	}})
	sub, err := broker.Submit(FuncMerge, args)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, sub)

	var result MergeJobResult
	if err := json.Unmarshal(sub.Result(), &result); err != nil {
		t.Fatalf("decode merge result: %v", err)
	}
	if result.Merged {
		t.Error("conflict reported as merged")
	}
	if result.Commit != "" || result.Files != nil {
		t.Error("conflict result carries partial data")
	}
}

func TestMergeJobSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	cache := mocks.NewMockMerger(ctrl)
	cache.EXPECT().
		MergeChanges(gomock.Any(), gomock.Nil(), gomock.Nil(), gomock.Nil()).
		Return(&merger.MergeResult{
			Commit: "abc123",
			Files:  map[string]string{},
		}, nil)

	_, broker := dispatcherFixture(t, cache)

	args, _ := json.Marshal(MergeArgs{Items: []merger.MergeItem{
		{Connection: "gerrit", Project: "acme/widgets", Branch: "master"},
	}})
	sub, err := broker.Submit(FuncMerge, args)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, sub)

	var result MergeJobResult
	if err := json.Unmarshal(sub.Result(), &result); err != nil {
		t.Fatalf("decode merge result: %v", err)
	}
	if !result.Merged || result.Commit != "abc123" {
		t.Errorf("merge result = %+v", result)
	}
}

func TestMalformedExecuteIsException(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	_, broker := dispatcherFixture(t, mocks.NewMockMerger(ctrl))

	sub, err := broker.Submit(FuncExecute, []byte("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, sub)
	if sub.Exception() == nil {
		t.Error("malformed execute arguments should raise an exception")
	}
}

func TestOperatorFlags(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	s, _ := dispatcherFixture(t, mocks.NewMockMerger(ctrl))

	if s.isVerbose() {
		t.Error("verbose should start false")
	}
	s.applyCommand(commandsock.CmdVerbose)
	if !s.isVerbose() {
		t.Error("verbose command did not take effect")
	}
	s.applyCommand(commandsock.CmdUnverbose)
	if s.isVerbose() {
		t.Error("unverbose command did not take effect")
	}

	if s.keepJobDirs() {
		t.Error("keep should start false")
	}
	s.applyCommand(commandsock.CmdKeep)
	if !s.keepJobDirs() {
		t.Error("keep command did not take effect")
	}
	s.applyCommand(commandsock.CmdNoKeep)
	if s.keepJobDirs() {
		t.Error("nokeep command did not take effect")
	}
}

func TestFingerURL(t *testing.T) {
	s := &Server{hostname: "exec1", fingerPort: 79}
	if got := s.fingerURL("abc"); got != "finger://exec1/abc" {
		t.Errorf("default port url = %q", got)
	}
	s.fingerPort = 7900
	if got := s.fingerURL("abc"); got != "finger://exec1:7900/abc" {
		t.Errorf("custom port url = %q", got)
	}
}
