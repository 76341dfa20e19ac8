package reposync

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoalescedSubmitsShareOneRefresh(t *testing.T) {
	var updates int32
	release := make(chan struct{})
	var serial sync.Mutex

	c := New(&serial, func(connection, project string) error {
		atomic.AddInt32(&updates, 1)
		<-release
		return nil
	})

	// Park the consumer on an unrelated refresh so every submit below
	// stays pending and coalesces.
	first := c.Submit("gerrit", "other/repo")

	var wg sync.WaitGroup
	tasks := make([]*Task, 10)
	for i := range tasks {
		tasks[i] = c.Submit("gerrit", "acme/widgets")
	}
	for _, task := range tasks {
		wg.Add(1)
		go func(task *Task) {
			defer wg.Done()
			task.Wait()
		}(task)
	}

	go c.Run()
	close(release)
	first.Wait()
	wg.Wait()
	c.Stop()

	if got := atomic.LoadInt32(&updates); got != 2 {
		t.Errorf("ran %d refreshes, want 2 (one per distinct key)", got)
	}
	for i := 1; i < len(tasks); i++ {
		if tasks[i] != tasks[0] {
			t.Fatal("coalesced submits returned distinct tasks")
		}
	}
}

func TestWaitersReleasedOnFailure(t *testing.T) {
	var serial sync.Mutex
	c := New(&serial, func(connection, project string) error {
		return errors.New("fetch failed")
	})
	go c.Run()
	defer c.Stop()

	task := c.Submit("gerrit", "acme/widgets")
	done := make(chan struct{})
	go func() {
		task.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter hung on a failed refresh")
	}
}

func TestRefreshHoldsSerialLock(t *testing.T) {
	var serial sync.Mutex
	inUpdate := make(chan struct{})
	release := make(chan struct{})

	c := New(&serial, func(connection, project string) error {
		close(inUpdate)
		<-release
		return nil
	})
	go c.Run()
	defer c.Stop()

	task := c.Submit("gerrit", "acme/widgets")
	<-inUpdate
	if serial.TryLock() {
		serial.Unlock()
		t.Error("serial lock free while a refresh is running")
	}
	close(release)
	task.Wait()
}

func TestStopDrainsQueuedTasks(t *testing.T) {
	var updates int32
	var serial sync.Mutex
	c := New(&serial, func(connection, project string) error {
		atomic.AddInt32(&updates, 1)
		return nil
	})

	c.Submit("gerrit", "a/a")
	c.Submit("gerrit", "b/b")
	c.Stop()

	done := make(chan struct{})
	go func() {
		c.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if got := atomic.LoadInt32(&updates); got != 2 {
		t.Errorf("drained %d tasks before shutdown, want 2", got)
	}
}
