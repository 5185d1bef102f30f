package contextstore

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcherFiresOnAppend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ChannelKey)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	var fired atomic.Int32
	w := NewWatcher(path, func() { fired.Add(1) }, log.New(io.Discard, "", 0),
		WithWatchDebounce(10*time.Millisecond),
		WithWatchPollInterval(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{\"id\":\"x\"}\n"); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watcher never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatcherStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ChannelKey)

	var fired atomic.Int32
	w := NewWatcher(path, func() { fired.Add(1) }, log.New(io.Discard, "", 0),
		WithWatchPollInterval(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	time.Sleep(60 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
