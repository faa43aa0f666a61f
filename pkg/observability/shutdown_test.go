package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestNewShutdownManager(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)

	sm := NewShutdownManager(logger, 0)
	if sm.shutdownTimeout != 30*time.Second {
		t.Errorf("expected default timeout of 30s, got %v", sm.shutdownTimeout)
	}

	sm = NewShutdownManager(logger, 5*time.Second, &http.Server{})
	if sm.shutdownTimeout != 5*time.Second {
		t.Errorf("expected timeout of 5s, got %v", sm.shutdownTimeout)
	}
	if len(sm.servers) != 1 {
		t.Errorf("expected 1 server, got %d", len(sm.servers))
	}
}

func TestWaitForShutdown(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)

	var cleaned atomic.Bool
	sm := NewShutdownManager(logger, 2*time.Second, &http.Server{})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		cleaned.Store(true)
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- sm.WaitForShutdown()
	}()

	// Give WaitForShutdown time to install its signal handler.
	time.Sleep(50 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("failed to send signal: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	if !cleaned.Load() {
		t.Error("shutdown function was not executed")
	}
}

func TestWaitForShutdownSurvivesPanickingFunc(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)

	var cleaned atomic.Bool
	sm := NewShutdownManager(logger, 2*time.Second)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		panic("cleanup exploded")
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		cleaned.Store(true)
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- sm.WaitForShutdown()
	}()

	time.Sleep(50 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("failed to send signal: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("panicking shutdown function should not fail the drain, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	if !cleaned.Load() {
		t.Error("remaining shutdown function was not executed")
	}
}

func TestWaitForShutdownReportsFuncErrors(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)

	sm := NewShutdownManager(logger, 2*time.Second)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		return errors.New("cleanup failed")
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- sm.WaitForShutdown()
	}()

	time.Sleep(50 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("failed to send signal: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected shutdown error to be reported")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}
