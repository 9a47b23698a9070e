package daemon_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"samplib/internal/daemon"
	"samplib/internal/testsupport"
)

func TestSecondInstanceRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)

	first, err := daemon.New(cfg, db, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- first.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !first.Status().Running {
		if time.Now().After(deadline) {
			t.Fatal("first daemon never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	second, err := daemon.New(cfg, db, nil)
	if err != nil {
		t.Fatalf("New second: %v", err)
	}
	if err := second.Run(context.Background()); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("second Run = %v, want ErrAlreadyRunning", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}
}
