package clipboard

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func waitExited(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("helper did not exit")
	}
}

func TestProcessForwardsToStdin(t *testing.T) {
	out := filepath.Join(t.TempDir(), "pipe")
	p, err := Spawn(context.Background(), "sh", []string{"-c", "cat > " + out}, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := p.Copy([]byte("s3cret")); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading captured pipe: %v", err)
	}
	got, err := ReadSecret(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadSecret: %v", err)
	}
	if string(got) != "s3cret" {
		t.Errorf("expected s3cret, got %q", got)
	}
}

func TestProcessUnavailableAfterExit(t *testing.T) {
	p, err := Spawn(context.Background(), "sh", []string{"-c", "exit " + strconv.Itoa(ExitNoDisplay)}, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitExited(t, p)

	if err := p.Copy([]byte("s3cret")); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop after exit: %v", err)
	}
}

func TestSpawnMissingBinary(t *testing.T) {
	_, err := Spawn(context.Background(), filepath.Join(t.TempDir(), "missing"), nil, nil)
	if err == nil {
		t.Fatal("expected error spawning a missing binary")
	}
}
