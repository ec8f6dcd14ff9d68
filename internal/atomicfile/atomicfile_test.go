package atomicfile

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWithAtomicVisibility(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entry.bin")

	if err := WriteBytes(path, []byte("v1")); err != nil {
		t.Fatal(err)
	}

	err := WithAtomic(path, func(w *bytes.Buffer) error {
		w.WriteString("v2")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v2" {
		t.Fatalf("expected v2, got %q", got)
	}
}

func TestWithAtomicFailureLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entry.bin")

	err := WithAtomic(path, func(w *bytes.Buffer) error {
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("expected no file to be created, stat err = %v", statErr)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no leftover temp files, found %v", entries)
	}
}

func TestTouchUpdatesMtime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	before, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	future := before.ModTime().Add(time.Hour)
	orig := nowFunc
	nowFunc = func() time.Time { return future }
	defer func() { nowFunc = orig }()

	if err := Touch(path); err != nil {
		t.Fatal(err)
	}

	after, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(future) {
		t.Fatalf("expected mtime %v, got %v", future, after.ModTime())
	}
}
