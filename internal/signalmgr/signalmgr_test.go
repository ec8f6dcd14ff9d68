package signalmgr

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHandleRemovesRegisteredTemps(t *testing.T) {
	orig := exitFunc
	exited := false
	exitFunc = func(code int) { exited = true }
	defer func() { exitFunc = orig }()

	m := &Manager{tempDirs: make(map[string]struct{})}
	dir := t.TempDir()
	tmp := filepath.Join(dir, "partial.tmp")
	if err := os.WriteFile(tmp, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	m.RegisterTemp(tmp)

	m.handle(os.Interrupt)

	if !exited {
		t.Fatal("expected exitFunc to be invoked")
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Fatal("expected temp file to be removed")
	}
}

func TestBlockDefersHandling(t *testing.T) {
	orig := exitFunc
	exitCount := 0
	exitFunc = func(code int) { exitCount++ }
	defer func() { exitFunc = orig }()

	m := &Manager{tempDirs: make(map[string]struct{})}
	m.Block()
	m.handle(os.Interrupt)
	if exitCount != 0 {
		t.Fatal("expected blocked signal to be deferred, not handled immediately")
	}

	m.Unblock()
	if exitCount != 1 {
		t.Fatalf("expected deferred signal to be handled on Unblock, exitCount=%d", exitCount)
	}
}

func TestUnregisterRemovesFromCleanupSet(t *testing.T) {
	orig := exitFunc
	exitFunc = func(code int) {}
	defer func() { exitFunc = orig }()

	m := &Manager{tempDirs: make(map[string]struct{})}
	dir := t.TempDir()
	tmp := filepath.Join(dir, "f.tmp")
	os.WriteFile(tmp, []byte("x"), 0o644)
	m.RegisterTemp(tmp)
	m.Unregister(tmp)

	m.handle(os.Interrupt)
	if _, err := os.Stat(tmp); err != nil {
		t.Fatal("expected unregistered temp file to survive")
	}
}
