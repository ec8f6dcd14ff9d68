package execexec

import (
	"context"
	"runtime"
	"testing"
)

func TestStripANSI(t *testing.T) {
	colored := "\x1b[31mwarning:\x1b[0m unused variable"
	got := string(StripANSI([]byte(colored)))
	want := "warning: unused variable"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRunCapturesStdoutAndExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell")
	}
	res, err := Run(context.Background(), t.TempDir(), "sh", []string{"-c", "echo out; echo err 1>&2; exit 3"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Stdout) != "out\n" {
		t.Fatalf("unexpected stdout %q", res.Stdout)
	}
	if string(res.Stderr) != "err\n" {
		t.Fatalf("unexpected stderr %q", res.Stderr)
	}
	if res.ExitCode != 3 {
		t.Fatalf("unexpected exit code %d", res.ExitCode)
	}
}

func TestDepfileTokenizeRoundTrip(t *testing.T) {
	content := `foo.o: foo.c /usr/include/a\ b.h`
	tokens := TokenizeDepfile(content)
	want := []string{"foo.o", ":", "foo.c", "/usr/include/a b.h"}
	if len(tokens) != len(want) {
		t.Fatalf("got %v want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("token %d: got %q want %q", i, tokens[i], want[i])
		}
	}

	back := UntokenizeDepfile(tokens)
	tokens2 := TokenizeDepfile(back)
	if len(tokens2) != len(tokens) {
		t.Fatalf("round trip shape mismatch: %v vs %v", tokens, tokens2)
	}
	for i := range tokens {
		if tokens[i] != tokens2[i] {
			t.Fatalf("round trip mismatch at %d: %q vs %q", i, tokens[i], tokens2[i])
		}
	}
}

func TestRewriteDependencyTargetsSkipsObjectPath(t *testing.T) {
	content := "out.o: src/foo.h src/bar.h"
	rewritten := RewriteDependencyTargets(content, func(p string) string {
		if p == "out.o" {
			t.Fatal("must not rewrite the object file path")
		}
		return "REWRITTEN"
	})
	want := "out.o: REWRITTEN REWRITTEN"
	if rewritten != want {
		t.Fatalf("got %q want %q", rewritten, want)
	}
}

func TestRewriteDependencyTargetsNoOpReturnsOriginal(t *testing.T) {
	content := "out.o: src/foo.h"
	got := RewriteDependencyTargets(content, func(p string) string { return p })
	if got != content {
		t.Fatalf("expected unchanged content, got %q", got)
	}
}
