package main

// flags.go parses the ccachego CLI surface (spec §6) with pflag, matching
// calvinalkan-agent-task's CLI idiom of a pflag.FlagSet plus a plain options
// struct rather than hand-rolling flag parsing with the standard library's
// flag package (which lacks the long/short-option pairing spec §6's surface
// needs, e.g. -c/--cleanup).
//
// Argument parsing for individual compiler families (GCC/Clang/MSVC/NVCC
// dialects) is explicitly out of scope (spec §1); everything after the
// recognized ccachego flags, or the entire argv when masquerading as the
// compiler, is handed to the compiler verbatim.

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

type options struct {
	cleanup        bool
	clear          bool
	showStats      bool
	zeroStats      bool
	showCompress   bool
	maxFiles       int
	maxSize        string
	evictOlderThan string
	evictNamespace string
	overrides      []string // -o key=val, repeatable

	// compiler invocation, once flags are stripped
	compiler string
	compArgs []string
}

// parseArgs splits argv into ccachego's own flags and the compiler
// invocation that follows. It expects argv already in "ccachego <flags>
// <compiler> <args...>" form; resolveMasquerade rewrites the
// masquerade-symlink invocation form into that shape first.
func parseArgs(argv []string) (*options, error) {
	opts := &options{}

	fs := pflag.NewFlagSet("ccachego", pflag.ContinueOnError)
	fs.SetInterspersed(false) // stop at the first non-flag: that's the compiler
	fs.BoolVarP(&opts.cleanup, "cleanup", "c", false, "run LRU cleanup once")
	fs.BoolVarP(&opts.clear, "clear", "C", false, "wipe all cache entries")
	fs.BoolVarP(&opts.showStats, "show-stats", "s", false, "print aggregated counters")
	fs.BoolVarP(&opts.zeroStats, "zero-stats", "z", false, "reset counters")
	fs.BoolVarP(&opts.showCompress, "show-compression", "X", false, "print compression statistics summed over the whole local store (no per-shard breakdown)")
	fs.IntVarP(&opts.maxFiles, "max-files", "F", 0, "set the max-files limit persistently")
	fs.StringVarP(&opts.maxSize, "max-size", "M", "", "set the max-size limit persistently (e.g. 5G)")
	fs.StringVar(&opts.evictOlderThan, "evict-older-than", "", "evict entries older than DURATION (e.g. 2h)")
	fs.StringVar(&opts.evictNamespace, "evict-namespace", "", "evict entries in NAMESPACE")
	fs.StringArrayVarP(&opts.overrides, "set-config", "o", nil, "ephemeral config override key=val")

	if err := fs.Parse(argv[1:]); err != nil {
		return nil, err
	}

	rest := fs.Args()
	if opts.cleanup || opts.clear || opts.showStats || opts.zeroStats || opts.showCompress ||
		opts.evictOlderThan != "" || opts.evictNamespace != "" ||
		opts.maxFiles > 0 || opts.maxSize != "" {
		return opts, nil
	}
	if len(rest) == 0 {
		return nil, fmt.Errorf("ccachego: no compiler invocation given")
	}
	opts.compiler = rest[0]
	opts.compArgs = rest[1:]
	return opts, nil
}

// resolveMasquerade decides the effective argv ccachego should parse,
// implementing spec §6's "ccache is invoked via a symlink named like the
// compiler" dispatch: when the binary's own basename isn't "ccachego", the
// whole argv is the compiler invocation, with the
// compiler itself being whatever that basename resolves to on PATH.
func resolveMasquerade(argv []string) []string {
	base := filepath.Base(argv[0])
	if base == "ccachego" {
		return argv
	}
	// Masquerading: argv[0] is the compiler name (or a path to it), argv[1:]
	// are the compiler's own arguments. Reinterpret as "ccachego <compiler>
	// <args...>" so parseArgs's uniform handling applies.
	out := make([]string, 0, len(argv)+1)
	out = append(out, "ccachego", base)
	out = append(out, argv[1:]...)
	return out
}

// parseOverride splits a "-o key=val" override into its key/value parts.
func parseOverride(kv string) (key, val string, ok bool) {
	i := strings.IndexByte(kv, '=')
	if i < 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

// parseSize parses a ccache-style size string ("5G", "500M", "1024") into
// bytes, matching the units ccache's own config parser accepts.
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	mult := int64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'K', 'k':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'M', 'm':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'G', 'g':
		mult = 1 << 30
		s = s[:len(s)-1]
	case 'T', 't':
		mult = 1 << 40
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ccachego: invalid size %q: %w", s, err)
	}
	return n * mult, nil
}
