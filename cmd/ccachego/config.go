package main

// config.go wires the CLI's own flag set onto ccache.Config's functional
// options, and the single ambient concern (ignore_options) the argument
// classifier needs that the façade's Config doesn't carry itself.

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Voskan/ccachego/internal/execexec"
	"github.com/Voskan/ccachego/pkg/ccache"
)

func configOptionsFrom(opts *options) []ccache.Option {
	var out []ccache.Option
	if opts.maxFiles > 0 {
		out = append(out, ccache.WithMaxFiles(opts.maxFiles))
	}
	if opts.maxSize != "" {
		if n, err := parseSize(opts.maxSize); err == nil {
			out = append(out, ccache.WithMaxCacheSize(n))
		}
	}
	for _, kv := range opts.overrides {
		key, val, ok := parseOverride(kv)
		if !ok {
			continue
		}
		switch key {
		case "namespace":
			out = append(out, ccache.WithNamespace(val))
		case "read_only":
			out = append(out, ccache.WithReadOnly(val == "true" || val == "1"))
		case "direct_mode":
			out = append(out, ccache.WithDirectMode(val == "true" || val == "1"))
		case "remote_storage":
			out = append(out, ccache.WithRemoteURLs(strings.Fields(val)))
		case "recache":
			out = append(out, ccache.WithRecache(val == "true" || val == "1"))
		case "hard_link":
			out = append(out, ccache.WithHardLink(val == "true" || val == "1"))
		}
	}
	return out
}

// ignoreOptionsFromEnv reads CCACHEGO_IGNOREOPTIONS, a space-separated list
// of argument patterns (each optionally ending in a trailing "*") excluded
// from the fingerprint (spec §6's ignore_options / §4.10).
func ignoreOptionsFromEnv() []string {
	v := os.Getenv("CCACHEGO_IGNOREOPTIONS")
	if v == "" {
		return nil
	}
	return strings.Fields(v)
}

// execUncached runs the compiler directly, bypassing the cache entirely
// (spec's EXEC_UNCACHED transition), replaying its stdout/stderr and
// exit code unchanged.
func execUncached(ctx context.Context, opts *options) int {
	cwd, _ := os.Getwd()
	res, err := execexec.Run(ctx, cwd, opts.compiler, opts.compArgs, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ccachego:", err)
		return 1
	}
	os.Stdout.Write(res.Stdout)
	os.Stderr.Write(res.Stderr)
	return res.ExitCode
}
