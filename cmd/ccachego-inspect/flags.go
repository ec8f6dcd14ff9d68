package main

// flags.go parses ccachego-inspect's own small flag surface with pflag, the
// same idiom cmd/ccachego uses, rather than hand-rolling parsing with the
// standard library's flag package.

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

type options struct {
	version  bool
	json     bool
	watch    bool
	interval time.Duration
	target   string // cache directory to inspect
}

var versionString = "dev"

func parseFlags(argv []string) (*options, error) {
	opts := &options{}

	fs := pflag.NewFlagSet("ccachego-inspect", pflag.ContinueOnError)
	fs.BoolVar(&opts.version, "version", false, "print ccachego-inspect's version and exit")
	fs.BoolVar(&opts.json, "json", false, "print the snapshot as JSON instead of a text summary")
	fs.BoolVarP(&opts.watch, "watch", "w", false, "repeat the snapshot every --interval until interrupted")
	fs.DurationVar(&opts.interval, "interval", 2*time.Second, "poll interval in watch mode")
	fs.StringVarP(&opts.target, "dir", "d", "", "cache directory to inspect (defaults to CCACHEGO_DIR or ~/.cache/ccachego)")

	if err := fs.Parse(argv[1:]); err != nil {
		return nil, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("ccachego-inspect: unexpected argument %q", rest[0])
	}
	return opts, nil
}
