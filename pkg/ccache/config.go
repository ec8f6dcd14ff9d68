// Package ccache is the C9/C11 façade: the public entry point tying
// together the fingerprinting, local store, remote storage, and statistics
// packages into the single compile-cache lookup operation spec §4 and §5
// describe.
//
// Grounded on the teacher's pkg/config.go functional-options pattern
// (generalized here from Option[K,V] to a plain Option, since ccachego has
// one concrete cache shape rather than a generic K/V store) and
// pkg/loader.go's singleflight wrapper (generalized similarly).
package ccache

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Voskan/ccachego/internal/atomicfile"
)

// Config holds every tunable the orchestrator needs. Zero value is not
// usable; build one with NewConfig.
type Config struct {
	CacheDir          string
	MaxCacheSize      int64
	MaxFiles          int
	Namespace         string
	Compression       bool
	CompressLevel     int8
	RemoteURLs        []string
	ReadOnly          bool
	ReadOnlyDirect    bool
	DirectMode        bool
	HardLink          bool
	Sloppiness        Sloppiness
	RecacheGeneration bool

	log     *zap.Logger
	metrics metricsSink
}

// Sloppiness mirrors core.Sloppiness, re-exported at the façade layer so
// config loading doesn't need to import pkg/core directly.
type Sloppiness struct {
	FileStatMatches  bool
	IncludeFileMtime bool
	IncludeFileCtime bool
}

// Option configures a Config at construction time.
type Option func(*Config)

func WithCacheDir(dir string) Option           { return func(c *Config) { c.CacheDir = dir } }
func WithLogger(l *zap.Logger) Option         { return func(c *Config) { c.log = l } }
func WithMetrics(m metricsSink) Option        { return func(c *Config) { c.metrics = m } }
func WithMaxCacheSize(n int64) Option         { return func(c *Config) { c.MaxCacheSize = n } }
func WithMaxFiles(n int) Option               { return func(c *Config) { c.MaxFiles = n } }
func WithNamespace(ns string) Option          { return func(c *Config) { c.Namespace = ns } }
func WithRemoteURLs(urls []string) Option     { return func(c *Config) { c.RemoteURLs = urls } }
func WithReadOnly(ro bool) Option             { return func(c *Config) { c.ReadOnly = ro } }
func WithDirectMode(direct bool) Option       { return func(c *Config) { c.DirectMode = direct } }
func WithSloppiness(s Sloppiness) Option      { return func(c *Config) { c.Sloppiness = s } }
func WithRecache(on bool) Option              { return func(c *Config) { c.RecacheGeneration = on } }
func WithHardLink(on bool) Option             { return func(c *Config) { c.HardLink = on } }

// Version is stamped into every written cache entry's header, so an
// incompatible future reader can tell which writer produced an entry.
const Version = "0.1.0"

var errNoCacheDir = errors.New("ccache: cache directory must be set (CCACHEGO_DIR or WithCacheDir)")

const defaultMaxCacheSize = 5 * 1024 * 1024 * 1024 // 5 GiB, matching ccache's historical default

// ConfigFileName is the on-disk settings file read from the cache directory
// (and written by the CLI's persistent -F/-M flags).
const ConfigFileName = "ccachego.conf"

// NewConfig builds a Config from defaults, then the cache directory's
// ccachego.conf (if present), then environment variables (CCACHEGO_DIR,
// CCACHEGO_MAXSIZE, CCACHEGO_MAXFILES, CCACHEGO_NAMESPACE, CCACHEGO_REMOTE,
// CCACHEGO_READONLY, CCACHEGO_DIRECT, CCACHEGO_COMPRESSION, CCACHEGO_RECACHE,
// CCACHEGO_HARDLINK), then opts, in that
// increasing-precedence order — mirroring ccache's own
// config-file-then-environment-then-command-line layering, with opts
// standing in for the command-line layer.
func NewConfig(opts ...Option) (*Config, error) {
	c := &Config{
		CacheDir:      defaultCacheDir(),
		MaxCacheSize:  defaultMaxCacheSize,
		Compression:   true,
		CompressLevel: 0,
		DirectMode:    true,
		log:           zap.NewNop(),
		metrics:       noopMetrics{},
	}
	// The config file lives inside the cache directory, so the directory
	// itself can only come from the environment or an option.
	if v := os.Getenv("CCACHEGO_DIR"); v != "" {
		c.CacheDir = v
	}
	if c.CacheDir != "" {
		if kv, err := LoadConfigFile(c.CacheDir + "/" + ConfigFileName); err == nil {
			applyConfigValues(c, kv)
		}
	}
	applyEnv(c)
	for _, o := range opts {
		o(c)
	}
	if c.CacheDir == "" {
		return nil, errNoCacheDir
	}
	return c, nil
}

// applyConfigValues maps recognized ccachego.conf keys onto Config fields.
// Unknown keys are ignored, matching ccache's tolerance for settings a
// newer version wrote.
func applyConfigValues(c *Config, kv map[string]string) {
	if v, ok := kv["max_size"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxCacheSize = n
		}
	}
	if v, ok := kv["max_files"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxFiles = n
		}
	}
	if v, ok := kv["namespace"]; ok {
		c.Namespace = v
	}
	if v, ok := kv["remote_storage"]; ok {
		c.RemoteURLs = strings.Fields(v)
	}
	if v, ok := kv["read_only"]; ok {
		c.ReadOnly = v == "true" || v == "1"
	}
	if v, ok := kv["direct_mode"]; ok {
		c.DirectMode = v == "true" || v == "1"
	}
	if v, ok := kv["compression"]; ok {
		c.Compression = v == "true" || v == "1"
	}
	if v, ok := kv["hard_link"]; ok {
		c.HardLink = v == "true" || v == "1"
	}
}

func defaultCacheDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.cache/ccachego"
	}
	return ""
}

func applyEnv(c *Config) {
	if v := os.Getenv("CCACHEGO_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("CCACHEGO_MAXSIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxCacheSize = n
		}
	}
	if v := os.Getenv("CCACHEGO_MAXFILES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxFiles = n
		}
	}
	if v := os.Getenv("CCACHEGO_NAMESPACE"); v != "" {
		c.Namespace = v
	}
	if v := os.Getenv("CCACHEGO_REMOTE"); v != "" {
		c.RemoteURLs = strings.Fields(v)
	}
	if v := os.Getenv("CCACHEGO_READONLY"); v != "" {
		c.ReadOnly = v == "true" || v == "1"
	}
	if v := os.Getenv("CCACHEGO_DIRECT"); v != "" {
		c.DirectMode = v == "true" || v == "1"
	}
	if v := os.Getenv("CCACHEGO_COMPRESSION"); v != "" {
		c.Compression = v == "true" || v == "1"
	}
	if v := os.Getenv("CCACHEGO_RECACHE"); v != "" {
		c.RecacheGeneration = v == "true" || v == "1"
	}
	if v := os.Getenv("CCACHEGO_HARDLINK"); v != "" {
		c.HardLink = v == "true" || v == "1"
	}
}

// LoadConfigFile parses a ccache-style "key = value" config file (one
// setting per line, '#' comments, blank lines ignored), restored from
// original_source's util/configreader.cpp since the distilled spec omits
// the on-disk config format entirely despite every other ccache surface
// assuming it exists.
func LoadConfigFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			raw := string(data[start:i])
			start = i + 1
			parseConfigLine(raw, out)
		}
	}
	return out, nil
}

func parseConfigLine(raw string, out map[string]string) {
	s := strings.TrimSpace(raw)
	if s == "" || s[0] == '#' {
		return
	}
	eq := strings.IndexByte(s, '=')
	if eq < 0 {
		return
	}
	key := strings.TrimSpace(s[:eq])
	value := strings.TrimSpace(s[eq+1:])
	if key != "" {
		out[key] = value
	}
}

// SaveConfigValue persists one "key = value" setting into path, replacing an
// existing line for key or appending one, preserving every other line
// (comments included). Backs the CLI's persistent -F/--max-files and
// -M/--max-size flags.
func SaveConfigValue(path, key, value string) error {
	var lines []string
	if data, err := os.ReadFile(path); err == nil {
		lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	}

	replaced := false
	for i, raw := range lines {
		s := strings.TrimSpace(raw)
		if s == "" || s[0] == '#' {
			continue
		}
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			continue
		}
		if strings.TrimSpace(s[:eq]) == key {
			lines[i] = key + " = " + value
			replaced = true
		}
	}
	if !replaced {
		lines = append(lines, key+" = "+value)
	}

	return atomicfile.WriteBytes(path, []byte(strings.Join(lines, "\n")+"\n"))
}

// RetryBackoff is a 50ms delay value. Nothing in this module references it:
// remote Get, Put and Remove calls are each attempted once and are not
// retried.
const RetryBackoff = 50 * time.Millisecond
