package main

// compile.go builds a ccache.Invocation from a masquerade-dispatched
// compiler call and replays (or captures) its outputs. The per-family
// argument semantics (which flag affects the compiler's output, where
// -MF/-MT point, whether -E/-c/link-step applies) are explicitly out of
// scope per spec §1; argClassify below is the deliberately generic stand-in
// for that external collaborator — it recognizes only the handful of
// GCC/Clang-compatible flags every supported frontend shares (-o, -c, -E,
// -MF) plus a /dev/null output, and passes everything else through to the
// compiler unexamined.
//
// Grounded on original_source/src/ccache/core/resultretriever.cpp for the
// per-file-type destination routing on a cache hit, and execexec.Run/
// StripANSI for running and sanitizing the real compiler.

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Voskan/ccachego/internal/execexec"
	"github.com/Voskan/ccachego/pkg/ccache"
	"github.com/Voskan/ccachego/pkg/core"
	"github.com/Voskan/ccachego/pkg/hash"
)

// argInfo is argClassify's verdict on one compiler invocation: whether it is
// cacheable at all, which arguments feed the fingerprint, and where the
// object/dependency outputs land.
type argInfo struct {
	cacheable  bool
	bailReason string // set when !cacheable
	sourcePath string
	objectPath string
	depPath    string
	args       []string // the subset that affects output, in order
}

// argClassify implements the generic stand-in described above: a call is
// cacheable only if it contains "-c" (compile, don't link) and not "-E"
// (preprocess-only passthrough), and the object path is whatever follows
// "-o", defaulting to the source basename with its extension replaced by
// ".o" to mirror the compiler's own default.
func argClassify(args []string, ignoreOptions []string) argInfo {
	info := argInfo{cacheable: true}
	hasCompileFlag := false
	var source string

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-E":
			return argInfo{cacheable: false, bailReason: "preprocessor_only"}
		case a == "-c":
			hasCompileFlag = true
		case a == "-o" && i+1 < len(args):
			if args[i+1] == "/dev/null" {
				return argInfo{cacheable: false, bailReason: "output_to_devnull"}
			}
			info.objectPath = args[i+1]
			i++
			continue
		case a == "-MF" && i+1 < len(args):
			info.depPath = args[i+1]
			i++
			continue
		case a == "/dev/null":
			return argInfo{cacheable: false, bailReason: "output_to_devnull"}
		case !strings.HasPrefix(a, "-"):
			source = a
		}
		if isIgnored(a, ignoreOptions) {
			continue
		}
		info.args = append(info.args, a)
	}

	if !hasCompileFlag {
		return argInfo{cacheable: false, bailReason: "called_for_link"}
	}
	info.sourcePath = source
	if info.objectPath == "" && source != "" {
		info.objectPath = strings.TrimSuffix(filepath.Base(source), filepath.Ext(source)) + ".o"
	}
	return info
}

// isIgnored reports whether opt matches an entry in ignoreOptions, each
// entry optionally ending in a single trailing "*" wildcard (spec §4.10).
func isIgnored(opt string, ignoreOptions []string) bool {
	for _, pat := range ignoreOptions {
		if strings.HasSuffix(pat, "*") {
			if strings.HasPrefix(opt, strings.TrimSuffix(pat, "*")) {
				return true
			}
			continue
		}
		if opt == pat {
			return true
		}
	}
	return false
}

// buildInvocation assembles a ccache.Invocation for one compiler call. The
// returned bool is false when the call is not cacheable (spec's
// EXEC_UNCACHED transition), in which case the caller should run the
// compiler directly.
func buildInvocation(ctx context.Context, compiler string, args []string, cfg *cliConfig) (ccache.Invocation, argInfo, bool) {
	info := argClassify(args, cfg.ignoreOptions)
	if !info.cacheable {
		return ccache.Invocation{}, info, false
	}

	compilerDigest, err := digestCompiler(compiler)
	if err != nil {
		return ccache.Invocation{}, info, false
	}

	cwd, _ := os.Getwd()

	// Best-effort: without the raw source text the façade simply can't
	// apply the __TIME__ direct-mode escape hatch, and stays correct via
	// the preprocessed-mode path.
	var source []byte
	if info.sourcePath != "" {
		source, _ = os.ReadFile(info.sourcePath)
	}

	inv := ccache.Invocation{
		CompilerDigest: compilerDigest,
		Args:           info.args,
		Cwd:            cwd,
		Source:         source,
		Preprocess: func(ctx context.Context) ([]byte, error) {
			ppArgs := append(append([]string{}, args...), "-E")
			res, err := execexec.Run(ctx, cwd, compiler, ppArgs, nil)
			if err != nil {
				return nil, err
			}
			if res.ExitCode != 0 {
				return nil, fmt.Errorf("preprocessor exited %d: %s", res.ExitCode, res.Stderr)
			}
			return res.Stdout, nil
		},
		Compile: func(ctx context.Context) (*core.Serializer, error) {
			res, err := execexec.Run(ctx, cwd, compiler, args, nil)
			if err != nil {
				return nil, err
			}
			if res.ExitCode != 0 {
				os.Stderr.Write(res.Stderr)
				return nil, fmt.Errorf("compile_failed")
			}
			objData, err := os.ReadFile(info.objectPath)
			if err != nil {
				return nil, fmt.Errorf("compiler_produced_no_output: %w", err)
			}
			if len(objData) == 0 {
				return nil, fmt.Errorf("compiler_produced_empty_output")
			}

			ser := core.NewSerializer()
			ser.AddEmbedded(core.FileObject, objData)
			if len(res.Stderr) > 0 {
				ser.AddEmbedded(core.FileStderrOutput, execexec.StripANSI(res.Stderr))
			}
			if len(res.Stdout) > 0 {
				ser.AddEmbedded(core.FileStdoutOutput, res.Stdout)
			}
			if info.depPath != "" {
				if depData, derr := os.ReadFile(info.depPath); derr == nil {
					ser.AddEmbedded(core.FileDependency, depData)
				}
			}
			return ser, nil
		},
	}
	return inv, info, true
}

func digestCompiler(path string) (hash.Digest, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		resolved = path
	}
	h := hash.New()
	h.Delimit("compiler_check")
	if info, statErr := os.Stat(resolved); statErr == nil {
		h.UpdateInt64(info.Size())
		h.UpdateInt64(info.ModTime().UnixNano())
	} else {
		h.Update([]byte(resolved))
	}
	return h.Digest(), nil
}

// retrieve writes a cache-hit result's records to their real destinations:
// the object file to info.objectPath (hard-linked from the store when the
// entry carries a raw record), stderr/stdout replayed to the console
// (ANSI-stripped per spec §7's diagnostic-rewrite rule), and the dependency
// file to info.depPath if the compile produced one.
func retrieve(cache *ccache.Cache, res *ccache.LookupResult, info argInfo) error {
	payload := res.Result.Serialize()
	return core.DeserializeResult(payload, &retrieveVisitor{cache: cache, key: res.Key, info: info})
}

type retrieveVisitor struct {
	cache *ccache.Cache
	key   hash.Digest
	info  argInfo
}

func (v *retrieveVisitor) OnEmbedded(n int, t core.FileType, data []byte) error {
	switch t {
	case core.FileObject:
		return os.WriteFile(v.info.objectPath, data, 0o644)
	case core.FileStderrOutput:
		_, err := os.Stderr.Write(data)
		return err
	case core.FileStdoutOutput:
		_, err := os.Stdout.Write(data)
		return err
	case core.FileDependency:
		if v.info.depPath == "" {
			return nil
		}
		return os.WriteFile(v.info.depPath, data, 0o644)
	default:
		return nil
	}
}

func (v *retrieveVisitor) OnRaw(n int, t core.FileType, size int64) error {
	switch t {
	case core.FileObject:
		return v.cache.RetrieveRawFile(v.key, n, v.info.objectPath)
	case core.FileDwarfObject:
		dwo := strings.TrimSuffix(v.info.objectPath, filepath.Ext(v.info.objectPath)) + ".dwo"
		return v.cache.RetrieveRawFile(v.key, n, dwo)
	case core.FileDependency:
		if v.info.depPath == "" {
			return nil
		}
		return v.cache.RetrieveRawFile(v.key, n, v.info.depPath)
	default:
		return nil
	}
}

// cliConfig is the subset of ccache.Config the CLI front end reads directly
// (ignore_options isn't part of the façade's own Config since it's an
// argument-classification concern, not an orchestration one).
type cliConfig struct {
	ignoreOptions []string
}
