// Package language implements the language registry & builder
// (component E): a table of known languages, dispatch to a compiler or
// interpreter build, and the compile step run under a resource
// controller inside a sandbox.
package language

import (
	"context"
	"os"

	"judgecore/internal/sandbox"
)

// CodeKind says how a submission's code blob is encoded.
type CodeKind int

const (
	Text CodeKind = iota
	Tar
	Zip
	Rar
)

// Kind distinguishes a Compiler language entry from an Interpreter one.
type Kind int

const (
	CompilerKind Kind = iota
	InterpreterKind
)

// Entry is one row of the language table, keyed by name in a Catalog.
type Entry struct {
	Name           string
	Kind           Kind
	SourceFilename string

	// Compiler-only fields.
	CompilerFile string
	CompilerArgv []string
	TimeLimitNs  int64
	MemoryLimit  int64
	ProcessLimit int64

	ExecuteFile string
	ExecuteArgv []string
}

// Override carries a problem's per-submission language override
// (config.yaml's languages[] entry matching the submission's language),
// which takes precedence over the catalog entry's own compiler/execute
// fields.
type Override struct {
	CompilerFile string
	CompilerArgv []string
	ExecuteFile  string
	ExecuteArgv  []string
}

func (e Entry) withOverride(o *Override) Entry {
	if o == nil {
		return e
	}
	merged := e
	if o.CompilerFile != "" {
		merged.CompilerFile = o.CompilerFile
	}
	if len(o.CompilerArgv) > 0 {
		merged.CompilerArgv = o.CompilerArgv
	}
	if o.ExecuteFile != "" {
		merged.ExecuteFile = o.ExecuteFile
	}
	if len(o.ExecuteArgv) > 0 {
		merged.ExecuteArgv = o.ExecuteArgv
	}
	return merged
}

// Package is an immutable, materialised artifact ready to execute: a
// host-disk directory holding the package's files directly (it has no
// package/ subdirectory), the absolute
// executable path inside a sandbox, and its argv. Package.Close removes
// the host directory; callers must call it exactly once when the last
// reference is dropped.
type Package struct {
	Dir            string
	ExecutablePath string
	Argv           []string
}

// Close deletes the package's host-disk directory.
func (p *Package) Close() error {
	if p.Dir == "" {
		return nil
	}
	return os.RemoveAll(p.Dir)
}

// ExecOverride lets a single Install call override the package's own
// default executable/argv (spec.md's per-case execute_file/execute_args
// override, threaded through from the problem descriptor).
type ExecOverride struct {
	ExecutablePath string
	Argv           []string
}

// Executable is a (executable_path, argv) pair bound to a specific
// sandbox handle. Valid until that handle is reset.
type Executable struct {
	Handle         sandbox.Handle
	ExecutablePath string
	Argv           []string
}

// Install copies the package into h's execution directory and returns a
// handle-bound Executable. If override is non-nil, each of its fields
// that is set replaces the package's own default independently — a case
// may override just ExecutablePath or just Argv — matching
// original_source/jd4's Package.install(execute_file=None,
// execute_args=None) falling back per-field rather than wholesale.
func (p *Package) Install(ctx context.Context, h sandbox.Handle, override *ExecOverride) (Executable, error) {
	if err := copyTree(p.Dir, h.InDir()); err != nil {
		return Executable{}, err
	}
	exe := Executable{Handle: h, ExecutablePath: p.ExecutablePath, Argv: p.Argv}
	if override != nil {
		if override.ExecutablePath != "" {
			exe.ExecutablePath = override.ExecutablePath
		}
		if len(override.Argv) > 0 {
			exe.Argv = override.Argv
		}
	}
	return exe, nil
}
