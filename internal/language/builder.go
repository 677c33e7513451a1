package language

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"judgecore/internal/cgroupctl"
	"judgecore/internal/pipeio"
	"judgecore/internal/sandbox"
	appErr "judgecore/pkg/errors"

	"github.com/google/shlex"
	"github.com/google/uuid"
)

const maxCompileOutput = 20 * 1024 // 20 KiB, per original_source/jd4/compile.py _MAX_OUTPUT

// FileCallback extracts or otherwise manipulates files relative to a
// directory; used for a problem's compile_time_files/runtime_files
// prefix extraction.
type FileCallback func(dir string) error

// BuildResult is the outcome of Builder.Build.
type BuildResult struct {
	Package          *Package // nil on failure
	Message          string
	TimeUsageNs      int64
	MemoryUsageBytes int64
}

// Builder dispatches a submission to a compiler or interpreter build,
// running compilation itself inside a sandbox under resource limits.
type Builder struct {
	Catalog    *Catalog
	Pool       *sandbox.Pool
	Controller cgroupctl.Controller
	WorkRoot   string // host directory under which package directories are created
}

// Build implements component E's build(lang, code_blob, code_kind,
// override, compileTimeFiles, runtimeFiles) operation.
func (b *Builder) Build(ctx context.Context, lang string, codeBlob []byte, codeKind CodeKind, override *Override, compileTimeFiles, runtimeFiles FileCallback) (BuildResult, error) {
	entry, err := b.Catalog.MustLookup(lang)
	if err != nil {
		return BuildResult{}, err
	}
	entry = entry.withOverride(override)

	if entry.Kind == InterpreterKind {
		return b.buildInterpreter(entry, codeBlob, codeKind, runtimeFiles)
	}
	return b.buildCompiler(ctx, entry, codeBlob, codeKind, compileTimeFiles, runtimeFiles)
}

func (b *Builder) buildInterpreter(entry Entry, codeBlob []byte, codeKind CodeKind, runtimeFiles FileCallback) (BuildResult, error) {
	pkgDir, err := b.newPackageDir()
	if err != nil {
		return BuildResult{}, appErr.Wrap(err, appErr.JudgeSystemError)
	}
	if err := materializeBlob(pkgDir, entry.SourceFilename, codeBlob, codeKind); err != nil {
		os.RemoveAll(pkgDir)
		return BuildResult{}, err
	}
	if runtimeFiles != nil {
		if err := runtimeFiles(pkgDir); err != nil {
			os.RemoveAll(pkgDir)
			return BuildResult{}, appErr.Wrap(err, appErr.JudgeSystemError)
		}
	}
	return BuildResult{Package: &Package{Dir: pkgDir, ExecutablePath: entry.ExecuteFile, Argv: entry.ExecuteArgv}}, nil
}

func (b *Builder) buildCompiler(ctx context.Context, entry Entry, codeBlob []byte, codeKind CodeKind, compileTimeFiles, runtimeFiles FileCallback) (BuildResult, error) {
	handles, err := b.Pool.Acquire(ctx, 1)
	if err != nil {
		return BuildResult{}, appErr.Wrap(err, appErr.SandboxPoolExhausted)
	}
	h := handles[0]
	defer b.Pool.Release(h)
	defer h.Reset(ctx)

	if err := materializeBlob(h.InDir(), entry.SourceFilename, codeBlob, codeKind); err != nil {
		return BuildResult{}, err
	}
	if compileTimeFiles != nil {
		if err := compileTimeFiles(h.InDir()); err != nil {
			return BuildResult{}, appErr.Wrap(err, appErr.JudgeSystemError)
		}
	}
	// Reset ownership after extracting an untrusted archive so it cannot
	// smuggle a file owned by the sandbox's privileged side.
	if err := resetOwnership(h.InDir()); err != nil {
		return BuildResult{}, appErr.Wrap(err, appErr.JudgeSystemError)
	}

	argv, err := expandCompileCommand(entry)
	if err != nil {
		return BuildResult{}, err
	}

	stdoutPath := filepath.Join(h.InDir(), "compile.stdout")
	stderrPath := filepath.Join(h.InDir(), "compile.stderr")
	for _, p := range []string{stdoutPath, stderrPath} {
		if err := pipeio.MakeFIFO(p, 0600); err != nil {
			return BuildResult{}, appErr.Wrap(err, appErr.JudgeSystemError)
		}
	}

	runID := uuid.NewString()
	limits := cgroupctl.Limits{
		CPUNs:        entry.TimeLimitNs,
		WallNs:       entry.TimeLimitNs * 3 / 2,
		MemoryBytes:  entry.MemoryLimit,
		ProcessLimit: entry.ProcessLimit,
	}

	var combined []byte
	outDone := make(chan struct{}, 2)
	go func() {
		out, _ := pipeio.ReadBounded(stdoutPath, maxCompileOutput)
		combined = append(combined, out...)
		outDone <- struct{}{}
	}()
	go func() {
		errOut, _ := pipeio.ReadBounded(stderrPath, maxCompileOutput)
		combined = append(combined, errOut...)
		outDone <- struct{}{}
	}()

	usage, callRes, err := b.Controller.Run(ctx, h.InDir(), runID, limits, func(ctx context.Context) (cgroupctl.ExecResult, error) {
		res, err := h.Call(ctx, sandbox.Compile, sandbox.CallRequest{
			ExecutablePath:   entry.CompilerFile,
			Argv:             argv,
			Stdout:           stdoutPath,
			Stderr:           stderrPath,
			CgroupSocketPath: filepath.Join(h.InDir(), "cgroup.sock"),
		})
		return cgroupctl.ExecResult{ExitStatus: res.ExitStatus}, err
	})
	<-outDone
	<-outDone
	if err != nil {
		return BuildResult{}, appErr.Wrap(err, appErr.JudgeSystemError)
	}

	if usage.TimeUsageNs >= entry.TimeLimitNs || usage.MemoryUsageBytes >= entry.MemoryLimit {
		return BuildResult{Message: "compilation exceeded resource limits", TimeUsageNs: usage.TimeUsageNs, MemoryUsageBytes: usage.MemoryUsageBytes},
			appErr.New(appErr.CompilationError).WithMessage("compile time/memory limit exceeded")
	}
	if callRes.ExitStatus != 0 {
		return BuildResult{Message: string(combined), TimeUsageNs: usage.TimeUsageNs, MemoryUsageBytes: usage.MemoryUsageBytes},
			appErr.New(appErr.CompilationError).WithMessage(string(combined))
	}

	pkgDir, err := b.newPackageDir()
	if err != nil {
		return BuildResult{}, appErr.Wrap(err, appErr.JudgeSystemError)
	}
	if err := copyTree(h.OutDir(), pkgDir); err != nil {
		os.RemoveAll(pkgDir)
		return BuildResult{}, appErr.Wrap(err, appErr.JudgeSystemError)
	}
	if runtimeFiles != nil {
		if err := runtimeFiles(pkgDir); err != nil {
			os.RemoveAll(pkgDir)
			return BuildResult{}, appErr.Wrap(err, appErr.JudgeSystemError)
		}
	}

	return BuildResult{
		Package:          &Package{Dir: pkgDir, ExecutablePath: entry.ExecuteFile, Argv: entry.ExecuteArgv},
		Message:          string(combined),
		TimeUsageNs:      usage.TimeUsageNs,
		MemoryUsageBytes: usage.MemoryUsageBytes,
	}, nil
}

func (b *Builder) newPackageDir() (string, error) {
	dir := filepath.Join(b.WorkRoot, "pkg-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// expandCompileCommand substitutes {src}/{bin} placeholders in the
// language's compiler argv template and shell-splits the result,
// matching the teacher's runner.buildCommand template expansion.
func expandCompileCommand(entry Entry) ([]string, error) {
	out := make([]string, 0, len(entry.CompilerArgv))
	for _, tok := range entry.CompilerArgv {
		tok = strings.ReplaceAll(tok, "{src}", entry.SourceFilename)
		tok = strings.ReplaceAll(tok, "{bin}", entry.ExecuteFile)
		fields, err := shlex.Split(tok)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.InvalidFormat, "expand compiler argv token %q", tok)
		}
		out = append(out, fields...)
	}
	if len(out) == 0 {
		return nil, appErr.New(appErr.InvalidFormat).WithMessage("compiler argv is empty after expansion")
	}
	return out, nil
}
