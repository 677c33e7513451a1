package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
)

// fakehandle is an in-process Handle with no real namespace, chroot or
// seccomp isolation: it runs Call/Marshal directly on the host inside a
// pair of temporary directories. It exists so the end-to-end scenarios
// in spec.md §8 are deterministic and portable, matching the role of
// internal/judge/sandbox/engine/engine_stub.go's !linux fallback, but
// functional rather than a no-op.
type fakehandle struct {
	id     string
	root   string
	inDir  string
	outDir string
}

// NewFakeHandle creates a functional, unisolated Handle rooted under
// dir. The tests use it, and so does cmd/judged, which builds its whole
// sandbox pool from these handles.
func NewFakeHandle(dir string) (Handle, error) {
	id := uuid.NewString()
	root := filepath.Join(dir, id)
	in := filepath.Join(root, "in")
	out := filepath.Join(root, "out")
	for _, d := range []string{in, out} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, err
		}
	}
	return &fakehandle{id: id, root: root, inDir: in, outDir: out}, nil
}

func (h *fakehandle) ID() string     { return h.id }
func (h *fakehandle) InDir() string  { return h.inDir }
func (h *fakehandle) OutDir() string { return h.outDir }

func (h *fakehandle) Reset(ctx context.Context) error {
	for _, d := range []string{h.inDir, h.outDir} {
		if err := os.RemoveAll(d); err != nil {
			return err
		}
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}

// Call runs req.ExecutablePath directly on the host, wiring stdio to the
// named FIFO/file paths. It does not attempt cgroup attachment; resource
// accounting for fakehandle-driven tests is performed by the caller's
// own wall-clock/usage bookkeeping, not by internal/cgroupctl.
//
// Materialised files (source, installed packages) land in InDir, so the
// child runs with InDir as its working directory; afterwards InDir is
// mirrored into OutDir so a caller that harvests compiled output via
// OutDir (the real contract — guest-writable, host-readable) still finds
// it, without this unisolated double needing two real mount namespaces.
func (h *fakehandle) Call(ctx context.Context, kind CallKind, req CallRequest) (CallResult, error) {
	cmd := exec.CommandContext(ctx, req.ExecutablePath, req.Argv...)
	cmd.Env = req.Env
	cmd.Dir = h.inDir

	if req.Stdin != "" {
		f, err := os.Open(req.Stdin)
		if err != nil {
			return CallResult{}, err
		}
		defer f.Close()
		cmd.Stdin = f
	}
	if req.Stdout != "" {
		f, err := os.OpenFile(req.Stdout, os.O_WRONLY, 0)
		if err != nil {
			return CallResult{}, err
		}
		defer f.Close()
		cmd.Stdout = f
	}
	if req.Stderr != "" {
		f, err := os.OpenFile(req.Stderr, os.O_WRONLY, 0)
		if err != nil {
			return CallResult{}, err
		}
		defer f.Close()
		cmd.Stderr = f
	}

	runErr := cmd.Run()
	if err := mirrorTree(h.inDir, h.outDir); err != nil {
		return CallResult{}, err
	}
	return CallResult{ExitStatus: exitStatus(runErr)}, nil
}

// mirrorTree copies every file under src into dst, overwriting existing
// entries.
func mirrorTree(src, dst string) error {
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if info.Mode()&os.ModeNamedPipe != 0 {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}

func (h *fakehandle) Marshal(ctx context.Context, fn func() error) error {
	return fn()
}

// exitStatus converts a exec.Cmd error into spec.md's convention:
// non-negative for a normal exit, negative of the signal number when
// killed by a signal.
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return -1
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return exitErr.ExitCode()
}
