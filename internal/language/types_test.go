package language

import (
	"context"
	"testing"

	"judgecore/internal/sandbox"
)

func newTestPackage(t *testing.T) *Package {
	t.Helper()
	dir := t.TempDir()
	return &Package{Dir: dir, ExecutablePath: "/pkg/main", Argv: []string{"/pkg/main", "--default"}}
}

func newTestHandle(t *testing.T) sandbox.Handle {
	t.Helper()
	h, err := sandbox.NewFakeHandle(t.TempDir())
	if err != nil {
		t.Fatalf("new fake handle: %v", err)
	}
	return h
}

func TestPackageInstall_NoOverrideUsesDefaults(t *testing.T) {
	pkg := newTestPackage(t)
	h := newTestHandle(t)

	exe, err := pkg.Install(context.Background(), h, nil)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if exe.ExecutablePath != "/pkg/main" {
		t.Errorf("ExecutablePath = %q, want /pkg/main", exe.ExecutablePath)
	}
	if len(exe.Argv) != 2 || exe.Argv[1] != "--default" {
		t.Errorf("Argv = %v, want [/pkg/main --default]", exe.Argv)
	}
}

func TestPackageInstall_ArgvOnlyOverrideKeepsDefaultExecutable(t *testing.T) {
	pkg := newTestPackage(t)
	h := newTestHandle(t)

	exe, err := pkg.Install(context.Background(), h, &ExecOverride{Argv: []string{"/pkg/main", "--case-args"}})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if exe.ExecutablePath != "/pkg/main" {
		t.Errorf("ExecutablePath = %q, want package default /pkg/main", exe.ExecutablePath)
	}
	if len(exe.Argv) != 2 || exe.Argv[1] != "--case-args" {
		t.Errorf("Argv = %v, want [/pkg/main --case-args]", exe.Argv)
	}
}

func TestPackageInstall_ExecutableOnlyOverrideKeepsDefaultArgv(t *testing.T) {
	pkg := newTestPackage(t)
	h := newTestHandle(t)

	exe, err := pkg.Install(context.Background(), h, &ExecOverride{ExecutablePath: "/pkg/other"})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if exe.ExecutablePath != "/pkg/other" {
		t.Errorf("ExecutablePath = %q, want /pkg/other", exe.ExecutablePath)
	}
	if len(exe.Argv) != 2 || exe.Argv[1] != "--default" {
		t.Errorf("Argv = %v, want package default [/pkg/main --default]", exe.Argv)
	}
}

func TestPackageInstall_BothFieldsOverridden(t *testing.T) {
	pkg := newTestPackage(t)
	h := newTestHandle(t)

	exe, err := pkg.Install(context.Background(), h, &ExecOverride{ExecutablePath: "/pkg/other", Argv: []string{"/pkg/other", "--x"}})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if exe.ExecutablePath != "/pkg/other" || len(exe.Argv) != 2 || exe.Argv[1] != "--x" {
		t.Errorf("exe = %+v, want fully overridden", exe)
	}
}
