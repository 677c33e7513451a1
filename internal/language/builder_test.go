package language

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildInterpreterWritesSourceVerbatim(t *testing.T) {
	catalog := NewCatalog([]Entry{{
		Name:           "python3",
		Kind:           InterpreterKind,
		SourceFilename: "main.py",
		ExecuteFile:    "/usr/bin/python3",
		ExecuteArgv:    []string{"/usr/bin/python3", "main.py"},
	}})
	b := &Builder{Catalog: catalog, WorkRoot: t.TempDir()}

	res, err := b.Build(context.Background(), "python3", []byte("print(1)"), Text, nil, nil, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer res.Package.Close()

	data, err := os.ReadFile(filepath.Join(res.Package.Dir, "main.py"))
	if err != nil {
		t.Fatalf("read source: %v", err)
	}
	if string(data) != "print(1)" {
		t.Fatalf("got %q", data)
	}
}

func TestBuildUnknownLanguage(t *testing.T) {
	catalog := NewCatalog(nil)
	b := &Builder{Catalog: catalog, WorkRoot: t.TempDir()}

	_, err := b.Build(context.Background(), "cobol", []byte("x"), Text, nil, nil, nil)
	if err == nil {
		t.Fatal("expected error for unknown language")
	}
}

func TestExpandCompileCommand(t *testing.T) {
	entry := Entry{
		SourceFilename: "main.cpp",
		ExecuteFile:    "a.out",
		CompilerArgv:   []string{"g++", "-O2", "-o", "{bin}", "{src}"},
	}
	argv, err := expandCompileCommand(entry)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	want := []string{"g++", "-O2", "-o", "a.out", "main.cpp"}
	if len(argv) != len(want) {
		t.Fatalf("got %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Fatalf("got %v, want %v", argv, want)
		}
	}
}

func TestOverrideMergesOverEntry(t *testing.T) {
	entry := Entry{ExecuteFile: "default", ExecuteArgv: []string{"default"}}
	merged := entry.withOverride(&Override{ExecuteFile: "custom"})
	if merged.ExecuteFile != "custom" {
		t.Fatalf("got %q, want custom", merged.ExecuteFile)
	}
	if len(merged.ExecuteArgv) != 1 || merged.ExecuteArgv[0] != "default" {
		t.Fatalf("argv should stay default when override doesn't set it, got %v", merged.ExecuteArgv)
	}
}
