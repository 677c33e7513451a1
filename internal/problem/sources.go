// Package problem implements the problem-package loader (component F):
// a case-insensitive ZIP bundle reader, the YAML descriptor schema, and
// a lazy, category-filtered sequence of cases.
package problem

import (
	"bytes"
	"io"
)

// InputSource is a restartable byte-stream producer: each Open call
// yields a fresh stream positioned at zero, per spec.md §3's
// open_input/open_output contract.
type InputSource interface {
	Open() (io.ReadCloser, error)
}

// InMemorySource serves a fixed byte slice, used for synthetic cases
// and for small blobs materialised ahead of time.
type InMemorySource struct {
	Data []byte
}

func (s InMemorySource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.Data)), nil
}

// ArchiveMemberSource reads a named member of a Bundle fresh on every
// Open call.
type ArchiveMemberSource struct {
	Bundle *Bundle
	Name   string
}

func (s ArchiveMemberSource) Open() (io.ReadCloser, error) {
	return s.Bundle.Open(s.Name)
}

// JudgeProducedSource defers to a generator function, for content that
// is not a static archive member (e.g. the synthetic case's computed
// expected output).
type JudgeProducedSource struct {
	Gen func() ([]byte, error)
}

func (s JudgeProducedSource) Open() (io.ReadCloser, error) {
	data, err := s.Gen()
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
