// Package runner implements the default and custom-judge case runners
// (components G and H): one-process and two-process judging pipelines
// built on top of internal/sandbox, internal/cgroupctl, and
// internal/pipeio.
package runner

import (
	"bufio"
	"bytes"
	"io"
)

// compareOutput implements spec.md §4.G's comparator: line-based,
// ignoring trailing whitespace on each line and trailing blank lines at
// end of file on both sides, but treating any other difference —
// including internal whitespace — as a mismatch.
func compareOutput(got, want io.Reader) (bool, error) {
	gotLines, err := readSignificantLines(got)
	if err != nil {
		return false, err
	}
	wantLines, err := readSignificantLines(want)
	if err != nil {
		return false, err
	}
	if len(gotLines) != len(wantLines) {
		return false, nil
	}
	for i := range gotLines {
		if gotLines[i] != wantLines[i] {
			return false, nil
		}
	}
	return true, nil
}

// readSignificantLines splits r on '\n', strips a trailing '\r' from each
// line, right-trims trailing whitespace per line, and drops trailing
// empty lines at end of file.
func readSignificantLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxStdoutCapture)
	for sc.Scan() {
		line := bytes.TrimRight(sc.Bytes(), "\r")
		line = bytes.TrimRight(line, " \t")
		lines = append(lines, string(line))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}
