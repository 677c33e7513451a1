package problem

import (
	"fmt"
	"strconv"

	"judgecore/internal/language"
)

// CaseKind tags which judging strategy a Case requires, replacing the
// duck-typed "anything with a judge(package) method" pattern with an
// explicit union dispatched by the runner.
type CaseKind int

const (
	// DefaultCase is judged by comparing captured stdout against a
	// fixed expected-output stream (component G).
	DefaultCase CaseKind = iota
	// CustomJudgeCase hands the user's output to a second sandboxed
	// judge program, which decides the verdict (component H).
	CustomJudgeCase
	// SyntheticCase is constructed directly by a caller (tests, or a
	// "run custom input" feature) rather than loaded from a bundle.
	SyntheticCase
)

func (k CaseKind) String() string {
	switch k {
	case DefaultCase:
		return "default"
	case CustomJudgeCase:
		return "custom_judge"
	case SyntheticCase:
		return "synthetic"
	default:
		return "unknown"
	}
}

// Case is one test case yielded by Config.Cases, carrying everything
// component G/H need to judge a package against it.
type Case struct {
	Index            int
	Kind             CaseKind
	Category         string
	Score            int
	TimeLimitNs      int64
	MemoryLimitBytes int64

	// Override replaces the submitted package's own executable/argv for
	// this case only (the per-case execute_file/execute_args fields).
	Override *language.ExecOverride

	// Default-case fields.
	OpenInput  InputSource
	OpenOutput InputSource

	// Custom-judge fields.
	OpenJudgeSource InputSource
	JudgeLanguage   string
}

// NewSyntheticCase builds a Case from in-memory input/expected-output
// bytes, bypassing the bundle entirely. Used for ad hoc single-case runs
// (e.g. a "test against custom input" feature) that have no backing
// archive member.
func NewSyntheticCase(index int, input, output []byte, timeLimitNs, memoryLimitBytes int64, score int) Case {
	return Case{
		Index:            index,
		Kind:             SyntheticCase,
		Category:         "synthetic",
		Score:            score,
		TimeLimitNs:      timeLimitNs,
		MemoryLimitBytes: memoryLimitBytes,
		OpenInput:  InMemorySource{Data: input},
		OpenOutput: InMemorySource{Data: output},
	}
}

// NewAPlusBCase builds the synthetic "A+B" case: its input is "a b\n" and
// its expected output is the decimal sum a+b, computed when opened.
func NewAPlusBCase(index int, a, b int64, timeLimitNs, memoryLimitBytes int64, score int) Case {
	c := NewSyntheticCase(index, []byte(fmt.Sprintf("%d %d\n", a, b)), nil, timeLimitNs, memoryLimitBytes, score)
	c.OpenOutput = JudgeProducedSource{Gen: func() ([]byte, error) {
		return []byte(strconv.FormatInt(a+b, 10)), nil
	}}
	return c
}
