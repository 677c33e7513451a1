package orchestrator

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"judgecore/internal/cgroupctl"
	"judgecore/internal/language"
	"judgecore/internal/problem"
	"judgecore/internal/sandbox"
	"judgecore/internal/transport"
	"judgecore/internal/verdict"
)

// fakeController calls exec directly, with no wall timer, and reports
// zero usage; see internal/runner's timer-racing test double for why a
// plain host command can't drive the real attach-before-exec handshake.
type fakeController struct{}

func (fakeController) Run(ctx context.Context, sockDir, runID string, limits cgroupctl.Limits, exec cgroupctl.ExecFunc) (cgroupctl.Usage, cgroupctl.ExecResult, error) {
	res, err := exec(ctx)
	return cgroupctl.Usage{}, res, err
}

func buildZip(t *testing.T, files map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "bundle.zip")
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	return p
}

// fakeProblemSource opens a fixed bundle path regardless of the
// (domainID, pid) it is asked for, recording whether it was ever called.
type fakeProblemSource struct {
	path    string
	opened  bool
	failErr error
}

func (s *fakeProblemSource) Open(ctx context.Context, domainID, pid string) (*problem.Package, error) {
	s.opened = true
	if s.failErr != nil {
		return nil, s.failErr
	}
	return problem.Load(s.path)
}

// fakeRunner returns a fixed verdict for every case, after an optional
// per-case delay, so tests can force completion order to differ from
// submission order without needing a real sandbox.
type fakeRunner struct {
	mu     sync.Mutex
	status verdict.Status
	score  int
	delay  map[int]time.Duration
	called []int
}

func (r *fakeRunner) Judge(ctx context.Context, pkg *language.Package, c problem.Case) verdict.CaseResult {
	if d, ok := r.delay[c.Index]; ok {
		time.Sleep(d)
	}
	r.mu.Lock()
	r.called = append(r.called, c.Index)
	r.mu.Unlock()
	return verdict.CaseResult{Index: c.Index, Status: r.status, Score: r.score}
}

// perCaseRunner looks up its verdict and an optional delay by case
// index, for tests that need distinguishable outcomes and/or completion
// order across cases of the same submission.
type perCaseRunner struct {
	byIndex map[int]verdict.CaseResult
	delay   map[int]time.Duration
}

func (r *perCaseRunner) Judge(ctx context.Context, pkg *language.Package, c problem.Case) verdict.CaseResult {
	if d, ok := r.delay[c.Index]; ok {
		time.Sleep(d)
	}
	return r.byIndex[c.Index]
}

// failIfCalledRunner fails the test if it is ever invoked, for asserting
// that JUDGING never runs after a short-circuit.
type failIfCalledRunner struct {
	t *testing.T
}

func (r failIfCalledRunner) Judge(ctx context.Context, pkg *language.Package, c problem.Case) verdict.CaseResult {
	r.t.Fatal("case runner invoked after a pipeline short-circuit")
	return verdict.CaseResult{}
}

// recordingPublisher captures every event in call order.
type recordingPublisher struct {
	mu    sync.Mutex
	nexts []transport.NextEvent
	ends  []transport.EndEvent
}

func (p *recordingPublisher) Next(ctx context.Context, ev transport.NextEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nexts = append(p.nexts, ev)
	return nil
}

func (p *recordingPublisher) End(ctx context.Context, ev transport.EndEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ends = append(p.ends, ev)
	return nil
}

const shBundleConfig = `
languages:
  - language: sh
cases:
  - input: input1.txt
    output: output1.txt
    time: 1s
    memory: 256m
    score: 10
    category: pretest
  - input: input2.txt
    output: output2.txt
    time: 1s
    memory: 256m
    score: 5
    category: main
`

func interpreterCatalog() *language.Catalog {
	return language.NewCatalog([]language.Entry{{
		Name:           "sh",
		Kind:           language.InterpreterKind,
		SourceFilename: "main.sh",
		ExecuteFile:    "/bin/sh",
		ExecuteArgv:    []string{"/bin/sh", "main.sh"},
	}})
}

func newInterpreterJob(t *testing.T, bundlePath string, runner CaseRunner, pub transport.Publisher) (*Job, *fakeProblemSource) {
	t.Helper()
	src := &fakeProblemSource{path: bundlePath}
	builder := &language.Builder{Catalog: interpreterCatalog(), WorkRoot: t.TempDir()}
	return &Job{
		Catalog:     interpreterCatalog(),
		Builder:     builder,
		Problems:    src,
		Default:     runner,
		CustomJudge: runner,
		Publisher:   pub,
	}, src
}

func TestJobAcceptedSingleCaseEmitsEventsInOrder(t *testing.T) {
	bundle := buildZip(t, map[string]string{
		"config.yaml": shBundleConfig,
		"input1.txt":  "1 2\n",
		"output1.txt": "3\n",
		"input2.txt":  "1 1\n",
		"output2.txt": "2\n",
	})
	runner := &fakeRunner{status: verdict.Accepted, score: 10}
	pub := &recordingPublisher{}
	job, src := newInterpreterJob(t, bundle, runner, pub)

	agg, err := job.Run(context.Background(), transport.Descriptor{
		Tag: "t1", Lang: "sh", Code: []byte("echo hi"), ShowDetail: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !src.opened {
		t.Fatal("problem source was never opened")
	}
	if agg.Status != verdict.Accepted || agg.Score != 10 {
		t.Fatalf("got aggregate %+v, want ACCEPTED/10", agg)
	}
	// Only the pretest-category case should have been scheduled: the
	// empty JudgeCategory falls back to "pretest" alone.
	if len(runner.called) != 1 || runner.called[0] != 1 {
		t.Fatalf("got called cases %v, want [1]", runner.called)
	}

	if len(pub.nexts) != 4 {
		t.Fatalf("got %d next events, want 4 (compiling, compiler_text, judging, case)", len(pub.nexts))
	}
	if pub.nexts[0].Status != string(verdict.Compiling) {
		t.Fatalf("first event status = %q, want COMPILING", pub.nexts[0].Status)
	}
	if pub.nexts[2].Status != string(verdict.Judging) || pub.nexts[2].Progress != 0 {
		t.Fatalf("third event = %+v, want JUDGING/progress 0", pub.nexts[2])
	}
	last := pub.nexts[3]
	if last.Case == nil || last.Case.Status != "ACCEPTED" || last.Case.Score != 10 || last.Progress != 100 {
		t.Fatalf("got case event %+v, want ACCEPTED/10/progress 100", last.Case)
	}
	if len(pub.ends) != 1 || pub.ends[0].Status != "ACCEPTED" || pub.ends[0].Score != 10 {
		t.Fatalf("got end event %+v, want ACCEPTED/10", pub.ends)
	}
}

func TestJobUnknownLanguageIsSystemErrorWithoutOpeningBundle(t *testing.T) {
	pub := &recordingPublisher{}
	job, src := newInterpreterJob(t, "/does/not/matter", failIfCalledRunner{t}, pub)

	agg, err := job.Run(context.Background(), transport.Descriptor{Tag: "t2", Lang: "cobol"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if src.opened {
		t.Fatal("problem source should not be opened for an unknown language")
	}
	if agg.Status != verdict.SystemError {
		t.Fatalf("got status %v, want SYSTEM_ERROR", agg.Status)
	}
	if len(pub.ends) != 1 || pub.ends[0].Status != "SYSTEM_ERROR" {
		t.Fatalf("got end event %+v, want SYSTEM_ERROR", pub.ends)
	}
}

func TestJobCompileErrorShortCircuitsBeforeJudging(t *testing.T) {
	bundle := buildZip(t, map[string]string{
		"config.yaml": `
languages:
  - language: cxx
cases:
  - input: input1.txt
    output: output1.txt
    time: 1s
    memory: 256m
    score: 10
`,
		"input1.txt":  "1 2\n",
		"output1.txt": "3\n",
	})

	catalog := language.NewCatalog([]language.Entry{{
		Name:           "cxx",
		Kind:           language.CompilerKind,
		SourceFilename: "main.cpp",
		CompilerFile:   "/bin/false",
		CompilerArgv:   []string{"/bin/false"},
		ExecuteFile:    "/main",
		TimeLimitNs:    time.Second.Nanoseconds(),
		MemoryLimit:    256 << 20,
		ProcessLimit:   16,
	}})
	pool := sandbox.NewPool(mustFakeHandles(t, 1))
	builder := &language.Builder{Catalog: catalog, Pool: pool, Controller: fakeController{}, WorkRoot: t.TempDir()}
	pub := &recordingPublisher{}
	job := &Job{
		Catalog:     catalog,
		Builder:     builder,
		Problems:    &fakeProblemSource{path: bundle},
		Default:     failIfCalledRunner{t},
		CustomJudge: failIfCalledRunner{t},
		Publisher:   pub,
	}

	agg, err := job.Run(context.Background(), transport.Descriptor{Tag: "t3", Lang: "cxx", Code: []byte("int main(){}")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if agg.Status != verdict.CompileError {
		t.Fatalf("got status %v, want COMPILE_ERROR", agg.Status)
	}
	if len(pub.ends) != 1 || pub.ends[0].Status != "COMPILE_ERROR" {
		t.Fatalf("got end event %+v, want COMPILE_ERROR", pub.ends)
	}
	if pool.Len() != 1 {
		t.Fatalf("compiler sandbox not returned to pool: free=%d", pool.Len())
	}
}

func TestJobProgressEventsFollowSubmissionOrderNotCompletionOrder(t *testing.T) {
	bundle := buildZip(t, map[string]string{
		"config.yaml": `
languages:
  - language: sh
cases:
  - input: input1.txt
    output: output1.txt
    time: 1s
    memory: 256m
    score: 5
    category: pretest
  - input: input2.txt
    output: output2.txt
    time: 1s
    memory: 256m
    score: 5
    category: pretest
`,
		"input1.txt":  "",
		"output1.txt": "",
		"input2.txt":  "",
		"output2.txt": "",
	})
	// Case 1 is delayed so case 2 actually finishes first; the reported
	// case events must still appear in submission order (1, then 2),
	// distinguished here by their distinct scores.
	runner := &perCaseRunner{
		byIndex: map[int]verdict.CaseResult{
			1: {Index: 1, Status: verdict.Accepted, Score: 3},
			2: {Index: 2, Status: verdict.Accepted, Score: 7},
		},
		delay: map[int]time.Duration{1: 30 * time.Millisecond},
	}
	pub := &recordingPublisher{}
	job, _ := newInterpreterJob(t, bundle, runner, pub)

	agg, err := job.Run(context.Background(), transport.Descriptor{Tag: "t4", Lang: "sh", Code: []byte("x"), JudgeCategory: "pretest"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if agg.Score != 10 {
		t.Fatalf("got score %d, want 10", agg.Score)
	}
	var caseEvents []*transport.CaseEvent
	for _, ev := range pub.nexts {
		if ev.Case != nil {
			caseEvents = append(caseEvents, ev.Case)
		}
	}
	if len(caseEvents) != 2 {
		t.Fatalf("got %d case events, want 2", len(caseEvents))
	}
	if caseEvents[0].Score != 3 || caseEvents[1].Score != 7 {
		t.Fatalf("got case scores [%d, %d], want [3, 7] in submission order despite case 2 finishing first", caseEvents[0].Score, caseEvents[1].Score)
	}
}

func TestJobAggregateIsMaxStatusAcrossCases(t *testing.T) {
	bundle := buildZip(t, map[string]string{
		"config.yaml": `
languages:
  - language: sh
cases:
  - input: input1.txt
    output: output1.txt
    time: 1s
    memory: 256m
    score: 5
    category: pretest
  - input: input2.txt
    output: output2.txt
    time: 1s
    memory: 256m
    score: 5
    category: pretest
`,
		"input1.txt":  "",
		"output1.txt": "",
		"input2.txt":  "",
		"output2.txt": "",
	})
	runner := &perCaseRunner{byIndex: map[int]verdict.CaseResult{
		1: {Index: 1, Status: verdict.Accepted, Score: 5},
		2: {Index: 2, Status: verdict.WrongAnswer, Score: 0},
	}}
	pub := &recordingPublisher{}
	job, _ := newInterpreterJob(t, bundle, runner, pub)

	agg, err := job.Run(context.Background(), transport.Descriptor{Tag: "t5", Lang: "sh", Code: []byte("x"), JudgeCategory: "pretest"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if agg.Status != verdict.WrongAnswer || agg.Score != 5 {
		t.Fatalf("got aggregate %+v, want WRONG_ANSWER/5", agg)
	}
}

func mustFakeHandles(t *testing.T, n int) []sandbox.Handle {
	t.Helper()
	handles := make([]sandbox.Handle, n)
	for i := range handles {
		h, err := sandbox.NewFakeHandle(t.TempDir())
		if err != nil {
			t.Fatalf("new fake handle: %v", err)
		}
		handles[i] = h
	}
	return handles
}
