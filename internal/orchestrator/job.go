// Package orchestrator implements the per-submission job state machine
// (component I): RECEIVE -> PREPARE -> COMPILING -> JUDGING -> DONE,
// with short-circuits to COMPILE_ERROR or SYSTEM_ERROR. Grounded on
// original_source/jd4/daemon.py's JudgeHandler.do_record/build/judge
// control flow and judge_service/internal/sandbox/worker.go's Execute
// for the Go-idiomatic shape (explicit dependency struct, typed result,
// no global session state).
package orchestrator

import (
	"context"
	"time"

	"judgecore/internal/language"
	"judgecore/internal/metrics"
	"judgecore/internal/problem"
	"judgecore/internal/transport"
	"judgecore/internal/verdict"
	appErr "judgecore/pkg/errors"
)

// CaseRunner judges one case against an installed submission package.
// internal/runner.DefaultCaseRunner and internal/runner.CustomJudgeRunner
// both satisfy this.
type CaseRunner interface {
	Judge(ctx context.Context, pkg *language.Package, c problem.Case) verdict.CaseResult
}

// ProblemSource resolves a submission's (domain, problem) pair to an
// opened problem package, fetching and locally caching the backing ZIP
// as needed. internal/bundlecache implements this in production.
type ProblemSource interface {
	Open(ctx context.Context, domainID, pid string) (*problem.Package, error)
}

// Job wires every dependency one submission's state machine needs. A
// single Job value is reused across submissions; it carries no
// per-submission state itself.
type Job struct {
	Catalog     *language.Catalog
	Builder     *language.Builder
	Problems    ProblemSource
	Default     CaseRunner
	CustomJudge CaseRunner
	Publisher   transport.Publisher
	// Metrics is optional; when nil no instrumentation is recorded.
	Metrics *metrics.Judge
}

// defaultJudgeCategory mirrors original_source/jd4/case.py's
// `judge_category = judge_category or ['pretest']` fallback applied when
// the descriptor carries no explicit category filter.
const defaultJudgeCategory = "pretest"

// Run drives d through the full state machine, publishing next/end
// events as it progresses, and returns the submission's aggregate
// result. A non-nil error only ever indicates a failure the caller
// could not even report (e.g. the publisher itself failed); every
// judging failure is instead folded into the returned aggregate's
// SYSTEM_ERROR/COMPILE_ERROR status, matching spec.md §7's propagation
// rule that case- and build-level errors never abort the process.
func (j *Job) Run(ctx context.Context, d transport.Descriptor) (verdict.AggregateResult, error) {
	agg, runErr := j.runPipeline(ctx, d)
	if runErr != nil {
		agg = verdict.AggregateResult{Status: statusForError(runErr)}
		if pubErr := j.Publisher.Next(ctx, transport.NextEvent{Key: transport.KeyNext, Tag: d.Tag, CompilerText: runErr.Error()}); pubErr != nil {
			return agg, pubErr
		}
	}
	if j.Metrics != nil {
		j.Metrics.SubmissionsTotal.WithLabelValues(string(agg.Status)).Inc()
	}
	if err := j.Publisher.End(ctx, transport.EndEvent{
		Key:      transport.KeyEnd,
		Tag:      d.Tag,
		Status:   string(agg.Status),
		Score:    agg.Score,
		TimeMs:   transport.MsFromNs(agg.TimeUsageNs),
		MemoryKb: transport.KibFromBytes(agg.MemoryUsageBytes),
	}); err != nil {
		return agg, err
	}
	return agg, nil
}

// statusForError maps a pipeline failure to the aggregate status it
// short-circuits to: a compilation failure reports COMPILE_ERROR,
// anything else (missing bundle, unknown language, internal failure)
// reports SYSTEM_ERROR per spec.md §7.
func statusForError(err error) verdict.Status {
	if appErr.Is(err, appErr.CompilationError) {
		return verdict.CompileError
	}
	return verdict.SystemError
}

func (j *Job) runPipeline(ctx context.Context, d transport.Descriptor) (verdict.AggregateResult, error) {
	// PREPARE
	if _, ok := j.Catalog.Lookup(d.Lang); !ok {
		return verdict.AggregateResult{}, appErr.Newf(appErr.LanguageNotSupported, "unknown language %q", d.Lang)
	}
	pkg, err := j.Problems.Open(ctx, d.DomainID, d.PID)
	if err != nil {
		return verdict.AggregateResult{}, err
	}
	defer pkg.Close()

	category := d.JudgeCategory
	if category == "" {
		category = defaultJudgeCategory
	}
	cases, err := pkg.Config.Cases(problem.CategorySet(category))
	if err != nil {
		return verdict.AggregateResult{}, err
	}

	// COMPILING
	if err := j.Publisher.Next(ctx, transport.NextEvent{Key: transport.KeyNext, Tag: d.Tag, Status: string(verdict.Compiling)}); err != nil {
		return verdict.AggregateResult{}, err
	}
	override, err := pkg.Config.LanguageOverride(d.Lang)
	if err != nil {
		return verdict.AggregateResult{}, err
	}
	compileStart := time.Now()
	build, buildErr := j.Builder.Build(ctx, d.Lang, d.Code, codeKindFrom(d.CodeType), override, pkg.Config.CompileTimeFiles(), pkg.Config.RuntimeFiles())
	if j.Metrics != nil {
		j.Metrics.CompileDuration.Observe(time.Since(compileStart).Seconds())
		j.Metrics.CompileTotal.WithLabelValues(compileOutcome(buildErr)).Inc()
	}
	if err := j.Publisher.Next(ctx, transport.NextEvent{Key: transport.KeyNext, Tag: d.Tag, CompilerText: build.Message}); err != nil {
		return verdict.AggregateResult{}, err
	}
	if buildErr != nil {
		return verdict.AggregateResult{}, buildErr
	}
	userPkg := build.Package
	defer userPkg.Close()

	// JUDGING
	return j.judgeAll(ctx, d, userPkg, cases)
}

// judgeAll schedules every case concurrently (bounded only by however
// many sandboxes the shared pool can hand out), but reports progress in
// submission order, per spec.md §5's ordering guarantee. In-flight cases
// run against a context detached from ctx's cancellation so a dropped
// upstream transport can never orphan a sandboxed child mid-execution:
// once started, every case runs to completion whether or not ctx is
// cancelled.
func (j *Job) judgeAll(ctx context.Context, d transport.Descriptor, userPkg *language.Package, cases []problem.Case) (verdict.AggregateResult, error) {
	if err := j.Publisher.Next(ctx, transport.NextEvent{Key: transport.KeyNext, Tag: d.Tag, Status: string(verdict.Judging), Progress: 0}); err != nil {
		return verdict.AggregateResult{}, err
	}

	shielded := context.WithoutCancel(ctx)
	results := make([]verdict.CaseResult, len(cases))
	done := make([]chan struct{}, len(cases))
	for i, c := range cases {
		i, c := i, c
		done[i] = make(chan struct{})
		go func() {
			defer close(done[i])
			start := time.Now()
			res := j.runnerFor(c).Judge(shielded, userPkg, c)
			if j.Metrics != nil {
				j.Metrics.CaseDuration.WithLabelValues(string(res.Status)).Observe(time.Since(start).Seconds())
				j.Metrics.CasesTotal.WithLabelValues(string(res.Status)).Inc()
			}
			results[i] = res
		}()
	}

	var agg verdict.AggregateResult
	agg.Status = verdict.Accepted
	for i := range cases {
		// Awaiting strictly in submission order reports progress in order
		// even though every case is already running concurrently above;
		// a later case finishing first just waits here until its turn.
		<-done[i]
		res := results[i]
		agg.Accumulate(res)
		ev := transport.CaseEvent{
			Status:        string(res.Status),
			Score:         res.Score,
			TimeMs:        transport.MsFromNs(res.TimeUsageNs),
			MemoryKb:      transport.KibFromBytes(res.MemoryUsageBytes),
			Stderr:        res.StderrSnippet,
			ExecuteStatus: res.RawExitStatus,
		}
		if d.ShowDetail {
			ev.Stdout = res.StdoutSnippet
			ev.Answer = res.ExpectedSnippet
		}
		if err := j.Publisher.Next(ctx, transport.NextEvent{
			Key:      transport.KeyNext,
			Tag:      d.Tag,
			Status:   string(verdict.Judging),
			Case:     &ev,
			Progress: (i + 1) * 100 / len(cases),
		}); err != nil {
			return agg, err
		}
	}
	return agg, nil
}

func (j *Job) runnerFor(c problem.Case) CaseRunner {
	if c.Kind == problem.CustomJudgeCase {
		return j.CustomJudge
	}
	return j.Default
}

func compileOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case appErr.Is(err, appErr.CompilationError):
		return "compile_error"
	default:
		return "system_error"
	}
}

func codeKindFrom(t transport.CodeType) language.CodeKind {
	switch t {
	case transport.CodeTar:
		return language.Tar
	case transport.CodeZip:
		return language.Zip
	case transport.CodeRar:
		return language.Rar
	default:
		return language.Text
	}
}
