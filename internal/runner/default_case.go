package runner

import (
	"bytes"
	"context"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"judgecore/internal/cgroupctl"
	"judgecore/internal/language"
	"judgecore/internal/pipeio"
	"judgecore/internal/problem"
	"judgecore/internal/sandbox"
	"judgecore/internal/verdict"
	"judgecore/pkg/utils/logger"

	"github.com/google/uuid"
)

const (
	maxStdoutCapture = 128 << 20 // 128 MiB, per spec.md §4.G
	maxStderrCapture = 8 << 10   // 8 KiB, per spec.md §4.G
)

// DefaultCaseRunner judges a package against a single Case by comparing
// captured stdout to the case's expected output (component G).
type DefaultCaseRunner struct {
	Pool       *sandbox.Pool
	Controller cgroupctl.Controller
}

// Judge implements spec.md §4.G's algorithm. It always releases the
// acquired sandbox, even on internal failure, which it reports as
// verdict.SystemError with score 0.
func (r *DefaultCaseRunner) Judge(ctx context.Context, pkg *language.Package, c problem.Case) verdict.CaseResult {
	handles, err := r.Pool.Acquire(ctx, 1)
	if err != nil {
		return systemErrorResult(c.Index, err)
	}
	h := handles[0]
	defer func() {
		// Shield cleanup from the caller's context: a cancelled submission
		// must still reset and return the sandbox to the pool, regardless
		// of whether the reset itself failed.
		resetErr := h.Reset(context.Background())
		r.Pool.Release(h)
		if resetErr != nil {
			logger.Error(ctx, "default case cleanup", zap.Int("case", c.Index), zap.Error(resetErr))
		}
	}()

	res, err := r.judgeInHandle(ctx, h, pkg, c)
	if err != nil {
		return systemErrorResult(c.Index, err)
	}
	return res
}

func (r *DefaultCaseRunner) judgeInHandle(ctx context.Context, h sandbox.Handle, pkg *language.Package, c problem.Case) (verdict.CaseResult, error) {
	exe, err := pkg.Install(ctx, h, c.Override)
	if err != nil {
		return verdict.CaseResult{}, err
	}

	stdinPath := filepath.Join(h.InDir(), "stdin")
	stdoutPath := filepath.Join(h.InDir(), "stdout")
	stderrPath := filepath.Join(h.InDir(), "stderr")
	cgroupSock := filepath.Join(h.InDir(), "cgroup.sock")
	for _, p := range []string{stdinPath, stdoutPath, stderrPath} {
		if err := pipeio.MakeFIFO(p, 0600); err != nil {
			return verdict.CaseResult{}, err
		}
	}

	input, err := c.OpenInput.Open()
	if err != nil {
		return verdict.CaseResult{}, err
	}
	defer input.Close()

	g, gctx := errgroup.WithContext(ctx)

	var stdoutBuf, stderrBuf []byte
	g.Go(func() error {
		return pipeio.WriteFrom(stdinPath, pipeio.DOS2Unix(input))
	})
	g.Go(func() error {
		b, err := pipeio.ReadBounded(stdoutPath, maxStdoutCapture)
		stdoutBuf = b
		return err
	})
	g.Go(func() error {
		b, err := pipeio.ReadBounded(stderrPath, maxStderrCapture)
		stderrBuf = b
		return err
	})

	var usage cgroupctl.Usage
	var execResult cgroupctl.ExecResult
	limits := cgroupctl.Limits{
		CPUNs:        c.TimeLimitNs,
		WallNs:       c.TimeLimitNs * 3 / 2,
		MemoryBytes:  c.MemoryLimitBytes,
		ProcessLimit: language.ProcessLimit,
	}
	runID := uuid.NewString()
	g.Go(func() error {
		u, er, err := r.Controller.Run(gctx, h.InDir(), runID, limits, func(ctx context.Context) (cgroupctl.ExecResult, error) {
			res, err := h.Call(ctx, sandbox.Execute, sandbox.CallRequest{
				ExecutablePath:   exe.ExecutablePath,
				Argv:             exe.Argv,
				Stdin:            stdinPath,
				Stdout:           stdoutPath,
				Stderr:           stderrPath,
				CgroupSocketPath: cgroupSock,
			})
			return cgroupctl.ExecResult{ExitStatus: res.ExitStatus}, err
		})
		usage, execResult = u, er
		return err
	})

	if err := g.Wait(); err != nil {
		return verdict.CaseResult{}, err
	}

	expected, err := c.OpenOutput.Open()
	if err != nil {
		return verdict.CaseResult{}, err
	}
	expectedBuf, err := readAllClose(expected)
	if err != nil {
		return verdict.CaseResult{}, err
	}
	matched, err := compareOutput(bytes.NewReader(stdoutBuf), bytes.NewReader(expectedBuf))
	if err != nil {
		return verdict.CaseResult{}, err
	}

	status := decideDefaultVerdict(usage, execResult, matched, c)
	score := 0
	if status == verdict.Accepted {
		score = c.Score
	}

	return verdict.CaseResult{
		Index:            c.Index,
		Status:           status,
		Score:            score,
		TimeUsageNs:      usage.TimeUsageNs,
		MemoryUsageBytes: usage.MemoryUsageBytes,
		StdoutSnippet:    verdict.Snippet(stdoutBuf),
		StderrSnippet:    verdict.Snippet(stderrBuf),
		ExpectedSnippet:  verdict.Snippet(expectedBuf),
		RawExitStatus:    execResult.ExitStatus,
	}, nil
}

// decideDefaultVerdict applies spec.md §4.G step 5's first-match-wins
// precedence.
func decideDefaultVerdict(usage cgroupctl.Usage, execResult cgroupctl.ExecResult, matched bool, c problem.Case) verdict.Status {
	switch {
	case usage.MemoryUsageBytes >= c.MemoryLimitBytes:
		return verdict.MemoryLimitExceeded
	case usage.TimeUsageNs >= c.TimeLimitNs:
		return verdict.TimeLimitExceeded
	case execResult.ExitStatus != 0:
		return verdict.RuntimeError
	case !matched:
		return verdict.WrongAnswer
	default:
		return verdict.Accepted
	}
}

func systemErrorResult(index int, err error) verdict.CaseResult {
	return verdict.CaseResult{
		Index:         index,
		Status:        verdict.SystemError,
		Score:         0,
		StderrSnippet: verdict.Snippet([]byte(err.Error())),
	}
}
