package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/multierr"
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

// Fixed judge-program limits, per spec.md §4.H (original_source/jd4/case.py
// DEFAULT_TIME_NS/DEFAULT_MEMORY_BYTES).
const (
	judgeDefaultTimeNs    = 1_000_000_000
	judgeDefaultMemory    = 256 << 20
	maxJudgeStdoutCapture = 8 << 10
)

// judgeStatusCodes maps the integer status a custom judge writes to its
// stdout onto this module's verdict.Status, following the convention
// jd4's "1 7" example in spec.md §8 scenario 6 implies (1 = Accepted).
// original_source's jd4/status.py itself wasn't part of the retrieved
// source; this mapping is this module's own resolution.
var judgeStatusCodes = map[int]verdict.Status{
	1: verdict.Accepted,
	2: verdict.WrongAnswer,
	3: verdict.TimeLimitExceeded,
	4: verdict.MemoryLimitExceeded,
	6: verdict.RuntimeError,
	7: verdict.CompileError,
	8: verdict.SystemError,
}

// CustomJudgeRunner judges a package by delegating the verdict to a
// second sandboxed "special judge" program (component H).
type CustomJudgeRunner struct {
	Pool       *sandbox.Pool
	Controller cgroupctl.Controller
	Builder    *language.Builder
}

// Judge implements spec.md §4.H. It always releases both acquired
// sandboxes and reports internal failure as verdict.SystemError.
func (r *CustomJudgeRunner) Judge(ctx context.Context, userPkg *language.Package, c problem.Case) verdict.CaseResult {
	judgeSrc, err := c.OpenJudgeSource.Open()
	if err != nil {
		return systemErrorResult(c.Index, err)
	}
	blob, err := readAllClose(judgeSrc)
	if err != nil {
		return systemErrorResult(c.Index, err)
	}
	build, err := r.Builder.Build(ctx, c.JudgeLanguage, blob, language.Text, nil, nil, nil)
	if err != nil {
		return systemErrorResult(c.Index, err)
	}
	judgePkg := build.Package
	defer judgePkg.Close()

	handles, err := r.Pool.Acquire(ctx, 2)
	if err != nil {
		return systemErrorResult(c.Index, err)
	}
	userHandle, judgeHandle := handles[0], handles[1]
	defer func() {
		// Both sandboxes are reset regardless of whether either reset
		// fails, then always returned to the pool.
		cleanupErr := multierr.Append(userHandle.Reset(context.Background()), judgeHandle.Reset(context.Background()))
		r.Pool.Release(userHandle, judgeHandle)
		if cleanupErr != nil {
			logger.Error(ctx, "custom judge cleanup", zap.Int("case", c.Index), zap.Error(cleanupErr))
		}
	}()

	res, err := r.judgeInHandles(ctx, userHandle, judgeHandle, userPkg, judgePkg, c)
	if err != nil {
		return systemErrorResult(c.Index, err)
	}
	return res
}

func (r *CustomJudgeRunner) judgeInHandles(ctx context.Context, userHandle, judgeHandle sandbox.Handle, userPkg, judgePkg *language.Package, c problem.Case) (verdict.CaseResult, error) {
	userExe, err := userPkg.Install(ctx, userHandle, c.Override)
	if err != nil {
		return verdict.CaseResult{}, err
	}
	judgeExe, err := judgePkg.Install(ctx, judgeHandle, nil)
	if err != nil {
		return verdict.CaseResult{}, err
	}

	userStdin := filepath.Join(userHandle.InDir(), "stdin")
	userStdout := filepath.Join(userHandle.InDir(), "stdout")
	userStderr := filepath.Join(userHandle.InDir(), "stderr")
	judgeStdin := filepath.Join(judgeHandle.InDir(), "stdin")
	judgeStdout := filepath.Join(judgeHandle.InDir(), "stdout")
	judgeStderr := filepath.Join(judgeHandle.InDir(), "stderr")
	judgeExtra := filepath.Join(judgeHandle.InDir(), "extra")
	userCgroupSock := filepath.Join(userHandle.InDir(), "cgroup.sock")
	judgeCgroupSock := filepath.Join(judgeHandle.InDir(), "cgroup.sock")

	for _, p := range []string{userStdin, userStdout, userStderr} {
		if err := pipeio.MakeFIFO(p, 0600); err != nil {
			return verdict.CaseResult{}, err
		}
	}
	for _, p := range []string{judgeStdout, judgeStderr, judgeExtra} {
		if err := pipeio.MakeFIFO(p, 0600); err != nil {
			return verdict.CaseResult{}, err
		}
	}
	// Bytes flow user stdout -> judge stdin without host-side buffering: the
	// same FIFO inode is reachable from both sandboxes' inbound areas.
	if err := os.Link(userStdout, judgeStdin); err != nil {
		return verdict.CaseResult{}, err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		src, err := c.OpenInput.Open()
		if err != nil {
			return err
		}
		defer src.Close()
		return pipeio.WriteFrom(userStdin, pipeio.DOS2Unix(src))
	})
	g.Go(func() error {
		// The judge re-reads the case's own input fresh, independently of
		// what the host already streamed into the user's stdin.
		src, err := c.OpenInput.Open()
		if err != nil {
			return err
		}
		defer src.Close()
		return pipeio.WriteFrom(judgeExtra, pipeio.DOS2Unix(src))
	})
	var userStderrBuf, judgeStdoutBuf, judgeStderrBuf []byte
	g.Go(func() error {
		b, err := pipeio.ReadBounded(userStderr, maxStderrCapture)
		userStderrBuf = b
		return err
	})
	g.Go(func() error {
		b, err := pipeio.ReadBounded(judgeStdout, maxJudgeStdoutCapture)
		judgeStdoutBuf = b
		return err
	})
	g.Go(func() error {
		b, err := pipeio.ReadBounded(judgeStderr, maxStderrCapture)
		judgeStderrBuf = b
		return err
	})

	var userUsage, judgeUsage cgroupctl.Usage
	var userExecResult, judgeExecResult cgroupctl.ExecResult
	userLimits := cgroupctl.Limits{
		CPUNs:        c.TimeLimitNs,
		WallNs:       c.TimeLimitNs,
		MemoryBytes:  c.MemoryLimitBytes,
		ProcessLimit: language.ProcessLimit,
	}
	judgeLimits := cgroupctl.Limits{
		CPUNs:        judgeDefaultTimeNs,
		WallNs:       c.TimeLimitNs + judgeDefaultTimeNs,
		MemoryBytes:  judgeDefaultMemory,
		ProcessLimit: language.ProcessLimit,
	}
	userRunID, judgeRunID := uuid.NewString(), uuid.NewString()
	g.Go(func() error {
		u, er, err := r.Controller.Run(gctx, userHandle.InDir(), userRunID, userLimits, func(ctx context.Context) (cgroupctl.ExecResult, error) {
			res, err := userHandle.Call(ctx, sandbox.Execute, sandbox.CallRequest{
				ExecutablePath:   userExe.ExecutablePath,
				Argv:             userExe.Argv,
				Stdin:            userStdin,
				Stdout:           userStdout,
				Stderr:           userStderr,
				CgroupSocketPath: userCgroupSock,
			})
			return cgroupctl.ExecResult{ExitStatus: res.ExitStatus}, err
		})
		userUsage, userExecResult = u, er
		return err
	})
	g.Go(func() error {
		u, er, err := r.Controller.Run(gctx, judgeHandle.InDir(), judgeRunID, judgeLimits, func(ctx context.Context) (cgroupctl.ExecResult, error) {
			res, err := judgeHandle.Call(ctx, sandbox.Execute, sandbox.CallRequest{
				ExecutablePath:   judgeExe.ExecutablePath,
				Argv:             judgeExe.Argv,
				Env:              []string{"JUDGE_EXTRA_FILE=" + judgeExtra},
				Stdin:            judgeStdin,
				Stdout:           judgeStdout,
				Stderr:           judgeStderr,
				CgroupSocketPath: judgeCgroupSock,
			})
			return cgroupctl.ExecResult{ExitStatus: res.ExitStatus}, err
		})
		judgeUsage, judgeExecResult = u, er
		return err
	})

	if err := g.Wait(); err != nil {
		return verdict.CaseResult{}, err
	}

	status, score := decideCustomJudgeVerdict(userUsage, userExecResult, judgeUsage, judgeExecResult, judgeStdoutBuf, c)

	// Report the judge's own stderr when it is the party that malfunctioned;
	// otherwise the user's stderr is the diagnostic of interest. The user's
	// stdout is never captured here: it flows sandbox-to-sandbox over the
	// hardlinked FIFO and the host never reads it.
	stderrSnippet := userStderrBuf
	judgeMalfunctioned := judgeExecResult.ExitStatus != 0 ||
		judgeUsage.MemoryUsageBytes >= judgeDefaultMemory ||
		judgeUsage.TimeUsageNs >= judgeDefaultTimeNs
	if judgeMalfunctioned {
		stderrSnippet = judgeStderrBuf
	}

	return verdict.CaseResult{
		Index:            c.Index,
		Status:           status,
		Score:            score,
		TimeUsageNs:      userUsage.TimeUsageNs,
		MemoryUsageBytes: userUsage.MemoryUsageBytes,
		StderrSnippet:    verdict.Snippet(stderrSnippet),
		RawExitStatus:    userExecResult.ExitStatus,
	}, nil
}

// decideCustomJudgeVerdict applies spec.md §4.H's precedence: judge
// malfunction first, then the user's own limit/exit failures, and only
// then the judge's own parsed (status, score) pair.
func decideCustomJudgeVerdict(userUsage cgroupctl.Usage, userExecResult cgroupctl.ExecResult, judgeUsage cgroupctl.Usage, judgeExecResult cgroupctl.ExecResult, judgeStdout []byte, c problem.Case) (verdict.Status, int) {
	if judgeExecResult.ExitStatus != 0 ||
		judgeUsage.MemoryUsageBytes >= judgeDefaultMemory ||
		judgeUsage.TimeUsageNs >= judgeDefaultTimeNs {
		return verdict.SystemError, 0
	}
	switch {
	case userUsage.MemoryUsageBytes >= c.MemoryLimitBytes:
		return verdict.MemoryLimitExceeded, 0
	case userUsage.TimeUsageNs >= c.TimeLimitNs:
		return verdict.TimeLimitExceeded, 0
	case userExecResult.ExitStatus != 0:
		return verdict.RuntimeError, 0
	}

	code, score, err := parseJudgeVerdict(judgeStdout)
	if err != nil {
		return verdict.SystemError, 0
	}
	status, ok := judgeStatusCodes[code]
	if !ok {
		return verdict.SystemError, 0
	}
	return status, score
}

func parseJudgeVerdict(stdout []byte) (code int, score int, err error) {
	fields := strings.Fields(string(stdout))
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("judge stdout %q: want two whitespace-separated integers", stdout)
	}
	code, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, err
	}
	score, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, err
	}
	return code, score, nil
}
