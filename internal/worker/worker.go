// Package worker implements the judging core's state machines: Judgement
// (compile, run every test, check, verdict) and RunCached (compile-and-cache
// then one-shot execute), each driving a sandbox.Driver through a
// language.Registry.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arbiter-oj/judge/internal/job"
	"github.com/arbiter-oj/judge/internal/language"
	"github.com/arbiter-oj/judge/internal/sandbox"
)

// Worker owns one sandbox box and runs jobs serially against it.
type Worker struct {
	driver    *sandbox.Driver
	box       *sandbox.Box
	languages *language.Registry
	dataDir   string

	compileTimeLimitMs    int
	compileMemoryLimitKiB int64

	logger *logrus.Entry
}

// New constructs a Worker around an already-initialized box.
func New(driver *sandbox.Driver, box *sandbox.Box, languages *language.Registry, dataDir string, compileTimeLimitMs int, compileMemoryLimitKiB int64) *Worker {
	return &Worker{
		driver:                driver,
		box:                   box,
		languages:             languages,
		dataDir:               dataDir,
		compileTimeLimitMs:    compileTimeLimitMs,
		compileMemoryLimitKiB: compileMemoryLimitKiB,
		logger:                logrus.WithField("component", "worker"),
	}
}

// Process runs one job to completion and resets the box on every exit path.
// A non-nil error means a sandbox-infrastructure failure: the caller must
// skip submitting any result and move on to the next job (spec.md §7's
// fail-and-skip-job policy); a nil error always comes with a JobResult to
// submit, even for verdict/code failures.
func (w *Worker) Process(ctx context.Context, j job.Job) (*job.JobResult, error) {
	defer w.resetBox()

	switch j.Kind {
	case job.KindJudgement:
		return w.runJudgement(ctx, j)
	case job.KindRunCached:
		return w.runRunCached(ctx, j)
	default:
		result := job.InvalidLanguageResult(j.UUID)
		return &result, nil
	}
}

func (w *Worker) resetBox() {
	box, err := w.driver.Reset(w.box)
	if err != nil {
		w.logger.WithError(err).WithField("box_id", w.box.ID).Error("failed to reset box between jobs")
		return
	}
	w.box = box
}

func nowInstant() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// runJudgement implements §4.3.1: Init → WriteSource → Compile →
// {TestsLoop | CompileFailure} → Done.
func (w *Worker) runJudgement(ctx context.Context, j job.Job) (*job.JobResult, error) {
	payload := j.Judgement

	lang, ok := w.languages.Get(j.Language)
	if !ok {
		result := job.InvalidLanguageResult(j.UUID)
		return &result, nil
	}
	if _, ok := w.languages.Get(payload.CheckerLanguage); !ok {
		result := job.InvalidLanguageResult(j.UUID)
		return &result, nil
	}

	startInstant := nowInstant()

	programBasename := "program"
	sourceText := payload.SourceText
	if lang.Compile.Transform != nil {
		sourceText = lang.Compile.Transform(sourceText, programBasename)
	}

	sourceName := programBasename + lang.Suffix
	if err := writeSourceFile(filepath.Join(w.box.Path, sourceName), sourceText); err != nil {
		return nil, fmt.Errorf("failed to write submission source: %w", err)
	}

	if lang.Compile.Kind == language.CompileCommand {
		binary, args := lang.Compile.Command.Expand(sourceName, programBasename)
		stats, err := w.driver.Compile(ctx, w.box, binary, args, sandbox.Params{
			UUID:           j.UUID,
			MemoryLimitKiB: w.compileMemoryLimitKiB,
			TimeLimitMs:    w.compileTimeLimitMs,
		})
		if err != nil {
			return nil, fmt.Errorf("sandbox compile failed: %w", err)
		}

		if stats.ExitCode == nil || *stats.ExitCode != 0 {
			exitCode := 42
			if stats.ExitCode != nil {
				exitCode = *stats.ExitCode
			}
			result := job.JudgementResult{
				Verdict:           job.VerdictCompilationError,
				FailedTest:        0,
				ExitCode:          exitCode,
				ExitSignal:        stats.ExitSignal,
				TimeMs:            stats.TimeMs,
				TimeWallMs:        stats.TimeWallMs,
				MemoryKiB:         stats.MemoryKiB,
				ErrorOutput:       readFileOrEmpty(stats.StderrPath),
				JudgeStartInstant: startInstant,
				JudgeEndInstant:   nowInstant(),
			}
			return &job.JobResult{UUID: j.UUID, Code: job.CodeOk, Kind: job.KindJudgement, Judgement: &result}, nil
		}
	}

	var lastStats *sandbox.RunStats
	failedTest := 0
	errorOutput := ""

	checkerHostBinary := filepath.Join(w.dataDir, strings.TrimSuffix(payload.CheckerSourcePath, filepath.Ext(payload.CheckerSourcePath)))

	for i := 1; i <= payload.TestCount; i++ {
		inputRel := job.FormatWidth(payload.TestPattern, i)
		stdinHostPath := filepath.Join(w.dataDir, inputRel)
		answerHostPath := job.AnswerPath(stdinHostPath)

		runBinary, runArgs := w.resolveRunCommand(lang, sourceName, programBasename)

		execStats, err := w.driver.Execute(ctx, w.box, runBinary, runArgs, sandbox.Params{
			UUID:           j.UUID,
			MemoryLimitKiB: j.MemoryLimitKiB,
			TimeLimitMs:    j.TimeLimitMs,
			StdinPath:      stdinHostPath,
			ProcessLimit:   lang.ProcessLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("sandbox execute failed on test %d: %w", i, err)
		}

		if execStats.Status != sandbox.StatusOk || execStats.ExitCode == nil || *execStats.ExitCode != 0 {
			failedTest = i
			errorOutput = readFileOrEmpty(execStats.StderrPath)
			lastStats = execStats
			break
		}

		if err := copyFile(filepath.Join(w.box.Path, "stdout"), filepath.Join(w.box.Path, "stdin")); err != nil {
			return nil, fmt.Errorf("failed to stage checker input on test %d: %w", i, err)
		}

		guestInput, err := w.driver.GuestPath(stdinHostPath, j.UUID)
		if err != nil {
			return nil, fmt.Errorf("test %d input path invalid: %w", i, err)
		}
		guestAnswer, err := w.driver.GuestPath(answerHostPath, j.UUID)
		if err != nil {
			return nil, fmt.Errorf("test %d answer path invalid: %w", i, err)
		}
		checkerGuestBinary, err := w.driver.GuestPath(checkerHostBinary, j.UUID)
		if err != nil {
			return nil, fmt.Errorf("checker binary path invalid: %w", err)
		}

		checkerStats, err := w.driver.Execute(ctx, w.box, checkerGuestBinary, []string{guestInput, "/box/stdin", guestAnswer}, sandbox.Params{
			UUID:           j.UUID,
			MemoryLimitKiB: j.MemoryLimitKiB,
			TimeLimitMs:    j.TimeLimitMs,
			ProcessLimit:   1,
		})
		if err != nil {
			return nil, fmt.Errorf("sandbox checker invocation failed on test %d: %w", i, err)
		}

		if checkerStats.ExitCode == nil || *checkerStats.ExitCode != 0 {
			failedTest = i
			// Open-question resolution: capture the checker's stderr, but
			// remember the program's own execute stats, not the checker's.
			errorOutput = readFileOrEmpty(checkerStats.StderrPath)
			lastStats = execStats
			break
		}

		lastStats = execStats
	}

	verdict := classifyVerdict(lastStats, failedTest)

	result := job.JudgementResult{
		Verdict:           verdict,
		FailedTest:        failedTest,
		JudgeStartInstant: startInstant,
		JudgeEndInstant:   nowInstant(),
		ErrorOutput:       errorOutput,
	}
	if lastStats != nil {
		if lastStats.ExitCode != nil {
			result.ExitCode = *lastStats.ExitCode
		}
		result.ExitSignal = lastStats.ExitSignal
		result.TimeMs = lastStats.TimeMs
		result.TimeWallMs = lastStats.TimeWallMs
		result.MemoryKiB = lastStats.MemoryKiB
	}

	return &job.JobResult{UUID: j.UUID, Code: job.CodeOk, Kind: job.KindJudgement, Judgement: &result}, nil
}

// resolveRunCommand expands a language's run step for a program written as
// <programBasename><suffix>, compiled (if applicable) to <programBasename>.
// Artifacts run from the guest's view of the box, "/box", not its host path.
func (w *Worker) resolveRunCommand(lang language.Params, sourceName, programBasename string) (string, []string) {
	if lang.Run.Kind == language.RunArtifact {
		return filepath.Join("/box", programBasename), nil
	}
	return lang.Run.Command.Expand(sourceName, programBasename)
}

// classifyVerdict maps the remembered RunStats and failed_test onto a
// verdict per spec.md §4.3.1 step 5.
func classifyVerdict(stats *sandbox.RunStats, failedTest int) job.Verdict {
	if stats == nil {
		return job.VerdictAccepted
	}
	switch stats.Status {
	case sandbox.StatusOk:
		if failedTest == 0 {
			return job.VerdictAccepted
		}
		return job.VerdictWrongAnswer
	case sandbox.StatusTimeLimitExceeded:
		return job.VerdictTimeLimitExceeded
	case sandbox.StatusMemoryLimitExceeded:
		return job.VerdictMemoryLimitExceeded
	default: // RuntimeError, Signal, FailedToStart
		return job.VerdictRuntimeError
	}
}

// runRunCached implements §4.3.2: resolve output path, compile-and-cache if
// missing, execute, emit result.
func (w *Worker) runRunCached(ctx context.Context, j job.Job) (*job.JobResult, error) {
	payload := j.RunCached

	lang, ok := w.languages.Get(j.Language)
	if !ok {
		result := job.InvalidLanguageResult(j.UUID)
		return &result, nil
	}

	sourceHostPath := filepath.Join(w.dataDir, payload.SourcePath)
	sourceNoExt := strings.TrimSuffix(payload.SourcePath, filepath.Ext(payload.SourcePath))

	var outputHostPath string
	if lang.Compile.Kind == language.CompileCommand {
		outputRel := strings.ReplaceAll(lang.Compile.OutputPattern, "{output}", sourceNoExt)
		outputHostPath = filepath.Join(w.dataDir, outputRel)

		if _, err := os.Stat(outputHostPath); os.IsNotExist(err) {
			if err := copyDirNonOverwrite(filepath.Dir(sourceHostPath), w.box.Path); err != nil {
				return nil, fmt.Errorf("failed to stage source directory into box: %w", err)
			}

			sourceBasename := filepath.Base(payload.SourcePath)
			outputBasename := filepath.Base(sourceNoExt)

			binary, args := lang.Compile.Command.Expand(sourceBasename, outputBasename)
			stats, err := w.driver.Compile(ctx, w.box, binary, args, sandbox.Params{
				UUID:           j.UUID,
				MemoryLimitKiB: w.compileMemoryLimitKiB,
				TimeLimitMs:    w.compileTimeLimitMs,
			})
			if err != nil {
				return nil, fmt.Errorf("sandbox compile failed: %w", err)
			}

			if stats.ExitCode == nil || *stats.ExitCode != 0 {
				w.resetBox()
				exitCode := 42
				if stats.ExitCode != nil {
					exitCode = *stats.ExitCode
				}
				result := job.RunCachedResultPayload{
					Result:      job.RunCachedCompilationError,
					ExitCode:    exitCode,
					ExitSignal:  stats.ExitSignal,
					TimeMs:      stats.TimeMs,
					TimeWallMs:  stats.TimeWallMs,
					MemoryKiB:   stats.MemoryKiB,
					ErrorOutput: readFileOrEmpty(stats.StderrPath),
				}
				return &job.JobResult{UUID: j.UUID, Code: job.CodeOk, Kind: job.KindRunCached, RunCached: &result}, nil
			}

			artifactName := strings.ReplaceAll(lang.Compile.OutputPattern, "{output}", outputBasename)
			if err := copyFile(filepath.Join(w.box.Path, artifactName), outputHostPath); err != nil {
				return nil, fmt.Errorf("failed to copy compiled artifact out of box: %w", err)
			}

			w.resetBox()
		}
	} else {
		outputHostPath = sourceHostPath
	}

	guestSource, err := w.driver.GuestPath(sourceHostPath, j.UUID)
	if err != nil {
		return nil, fmt.Errorf("source path invalid: %w", err)
	}
	guestOutput, err := w.driver.GuestPath(outputHostPath, j.UUID)
	if err != nil {
		return nil, fmt.Errorf("output path invalid: %w", err)
	}

	var runBinary string
	var runArgs []string
	if lang.Run.Kind == language.RunArtifact {
		runBinary, runArgs = guestOutput, payload.Arguments
	} else {
		runBinary, runArgs = lang.Run.Command.Expand(guestSource, guestOutput)
		runArgs = append(runArgs, payload.Arguments...)
	}

	var stdinHostPath string
	if payload.StdinPath != nil {
		stdinHostPath = filepath.Join(w.dataDir, *payload.StdinPath)
	}

	stats, err := w.driver.Execute(ctx, w.box, runBinary, runArgs, sandbox.Params{
		UUID:           j.UUID,
		MemoryLimitKiB: j.MemoryLimitKiB,
		TimeLimitMs:    j.TimeLimitMs,
		StdinPath:      stdinHostPath,
		ProcessLimit:   lang.ProcessLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox execute failed: %w", err)
	}

	if payload.StdoutPath != nil {
		if err := copyFile(filepath.Join(w.box.Path, "stdout"), filepath.Join(w.dataDir, *payload.StdoutPath)); err != nil {
			return nil, fmt.Errorf("failed to copy stdout to caller-supplied path: %w", err)
		}
	}

	result := job.RunCachedResultPayload{
		Result:     classifyRunCachedResult(stats),
		ExitSignal: stats.ExitSignal,
		TimeMs:     stats.TimeMs,
		TimeWallMs: stats.TimeWallMs,
		MemoryKiB:  stats.MemoryKiB,
	}
	if stats.ExitCode != nil {
		result.ExitCode = *stats.ExitCode
	}
	if stats.Status != sandbox.StatusOk {
		result.ErrorOutput = readFileOrEmpty(stats.StderrPath)
	}

	return &job.JobResult{UUID: j.UUID, Code: job.CodeOk, Kind: job.KindRunCached, RunCached: &result}, nil
}

func classifyRunCachedResult(stats *sandbox.RunStats) job.RunCachedResult {
	switch stats.Status {
	case sandbox.StatusOk:
		return job.RunCachedOk
	case sandbox.StatusTimeLimitExceeded:
		return job.RunCachedTimeLimitExceeded
	case sandbox.StatusMemoryLimitExceeded:
		return job.RunCachedMemoryLimitExceeded
	default:
		return job.RunCachedRuntimeError
	}
}
