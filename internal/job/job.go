// Package job defines the wire model the dispatcher and workers exchange:
// the two Job variants (Judgement, RunCached), their JobResult counterparts,
// and the test-pattern substitution helper used by the Judgement loop.
package job

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Kind discriminates the two Job/JobResult variants.
type Kind string

const (
	KindJudgement Kind = "judgement"
	KindRunCached Kind = "run_cached"
)

// Verdict is the outcome of a Judgement.
type Verdict string

const (
	VerdictAccepted         Verdict = "Accepted"
	VerdictWrongAnswer      Verdict = "WrongAnswer"
	VerdictCompilationError Verdict = "CompilationError"
	VerdictTimeLimitExceeded Verdict = "TimeLimitExceeded"
	VerdictMemoryLimitExceeded Verdict = "MemoryLimitExceeded"
	VerdictRuntimeError     Verdict = "RuntimeError"
)

// RunCachedResult is the outcome of a RunCached invocation.
type RunCachedResult string

const (
	RunCachedOk                  RunCachedResult = "Ok"
	RunCachedCompilationError    RunCachedResult = "CompilationError"
	RunCachedTimeLimitExceeded   RunCachedResult = "TimeLimitExceeded"
	RunCachedMemoryLimitExceeded RunCachedResult = "MemoryLimitExceeded"
	RunCachedRuntimeError        RunCachedResult = "RuntimeError"
)

// Code envelopes every JobResult.
type Code string

const (
	CodeOk              Code = "Ok"
	CodeInvalidLanguage Code = "InvalidLanguage"
)

// Job is the tagged union a worker receives from GetJob.
type Job struct {
	UUID           string `json:"uuid"`
	Language       string `json:"language"`
	TimeLimitMs    int    `json:"time_limit_ms"`
	MemoryLimitKiB int64  `json:"memory_limit_kib"`

	Kind Kind `json:"kind"`

	Judgement *JudgementJob `json:"judgement,omitempty"`
	RunCached *RunCachedJob `json:"run_cached,omitempty"`
}

// JudgementJob is the Judgement variant's payload.
type JudgementJob struct {
	SourceText         string `json:"source_text"`
	TestCount          int    `json:"test_count"`
	TestPattern        string `json:"test_pattern"`
	CheckerLanguage    string `json:"checker_language"`
	CheckerSourcePath  string `json:"checker_source_path"`
}

// RunCachedJob is the RunCached variant's payload.
type RunCachedJob struct {
	SourcePath string  `json:"source_path"`
	Arguments  []string `json:"arguments"`
	StdinPath  *string `json:"stdin_path,omitempty"`
	StdoutPath *string `json:"stdout_path,omitempty"`
}

// NewJudgementJob builds a Judgement job with a fresh uuid.
func NewJudgementJob(language string, timeLimitMs int, memoryLimitKiB int64, payload JudgementJob) Job {
	return Job{
		UUID:           uuid.NewString(),
		Language:       language,
		TimeLimitMs:    timeLimitMs,
		MemoryLimitKiB: memoryLimitKiB,
		Kind:           KindJudgement,
		Judgement:      &payload,
	}
}

// NewRunCachedJob builds a RunCached job with a fresh uuid.
func NewRunCachedJob(language string, timeLimitMs int, memoryLimitKiB int64, payload RunCachedJob) Job {
	return Job{
		UUID:           uuid.NewString(),
		Language:       language,
		TimeLimitMs:    timeLimitMs,
		MemoryLimitKiB: memoryLimitKiB,
		Kind:           KindRunCached,
		RunCached:      &payload,
	}
}

// JobResult is the tagged union a worker submits back to the dispatcher.
type JobResult struct {
	UUID string `json:"uuid"`
	Code Code   `json:"code"`

	Kind Kind `json:"kind,omitempty"`

	Judgement *JudgementResult `json:"judgement,omitempty"`
	RunCached *RunCachedResultPayload `json:"run_cached,omitempty"`
}

// JudgementResult is the Judgement variant's result payload.
type JudgementResult struct {
	Verdict           Verdict `json:"verdict"`
	FailedTest        int     `json:"failed_test"`
	ExitCode          int     `json:"exit_code"`
	ExitSignal        *int    `json:"exit_signal,omitempty"`
	TimeMs            *int    `json:"time_ms,omitempty"`
	TimeWallMs        *int    `json:"time_wall_ms,omitempty"`
	MemoryKiB         *int    `json:"memory_kib,omitempty"`
	ErrorOutput       string  `json:"error_output"`
	JudgeStartInstant string  `json:"judge_start_instant"`
	JudgeEndInstant   string  `json:"judge_end_instant"`
}

// RunCachedResultPayload is the RunCached variant's result payload.
type RunCachedResultPayload struct {
	Result      RunCachedResult `json:"result"`
	ExitCode    int             `json:"exit_code"`
	ExitSignal  *int            `json:"exit_signal,omitempty"`
	TimeMs      *int            `json:"time_ms,omitempty"`
	TimeWallMs  *int            `json:"time_wall_ms,omitempty"`
	MemoryKiB   *int            `json:"memory_kib,omitempty"`
	ErrorOutput string          `json:"error_output"`
}

// InvalidLanguageResult builds the envelope-only result for an unknown
// submission or checker language.
func InvalidLanguageResult(uuid string) JobResult {
	return JobResult{UUID: uuid, Code: CodeInvalidLanguage}
}

var testWidthPattern = regexp.MustCompile(`%0?(\d*)d`)

// FormatWidth substitutes every "%0<n>d"-style placeholder in pattern with
// i, zero-padded to each placeholder's own width n. A bare "%d" is treated
// as width 0 (no padding).
func FormatWidth(pattern string, i int) string {
	return testWidthPattern.ReplaceAllStringFunc(pattern, func(match string) string {
		groups := testWidthPattern.FindStringSubmatch(match)
		width := 0
		if groups[1] != "" {
			parsed, err := strconv.Atoi(groups[1])
			if err != nil {
				return match
			}
			width = parsed
		}
		return fmt.Sprintf("%0*d", width, i)
	})
}

// AnswerPath returns the expected-answer filename for an input filename.
func AnswerPath(inputPath string) string {
	return inputPath + ".a"
}
