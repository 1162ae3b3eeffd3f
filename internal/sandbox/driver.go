// Package sandbox wraps the external isolate sandbox binary: creating and
// resetting boxes, building the --run argument vector, and parsing the
// meta report isolate emits for a guest invocation.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
)

// RunStatus classifies a sandbox execution's outcome.
type RunStatus int

const (
	StatusOk RunStatus = iota
	StatusTimeLimitExceeded
	StatusMemoryLimitExceeded
	StatusRuntimeError
	StatusSignal
	StatusFailedToStart
)

func (s RunStatus) String() string {
	switch s {
	case StatusOk:
		return "Ok"
	case StatusTimeLimitExceeded:
		return "TimeLimitExceeded"
	case StatusMemoryLimitExceeded:
		return "MemoryLimitExceeded"
	case StatusRuntimeError:
		return "RuntimeError"
	case StatusSignal:
		return "Signal"
	case StatusFailedToStart:
		return "FailedToStart"
	default:
		return "Unknown"
	}
}

// RunStats is one sandbox execution's outcome, parsed from the meta report.
type RunStats struct {
	TimeMs     *int
	TimeWallMs *int
	MemoryKiB  *int
	ExitCode   *int
	ExitSignal *int
	Message    string
	Status     RunStatus
	StdoutPath string
	StderrPath string
}

// TimeMsString renders TimeMs the way the original judge logs it: the
// numeric value, or "unknown" when the sandbox never reported one.
func (r *RunStats) TimeMsString() string {
	if r.TimeMs == nil {
		return "unknown"
	}
	return strconv.Itoa(*r.TimeMs)
}

// Box is a handle to an initialized sandbox slot.
type Box struct {
	ID   int
	Path string
}

// InitError is returned when `isolate --init` fails.
type InitError struct {
	ID     int
	Output string
}

func (e *InitError) Error() string {
	return fmt.Sprintf("sandbox init failed for box %d: %s", e.ID, e.Output)
}

// CommandFailedError wraps a sandbox-infrastructure failure: isolate itself
// exited with code >= 2, was killed by a signal, or otherwise never
// produced a usable meta report.
type CommandFailedError struct {
	Stderr string
	Err    error
}

func (e *CommandFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sandbox command failed: %v: %s", e.Err, e.Stderr)
	}
	return fmt.Sprintf("sandbox command failed: %s", e.Stderr)
}

func (e *CommandFailedError) Unwrap() error { return e.Err }

// Driver wraps the isolate binary for one worker process.
type Driver struct {
	IsolatePath     string
	DataDirectory   string
	WallTimeSeconds int
	logger          *logrus.Entry
}

// NewDriver constructs a Driver. dataDirectory is the host-side root that
// isolate guests see mounted at /data-<uuid>.
func NewDriver(isolatePath, dataDirectory string, wallTimeSeconds int) *Driver {
	return &Driver{
		IsolatePath:     isolatePath,
		DataDirectory:   dataDirectory,
		WallTimeSeconds: wallTimeSeconds,
		logger:          logrus.WithField("component", "sandbox"),
	}
}

// Init creates (or resets, if already present) a box with the given id.
func (d *Driver) Init(id int) (*Box, error) {
	// idempotent: tear down any previous box with this id first.
	_ = d.cleanup(id)

	cmd := exec.Command(d.IsolatePath, "--init", "--cg", fmt.Sprintf("--box-id=%d", id))
	output, err := cmd.Output()
	if err != nil {
		d.logger.WithError(err).WithField("box_id", id).Error("isolate --init failed")
		return nil, &InitError{ID: id, Output: err.Error()}
	}

	root := strings.TrimSpace(string(output))
	if root == "" {
		return nil, &InitError{ID: id, Output: "empty output from isolate --init"}
	}

	d.logger.WithField("box_id", id).Debug("sandbox box initialized")
	return &Box{ID: id, Path: filepath.Join(root, "box")}, nil
}

// Reset wipes a box's contents between jobs by re-running init.
func (d *Driver) Reset(box *Box) (*Box, error) {
	return d.Init(box.ID)
}

func (d *Driver) cleanup(id int) error {
	cmd := exec.Command(d.IsolatePath, "--cleanup", "--cg", fmt.Sprintf("--box-id=%d", id))
	return cmd.Run()
}

// Params carries the per-invocation limits and identifiers needed to build
// an isolate --run argument vector.
type Params struct {
	UUID           string
	MemoryLimitKiB int64
	TimeLimitMs    int
	StdinPath      string // host path rooted under the configured data directory; optional
	ProcessLimit   int
}

// Execute runs a restricted (guest, disk-write-forbidden) invocation.
func (d *Driver) Execute(ctx context.Context, box *Box, binary string, args []string, params Params) (*RunStats, error) {
	return d.run(ctx, box, binary, args, params, restricted)
}

// Compile runs an unrestricted invocation (more binds, more processes, disk
// writes allowed).
func (d *Driver) Compile(ctx context.Context, box *Box, binary string, args []string, params Params) (*RunStats, error) {
	if params.ProcessLimit <= 0 {
		params.ProcessLimit = 40
	}
	return d.run(ctx, box, binary, args, params, unrestricted)
}

type mode int

const (
	restricted mode = iota
	unrestricted
)

func (d *Driver) run(ctx context.Context, box *Box, binary string, args []string, params Params, m mode) (*RunStats, error) {
	argv, err := d.buildArgs(box, params, m)
	if err != nil {
		return nil, err
	}
	argv = append(argv, "--")
	argv = append(argv, binary)
	argv = append(argv, args...)

	cmd := exec.CommandContext(ctx, d.IsolatePath, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if hostExitFailed(cmd, runErr) {
		return nil, &CommandFailedError{Stderr: stderr.String(), Err: runErr}
	}

	stats := parseMeta(stdout.String())
	stats.StdoutPath = filepath.Join(box.Path, "stdout")
	stats.StderrPath = filepath.Join(box.Path, "stderr")

	reclassifyOOM(stats, params.MemoryLimitKiB)

	return stats, nil
}

// hostExitFailed reports whether the sandbox process itself (not the guest
// it supervised) failed: exit code >= 2, or killed by a signal. Exit codes
// 0 and 1 are both normal (1 means the guest failed, sandbox succeeded).
func hostExitFailed(cmd *exec.Cmd, runErr error) bool {
	if runErr == nil {
		return false
	}
	exitErr, ok := runErr.(*exec.ExitError)
	if !ok {
		// failed to start at all (binary missing, etc.)
		return true
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			return true
		}
	}
	return exitErr.ExitCode() > 1
}

// reclassifyOOM applies the SIGABRT-from-allocator-on-OOM reclassification:
// Signal + exit_signal=6 + memory_kib >= memory_limit_kib becomes MLE.
func reclassifyOOM(stats *RunStats, memoryLimitKiB int64) {
	if stats.Status != StatusSignal {
		return
	}
	if stats.ExitSignal == nil || *stats.ExitSignal != 6 {
		return
	}
	if stats.MemoryKiB == nil || int64(*stats.MemoryKiB) < memoryLimitKiB {
		return
	}
	stats.Status = StatusMemoryLimitExceeded
}

// GuestPath maps a host path under the configured data directory (e.g.
// "./data/problem/1.in") to the guest view under /data-<uuid>/..., per
// spec.md's Open Question resolution: reject paths outside the data
// directory explicitly rather than blindly stripping a prefix.
func (d *Driver) GuestPath(hostPath, uuid string) (string, error) {
	rel, err := filepath.Rel(d.DataDirectory, hostPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q is not rooted under the data directory %q", hostPath, d.DataDirectory)
	}
	return filepath.Join(fmt.Sprintf("/data-%s", uuid), rel), nil
}

// RewriteStdinPath is GuestPath under the name the --stdin argument builder
// uses.
func (d *Driver) RewriteStdinPath(hostPath, uuid string) (string, error) {
	return d.GuestPath(hostPath, uuid)
}

func (d *Driver) buildArgs(box *Box, params Params, m mode) ([]string, error) {
	absData, err := filepath.Abs(d.DataDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}

	argv := []string{
		"--run", "--cg", fmt.Sprintf("--box-id=%d", box.ID),
		fmt.Sprintf("--wall-time=%d.000", d.WallTimeSeconds),
		fmt.Sprintf("--time=%s", formatSeconds(params.TimeLimitMs)),
		fmt.Sprintf("--cg-mem=%d", params.MemoryLimitKiB),
	}

	if params.StdinPath != "" {
		guestStdin, err := d.RewriteStdinPath(params.StdinPath, params.UUID)
		if err != nil {
			return nil, err
		}
		argv = append(argv, fmt.Sprintf("--stdin=%s", guestStdin))
	}

	argv = append(argv,
		"--stdout=stdout", "--stderr=stderr", "--meta=-",
		"--env=PATH=/usr/bin", "--no-default-dirs",
		fmt.Sprintf("--dir=box=%s:rw", box.Path),
	)

	switch m {
	case restricted:
		argv = append(argv,
			"--dir=lib", "--dir=lib64:maybe", "--dir=usr/lib", "--dir=usr/bin",
			"--dir=proc=proc:fs",
		)
	case unrestricted:
		argv = append(argv,
			"--dir=lib", "--dir=lib64:maybe", "--dir=usr/lib", "--dir=usr/bin",
			"--dir=proc=proc:fs",
			"--dir=bin", "--dir=usr/libexec", "--dir=usr/include",
		)
	}

	argv = append(argv, fmt.Sprintf("--processes=%d", params.ProcessLimit))
	argv = append(argv, fmt.Sprintf("--dir=/data-%s=%s", params.UUID, absData))

	if m == restricted {
		argv = append(argv, "--fsize=0")
	}

	return argv, nil
}

func formatSeconds(ms int) string {
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}

// parseMeta parses isolate's "key:value\n" meta report, per spec.md §4.1's
// classification table. It is a pure function of the text.
func parseMeta(text string) *RunStats {
	stats := &RunStats{Status: StatusOk}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		switch key {
		case "time":
			if ms, ok := parseDurationMs(value); ok {
				stats.TimeMs = &ms
			}
		case "time-wall":
			if ms, ok := parseDurationMs(value); ok {
				stats.TimeWallMs = &ms
			}
		case "cg-mem":
			if mem, err := strconv.Atoi(value); err == nil {
				stats.MemoryKiB = &mem
			}
		case "cg-oom-killed":
			stats.Status = StatusMemoryLimitExceeded
		case "exitcode":
			if code, err := strconv.Atoi(value); err == nil {
				stats.ExitCode = &code
			}
		case "exitsig":
			if sig, err := strconv.Atoi(value); err == nil {
				stats.ExitSignal = &sig
			}
		case "message":
			stats.Message = value
		case "status":
			switch value {
			case "RE":
				stats.Status = StatusRuntimeError
			case "TO":
				stats.Status = StatusTimeLimitExceeded
			case "XX":
				stats.Status = StatusFailedToStart
			case "SG":
				if stats.Status == StatusOk {
					stats.Status = StatusSignal
				}
			default:
				stats.Status = StatusRuntimeError
			}
		}
	}

	return stats
}

// parseDurationMs parses isolate's "<seconds>.<ms3>" duration format.
func parseDurationMs(value string) (int, bool) {
	secStr, msStr, ok := strings.Cut(value, ".")
	if !ok {
		return 0, false
	}
	sec, err := strconv.Atoi(secStr)
	if err != nil {
		return 0, false
	}
	ms, err := strconv.Atoi(msStr)
	if err != nil {
		return 0, false
	}
	return sec*1000 + ms, true
}
