package worker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiter-oj/judge/internal/language"
	"github.com/arbiter-oj/judge/internal/sandbox"
)

func TestClassifyVerdict(t *testing.T) {
	tests := []struct {
		name       string
		stats      *sandbox.RunStats
		failedTest int
		want       string
	}{
		{"nil stats defaults to accepted", nil, 0, "Accepted"},
		{"ok with no failed test is accepted", &sandbox.RunStats{Status: sandbox.StatusOk}, 0, "Accepted"},
		{"ok with a failed test is wrong answer", &sandbox.RunStats{Status: sandbox.StatusOk}, 3, "WrongAnswer"},
		{"time limit exceeded", &sandbox.RunStats{Status: sandbox.StatusTimeLimitExceeded}, 1, "TimeLimitExceeded"},
		{"memory limit exceeded", &sandbox.RunStats{Status: sandbox.StatusMemoryLimitExceeded}, 1, "MemoryLimitExceeded"},
		{"runtime error", &sandbox.RunStats{Status: sandbox.StatusRuntimeError}, 1, "RuntimeError"},
		{"signal maps to runtime error", &sandbox.RunStats{Status: sandbox.StatusSignal}, 1, "RuntimeError"},
		{"failed to start maps to runtime error", &sandbox.RunStats{Status: sandbox.StatusFailedToStart}, 1, "RuntimeError"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyVerdict(tc.stats, tc.failedTest)
			assert.Equal(t, tc.want, string(got))
		})
	}
}

func TestClassifyRunCachedResult(t *testing.T) {
	tests := []struct {
		name   string
		status sandbox.RunStatus
		want   string
	}{
		{"ok", sandbox.StatusOk, "Ok"},
		{"time limit exceeded", sandbox.StatusTimeLimitExceeded, "TimeLimitExceeded"},
		{"memory limit exceeded", sandbox.StatusMemoryLimitExceeded, "MemoryLimitExceeded"},
		{"runtime error", sandbox.StatusRuntimeError, "RuntimeError"},
		{"signal maps to runtime error", sandbox.StatusSignal, "RuntimeError"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyRunCachedResult(&sandbox.RunStats{Status: tc.status})
			assert.Equal(t, tc.want, string(got))
		})
	}
}

func TestResolveRunCommandArtifact(t *testing.T) {
	// The box is bind-mounted at the guest path "/box" regardless of its
	// host-side location, so the run argv must reference "/box", not
	// w.box.Path.
	w := &Worker{box: &sandbox.Box{ID: 0, Path: "/var/local/lib/isolate/0/box"}}
	lang := language.Params{Run: language.Run{Kind: language.RunArtifact}}

	binary, args := w.resolveRunCommand(lang, "program.cpp", "program")
	assert.Equal(t, filepath.Join("/box", "program"), binary)
	assert.Nil(t, args)
}

func TestResolveRunCommandCommand(t *testing.T) {
	w := &Worker{box: &sandbox.Box{ID: 0, Path: "/box"}}
	lang := language.Params{
		Run: language.Run{
			Kind: language.RunCommand,
			Command: language.CommandTemplate{
				Binary: "/usr/bin/python3",
				Args:   []string{"{source}"},
			},
		},
	}

	binary, args := w.resolveRunCommand(lang, "program.py", "program")
	assert.Equal(t, "/usr/bin/python3", binary)
	assert.Equal(t, []string{"program.py"}, args)
}

func TestWriteSourceFileIsDurableAndReadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "program.cpp")

	require.NoError(t, writeSourceFile(path, "int main() {}"))
	assert.Equal(t, "int main() {}", readFileOrEmpty(path))
}

func TestReadFileOrEmptyReturnsEmptyOnMissingFile(t *testing.T) {
	assert.Equal(t, "", readFileOrEmpty("/nonexistent/path/does-not-exist"))
}

func TestCopyFileCreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	dst := filepath.Join(dir, "nested", "dst.txt")
	require.NoError(t, copyFile(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestCopyDirNonOverwriteSkipsExistingFiles(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(src, "checker.cpp"), []byte("source version"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "checker.cpp"), []byte("existing version"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "testlib.h"), []byte("testlib contents"), 0o644))

	require.NoError(t, copyDirNonOverwrite(src, dst))

	existing, err := os.ReadFile(filepath.Join(dst, "checker.cpp"))
	require.NoError(t, err)
	assert.Equal(t, "existing version", string(existing))

	copied, err := os.ReadFile(filepath.Join(dst, "testlib.h"))
	require.NoError(t, err)
	assert.Equal(t, "testlib contents", string(copied))
}
