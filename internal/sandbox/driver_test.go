package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMeta(t *testing.T) {
	tests := []struct {
		name string
		text string
		want RunStats
	}{
		{
			name: "clean exit",
			text: "time:0.012\ntime-wall:0.015\ncg-mem:1024\nexitcode:0\n",
			want: RunStats{Status: StatusOk},
		},
		{
			name: "time limit exceeded",
			text: "time:1.000\nstatus:TO\nexitcode:1\n",
			want: RunStats{Status: StatusTimeLimitExceeded},
		},
		{
			name: "runtime error",
			text: "status:RE\nexitcode:1\n",
			want: RunStats{Status: StatusRuntimeError},
		},
		{
			name: "failed to start",
			text: "status:XX\nmessage:cannot execute\n",
			want: RunStats{Status: StatusFailedToStart},
		},
		{
			name: "signal without oom does not escalate",
			text: "status:SG\nexitsig:11\n",
			want: RunStats{Status: StatusSignal},
		},
		{
			name: "oom-killed sets MemoryLimitExceeded before status line",
			text: "cg-oom-killed:1\nstatus:SG\nexitsig:9\n",
			want: RunStats{Status: StatusMemoryLimitExceeded},
		},
		{
			name: "unknown status falls back to runtime error",
			text: "status:ZZ\n",
			want: RunStats{Status: StatusRuntimeError},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := parseMeta(tc.text)
			assert.Equal(t, tc.want.Status, got.Status)
		})
	}
}

func TestParseMetaNumericFields(t *testing.T) {
	stats := parseMeta("time:1.234\ntime-wall:1.500\ncg-mem:65536\nexitcode:0\nexitsig:\nmessage:ok\n")

	require.NotNil(t, stats.TimeMs)
	assert.Equal(t, 1234, *stats.TimeMs)

	require.NotNil(t, stats.TimeWallMs)
	assert.Equal(t, 1500, *stats.TimeWallMs)

	require.NotNil(t, stats.MemoryKiB)
	assert.Equal(t, 65536, *stats.MemoryKiB)

	require.NotNil(t, stats.ExitCode)
	assert.Equal(t, 0, *stats.ExitCode)

	assert.Equal(t, "ok", stats.Message)
}

func TestParseMetaMalformedDurationYieldsNoValue(t *testing.T) {
	stats := parseMeta("time:notanumber\n")
	assert.Nil(t, stats.TimeMs)
}

func TestParseMetaSignalDoesNotOverwriteMemoryLimitExceeded(t *testing.T) {
	// cg-oom-killed arrives before the SG status line in isolate's actual
	// output order; status=SG must not downgrade an already-set MLE.
	stats := parseMeta("cg-oom-killed:1\nexitsig:6\nstatus:SG\n")
	assert.Equal(t, StatusMemoryLimitExceeded, stats.Status)
}

func TestReclassifyOOM(t *testing.T) {
	sig6 := 6
	mem := 65536

	t.Run("signal 6 at or above limit reclassifies", func(t *testing.T) {
		stats := &RunStats{Status: StatusSignal, ExitSignal: &sig6, MemoryKiB: &mem}
		reclassifyOOM(stats, 65536)
		assert.Equal(t, StatusMemoryLimitExceeded, stats.Status)
	})

	t.Run("signal 6 below limit stays Signal", func(t *testing.T) {
		stats := &RunStats{Status: StatusSignal, ExitSignal: &sig6, MemoryKiB: &mem}
		reclassifyOOM(stats, 131072)
		assert.Equal(t, StatusSignal, stats.Status)
	})

	t.Run("non-signal 6 is untouched", func(t *testing.T) {
		otherSig := 11
		stats := &RunStats{Status: StatusSignal, ExitSignal: &otherSig, MemoryKiB: &mem}
		reclassifyOOM(stats, 65536)
		assert.Equal(t, StatusSignal, stats.Status)
	})
}

func TestRewriteStdinPath(t *testing.T) {
	d := NewDriver("/usr/local/bin/isolate", "./data", 50)

	guest, err := d.GuestPath("data/problem1/1.in", "abc-uuid")
	require.NoError(t, err)
	assert.Equal(t, "/data-abc-uuid/problem1/1.in", guest)

	_, err = d.GuestPath("/etc/passwd", "abc-uuid")
	assert.Error(t, err)
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "1.234", formatSeconds(1234))
	assert.Equal(t, "0.005", formatSeconds(5))
}
