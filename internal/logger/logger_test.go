package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

// captureOutput redirects logger output to a buffer and returns a cleanup
// function restoring the previous writer, level and format.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)

	mu.Lock()
	prevOut, prevColor := output, useColor
	output, useColor = buf, false
	mu.Unlock()
	prevLevel := GetLevel()
	prevFormat, _ := currentFormat.Load().(string)
	reconfigure()

	t.Cleanup(func() {
		mu.Lock()
		output, useColor = prevOut, prevColor
		mu.Unlock()
		currentLevel.Store(int32(prevLevel))
		currentFormat.Store(prevFormat)
		reconfigure()
	})
	return buf
}

// ============================================================================
// Level Filtering
// ============================================================================

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugShowsEverything", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("DEBUG")

		Debug("d")
		Info("i")
		Warn("w")
		Error("e")

		out := buf.String()
		for _, lvl := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
			assert.Contains(t, out, "["+lvl+"]")
		}
	})

	t.Run("WarnFiltersInfoAndDebug", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("WARN")

		Debug("hidden-debug")
		Info("hidden-info")
		Warn("shown-warn")

		out := buf.String()
		assert.NotContains(t, out, "hidden-debug")
		assert.NotContains(t, out, "hidden-info")
		assert.Contains(t, out, "shown-warn")
	})

	t.Run("ErrorAlwaysWritten", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("ERROR")
		Error("boom")
		assert.Contains(t, buf.String(), "boom")
	})

	t.Run("UnknownLevelIgnored", func(t *testing.T) {
		captureOutput(t)
		SetLevel("INFO")
		SetLevel("LOUD")
		assert.Equal(t, LevelInfo, GetLevel())
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"warning", LevelWarn, true},
		{"Error", LevelError, true},
		{"trace", LevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

// ============================================================================
// Text Handler
// ============================================================================

func TestTextHandler(t *testing.T) {
	t.Run("RankLiftedIntoPrefix", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("INFO")

		Info("flush done", KeyRank, 3, KeyVarID, 7)

		line := buf.String()
		assert.Contains(t, line, "[r3] flush done")
		assert.Contains(t, line, "varid=7")
		assert.NotContains(t, line, "rank=3")
	})

	t.Run("BoundRankFromWith", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("INFO")

		With(KeyRank, 1).Info("hello", KeyIOID, 512)

		assert.Contains(t, buf.String(), "[r1] hello ioid=512")
	})

	t.Run("GroupsQualifyKeys", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("INFO")

		With(KeyFile, "out.nc").WithGroup("pool").Info("stats", KeyAllocated, 10)

		line := buf.String()
		assert.Contains(t, line, "file=out.nc")
		assert.Contains(t, line, "pool.allocated=10")
	})

	t.Run("QuotesStringsWithSpaces", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("INFO")

		Info("x", KeyError, "pool exhausted")
		assert.Contains(t, buf.String(), `error="pool exhausted"`)
	})

	t.Run("NilErrDropped", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("INFO")

		Info("ok", Err(nil))
		assert.NotContains(t, buf.String(), "error=")
	})
}

// ============================================================================
// JSON Format
// ============================================================================

func TestJSONFormat(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("json")

	Info("write", VarID(2), Bytes(4096), Err(errors.New("short write")))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "write", rec["msg"])
	assert.EqualValues(t, 2, rec[KeyVarID])
	assert.EqualValues(t, 4096, rec[KeyBytes])
	assert.Equal(t, "short write", rec[KeyError])

	SetFormat("xml")
	assert.Equal(t, "json", currentFormat.Load())
}

// ============================================================================
// Context Logging
// ============================================================================

func TestContextLogging(t *testing.T) {
	t.Run("InjectsRankAndFile", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("DEBUG")

		lc := NewLogContext(2).WithIOTask(1).WithFile("hist.nc")
		ctx := WithContext(context.Background(), lc)
		DebugCtx(ctx, "region written", KeyRegions, 4)

		line := buf.String()
		assert.Contains(t, line, "[r2]")
		assert.Contains(t, line, "io_task=1")
		assert.Contains(t, line, "file=hist.nc")
		assert.Contains(t, line, "regions=4")
	})

	t.Run("ComputeOnlyRankOmitsIOTask", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("INFO")

		InfoCtx(WithContext(context.Background(), NewLogContext(5)), "m")
		assert.NotContains(t, buf.String(), "io_task")
	})

	t.Run("NoContextPassesArgsThrough", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("INFO")

		WarnCtx(context.Background(), "plain", KeyBlocks, 3)
		assert.Contains(t, buf.String(), "plain blocks=3")
	})

	t.Run("CloneIsIndependent", func(t *testing.T) {
		lc := NewLogContext(0)
		c := lc.WithFile("a.nc")
		assert.Empty(t, lc.File)
		assert.Equal(t, "a.nc", c.File)

		var nilCtx *LogContext
		assert.Nil(t, nilCtx.Clone())
		assert.Zero(t, nilCtx.DurationMs())
		assert.Nil(t, FromContext(nil)) //nolint:staticcheck
	})
}

// ============================================================================
// Init
// ============================================================================

func TestInit(t *testing.T) {
	captureOutput(t)

	t.Run("RejectsUnknownLevel", func(t *testing.T) {
		err := Init(Config{Level: "chatty"})
		assert.Error(t, err)
	})

	t.Run("WritesToFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "run.log")
		require.NoError(t, Init(Config{Level: "INFO", Format: "text", Output: path}))
		Info("to file")

		mu.Lock()
		c := closer
		mu.Unlock()
		require.NotNil(t, c)
	})
}

// ============================================================================
// Concurrency
// ============================================================================

func TestConcurrentLogging(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")

	var wg sync.WaitGroup
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				Info("tick", KeyRank, rank, "i", i)
			}
		}(r)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 400)
}
