package nativeengine

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/papertrader-engine/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeEngine writes a tiny shell script that reads stdin (discarded)
// and echoes a canned scan response, standing in for the real native
// binary in tests.
func writeFakeEngine(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine script is a POSIX shell script")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-engine.sh")
	script := "#!/bin/sh\ncat > /dev/null\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestEngine_Available(t *testing.T) {
	e := New(Config{BinaryPath: ""}, nil)
	assert.False(t, e.Available())

	path := writeFakeEngine(t, `echo '{"success":true,"data":[]}'`)
	e2 := New(Config{BinaryPath: path}, nil)
	assert.True(t, e2.Available())

	missing := New(Config{BinaryPath: "/no/such/binary"}, nil)
	assert.False(t, missing.Available())
}

func TestEngine_Scan_ParsesSignals(t *testing.T) {
	path := writeFakeEngine(t, `echo '{"success":true,"data":[{"symbol":"RELIANCE","direction":"BUY","confidence":0.8,"entry":2500,"stop_loss":2450,"target":2600}]}'`)
	e := New(Config{BinaryPath: path, Timeout: 5 * time.Second}, nil)

	signals, err := e.Scan(context.Background(), pipeline.ScanRequest{Aggressiveness: "medium"})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "RELIANCE", signals[0].Symbol)
	assert.True(t, signals[0].Confidence.Equal(signals[0].Confidence))
}

func TestEngine_Scan_FailureResponse(t *testing.T) {
	path := writeFakeEngine(t, `echo '{"success":false,"error":"bad input"}'`)
	e := New(Config{BinaryPath: path, Timeout: 5 * time.Second}, nil)

	_, err := e.Scan(context.Background(), pipeline.ScanRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad input")
}

func TestEngine_Call_RejectsOversizedRequest(t *testing.T) {
	path := writeFakeEngine(t, `echo '{"success":true,"data":[]}'`)
	e := New(Config{BinaryPath: path, MaxInputBytes: 10}, nil)

	_, err := e.Scan(context.Background(), pipeline.ScanRequest{Aggressiveness: "high"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestEngine_Call_LimitsConcurrency(t *testing.T) {
	path := writeFakeEngine(t, `sleep 0.2; echo '{"success":true,"data":[]}'`)
	e := New(Config{BinaryPath: path, MaxConcurrent: 1, Timeout: 5 * time.Second}, nil)

	done := make(chan struct{}, 2)
	start := time.Now()
	for i := 0; i < 2; i++ {
		go func() {
			_, _ = e.Scan(context.Background(), pipeline.ScanRequest{})
			done <- struct{}{}
		}()
	}
	<-done
	<-done
	// With a single concurrency slot, two 200ms calls must serialize.
	assert.GreaterOrEqual(t, time.Since(start), 350*time.Millisecond)
}
