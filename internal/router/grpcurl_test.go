package router

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubBinary writes an executable shell script standing in for grpcurl.
func stubBinary(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "grpcurl-stub")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func TestGrpcurlForwardSuccess(t *testing.T) {
	f := &GrpcurlForwarder{
		Binary: stubBinary(t, `printf '{"ok":true}\n'`),
		Logger: zap.NewNop(),
	}
	out, err := f.Forward(context.Background(), "127.0.0.1", 9001, "user", "GetUser", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(out))
}

func TestGrpcurlForwardExitError(t *testing.T) {
	f := &GrpcurlForwarder{
		Binary: stubBinary(t, `echo 'rpc error: code = Internal' >&2; exit 1`),
		Logger: zap.NewNop(),
	}
	_, err := f.Forward(context.Background(), "127.0.0.1", 9001, "user", "GetUser", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc error: code = Internal")
}

func TestGrpcurlForwardDeadlineNoOutput(t *testing.T) {
	f := &GrpcurlForwarder{
		Binary: stubBinary(t, `exec sleep 5`),
		Logger: zap.NewNop(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	out, err := f.Forward(ctx, "127.0.0.1", 9001, "user", "GetUser", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, out)
}

func TestGrpcurlForwardDeadlineKeepsPartialOutput(t *testing.T) {
	f := &GrpcurlForwarder{
		Binary: stubBinary(t, `printf '{"partial":'; exec sleep 5`),
		Logger: zap.NewNop(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	out, err := f.Forward(ctx, "127.0.0.1", 9001, "user", "GetUser", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, `{"partial":`, string(out))
}

func TestGrpcurlForwardCancelIsNotDeadline(t *testing.T) {
	f := &GrpcurlForwarder{
		Binary: stubBinary(t, `exec sleep 5`),
		Logger: zap.NewNop(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := f.Forward(ctx, "127.0.0.1", 9001, "user", "GetUser", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}
