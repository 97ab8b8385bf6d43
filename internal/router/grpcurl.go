package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// GrpcurlForwarder shells out to the grpcurl binary to invoke a method on
// a downstream instance:
//
//	grpcurl -plaintext -d <json> host:port service/Method
//
// The payload and the response travel as JSON text, so the hub needs no
// compiled knowledge of downstream schemas.
type GrpcurlForwarder struct {
	// Binary is the grpcurl executable; defaults to "grpcurl" on PATH.
	Binary string
	Logger *zap.Logger
}

// NewGrpcurlForwarder returns a forwarder using grpcurl from PATH, or nil
// when the binary cannot be found. A nil forwarder makes the router report
// calls as not implemented rather than failing at invoke time.
func NewGrpcurlForwarder(logger *zap.Logger) *GrpcurlForwarder {
	if _, err := exec.LookPath("grpcurl"); err != nil {
		logger.Warn("grpcurl not found on PATH, call forwarding disabled")
		return nil
	}
	return &GrpcurlForwarder{Binary: "grpcurl", Logger: logger.Named("grpcurl")}
}

// Forward invokes service/method on host:port with the JSON payload and
// returns the JSON response bytes.
func (f *GrpcurlForwarder) Forward(ctx context.Context, host string, port int, service, method string, payload []byte) ([]byte, error) {
	binary := f.Binary
	if binary == "" {
		binary = "grpcurl"
	}
	address := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	fullMethod := fmt.Sprintf("%s/%s", service, method)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	cmd := exec.CommandContext(ctx, binary, "-plaintext", "-d", string(payload), address, fullMethod)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Preserve the context error as-is: a deadline and a caller
		// cancellation are different outcomes. Partial stdout goes back to
		// the router so it can tell a slow response from a hung instance.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return bytes.TrimSpace(stdout.Bytes()), ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = err.Error()
			}
			return nil, fmt.Errorf("call to %s at %s failed: %s", fullMethod, address, msg)
		}
		return nil, fmt.Errorf("exec grpcurl: %w", err)
	}

	if f.Logger != nil {
		f.Logger.Debug("forwarded call",
			zap.String("method", fullMethod),
			zap.String("address", address),
			zap.Int("response_bytes", stdout.Len()),
		)
	}
	return bytes.TrimSpace(stdout.Bytes()), nil
}
