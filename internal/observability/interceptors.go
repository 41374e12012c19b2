package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"ai-speech-intelligence-service/internal/observability/metrics"
)

// UnaryServerInterceptor logs and counts unary calls.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observeCall(m, info.FullMethod, "unary", start, err)
		return resp, err
	}
}

// StreamServerInterceptor logs and counts streaming calls, which for this
// server are health watches.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observeCall(m, info.FullMethod, "stream", start, err)
		return err
	}
}

func observeCall(m *metrics.Metrics, method, kind string, start time.Time, err error) {
	elapsed := time.Since(start)
	code := status.Code(err).String()
	if m != nil {
		m.RecordGRPCCall(method, code, elapsed.Seconds())
	}

	// Health checks hit the health service every few seconds.
	level := zerolog.InfoLevel
	if err == nil && strings.HasPrefix(method, "/grpc.health.v1.Health/") {
		level = zerolog.DebugLevel
	} else if err != nil {
		level = zerolog.WarnLevel
	}
	log.WithLevel(level).
		Str("method", method).
		Str("kind", kind).
		Str("code", code).
		Dur("duration", elapsed).
		Msg("gRPC call finished")
}
