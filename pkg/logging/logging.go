// Package logging 提供基于 zerolog 的结构化日志初始化与上下文透传。
//
// 组件在构造时接收 zerolog.Logger，并通过 Component 派生子 logger：
//
//	log := logging.New(logging.Config{Level: "info", Format: "json"})
//	svcLog := logging.Component(log, "recommend")
//	svcLog.Info().Str("user_id", uid).Msg("cache miss")
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config 是日志配置。
type Config struct {
	// Level: trace, debug, info, warn, error（默认 info）
	Level string `koanf:"level"`
	// Format: json 或 console（默认 json）
	Format string `koanf:"format"`
	// Output 默认 os.Stderr
	Output io.Writer `koanf:"-"`
}

// New 按配置创建 logger。
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Nop 返回丢弃所有输出的 logger，用于测试与未注入 logger 的组件。
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Component 派生带 component 字段的子 logger。
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

type contextKey string

const requestIDKey contextKey = "request_id"

// GenerateRequestID 生成请求 ID（完整 UUID）。
func GenerateRequestID() string {
	return uuid.New().String()
}

// ContextWithRequestID 在 context 中写入请求 ID。
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext 读取请求 ID，不存在返回空串。
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx 返回带 request_id 字段的 logger（context 中存在时）。
func Ctx(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	if id := RequestIDFromContext(ctx); id != "" {
		return l.With().Str("request_id", id).Logger()
	}
	return l
}
