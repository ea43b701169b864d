// Package breaker 封装 gobreaker，供特征服务、打分服务等外部调用使用。
package breaker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Config 是熔断器配置。
type Config struct {
	Name             string        `koanf:"-"`
	MaxRequests      uint32        `koanf:"max_requests"`      // 半开状态允许的请求数
	Interval         time.Duration `koanf:"interval"`          // 闭合状态下计数重置周期
	Timeout          time.Duration `koanf:"timeout"`           // 打开状态持续时间
	FailureThreshold uint32        `koanf:"failure_threshold"` // 连续失败多少次后打开
}

// DefaultConfig 返回默认配置。
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// New 创建熔断器，状态变化写日志。
func New[T any](cfg Config, log zerolog.Logger) *gobreaker.CircuitBreaker[T] {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultConfig(cfg.Name).FailureThreshold
	}
	threshold := cfg.FailureThreshold
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
}

// PanicError 是 fn 在独立 goroutine 中 panic 后转换成的错误，计入熔断失败。
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("recovered panic: %v", e.Value) }

// Call 在超时与熔断保护下执行 fn。timeout<=0 时只受 ctx 约束。
// fn 不响应 ctx 时也会按时返回 ctx.Err()，fn 的结果被丢弃。
// fn 的 panic 以 *PanicError 返回，不会终止进程。
func Call[T any](ctx context.Context, cb *gobreaker.CircuitBreaker[T], timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	run := func() (T, error) { return withDeadline(ctx, fn) }
	if cb == nil {
		return run()
	}
	return cb.Execute(run)
}

type result[T any] struct {
	val T
	err error
}

func withDeadline[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	done := make(chan result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result[T]{err: &PanicError{Value: r, Stack: debug.Stack()}}
			}
		}()
		v, err := fn(ctx)
		done <- result[T]{val: v, err: err}
	}()
	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
