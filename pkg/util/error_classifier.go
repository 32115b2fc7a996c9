package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"groupmilestones/pkg/circuitbreaker"
)

// IsRetryableError determines if an error is retryable
// Returns: (isRetryable, errorType)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	// JSON decode errors - 不可重试（数据格式错误）
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return false, "not_found"
	}

	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return true, "circuit_open"
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPgError(pgErr)
	}

	// Context timeout - 可重试
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	if pgconn.SafeToRetry(err) {
		return true, "db_connection_error"
	}

	if errors.Is(err, redis.ErrClosed) {
		return true, "redis_unavailable"
	}

	// Network errors - 可重试
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "connection reset") {
		return true, "db_connection_error"
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown_error"
}

// classifyPgError maps SQLSTATE classes to retryability.
func classifyPgError(pgErr *pgconn.PgError) (bool, string) {
	code := pgErr.Code
	switch {
	case strings.HasPrefix(code, "08"):
		return true, "db_connection_error"
	case code == "40001", code == "40P01":
		return true, "db_serialization_failure"
	case strings.HasPrefix(code, "53"), strings.HasPrefix(code, "57"):
		return true, "db_unavailable"
	case strings.HasPrefix(code, "23"):
		return false, "constraint_violation"
	case strings.HasPrefix(code, "22"):
		return false, "data_exception"
	default:
		return false, "db_error"
	}
}

// ShouldRetry checks if an error should be retried based on retry count
func ShouldRetry(retryCount int64, maxRetries int64, isRetryable bool) bool {
	if !isRetryable {
		return false
	}
	return retryCount <= maxRetries
}
