// Package security provides validation, sanitization, and limits for the ops package.
package security

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jdziat/simple-durable-ops/pkg/core"
)

// Security limits and configuration
const (
	// MaxExecutorNameLength is the maximum length for executor names
	MaxExecutorNameLength = 255

	// MaxParamsSize is the maximum size in bytes for serialized params (1MB)
	MaxParamsSize = 1 << 20

	// MinPriority is the highest priority an operation can have
	MinPriority = 0

	// MaxPriority is the lowest priority an operation can have
	MaxPriority = 10

	// MaxAttempts is the hard limit for attempts per operation
	MaxAttempts = 1000

	// MaxThreads is the hard limit for worker pool size
	MaxThreads = 1000

	// MaxQueueSize is the hard limit for the worker pool backlog
	MaxQueueSize = 100000

	// MaxCommentLength is the maximum length for stored comments
	MaxCommentLength = 4096

	// MaxDescriptionLength is the maximum length for group descriptions
	MaxDescriptionLength = 16384
)

// validExecutorName matches alphanumeric, hyphens, underscores, and dots
var validExecutorName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateExecutorName validates an executor name
func ValidateExecutorName(name string) error {
	if name == "" {
		return core.ErrInvalidExecutorName
	}
	if len(name) > MaxExecutorNameLength {
		return core.ErrExecutorNameTooLong
	}
	if !validExecutorName.MatchString(name) {
		return core.ErrInvalidExecutorName
	}
	return nil
}

// ValidatePriority checks the [0,10] range
func ValidatePriority(p int) error {
	if p < MinPriority || p > MaxPriority {
		return core.ErrInvalidPriority
	}
	return nil
}

// ValidateMaxAttempts requires at least one attempt
func ValidateMaxAttempts(n int) error {
	if n <= 0 || n > MaxAttempts {
		return core.ErrInvalidMaxAttempts
	}
	return nil
}

// ValidateRetryDelay rejects negative delays
func ValidateRetryDelay(d time.Duration) error {
	if d < 0 {
		return core.ErrInvalidRetryDelay
	}
	return nil
}

// ValidateWaitTimeout rejects negative timeouts. Nil means unset.
func ValidateWaitTimeout(d *time.Duration) error {
	if d != nil && *d < 0 {
		return core.ErrInvalidWaitTimeout
	}
	return nil
}

// ValidateParams enforces the params size limit
func ValidateParams(params string) error {
	if len(params) > MaxParamsSize {
		return core.ErrParamsTooLarge
	}
	return nil
}

// SanitizeComment truncates and sanitizes failure comments for storage
func SanitizeComment(msg string) string {
	return sanitize(msg, MaxCommentLength)
}

// SanitizeDescription truncates and sanitizes group descriptions
func SanitizeDescription(msg string) string {
	return sanitize(msg, MaxDescriptionLength)
}

func sanitize(msg string, limit int) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > limit {
		runes := []rune(result)
		result = string(runes[:limit-3]) + "..."
	}

	return result
}

// ClampThreads ensures the worker pool size is within limits
func ClampThreads(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxThreads {
		return MaxThreads
	}
	return n
}

// ClampQueueSize ensures the worker pool backlog is within limits
func ClampQueueSize(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxQueueSize {
		return MaxQueueSize
	}
	return n
}
