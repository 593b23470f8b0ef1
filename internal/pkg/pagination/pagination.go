package pagination

import (
	"strconv"
	"strings"
	"time"

	"github.com/campuslink/core/internal/pkg/apperr"
	"github.com/gin-gonic/gin"
)

const (
	DefaultSize = 50
	MaxSize     = 100
)

// Cursor holds parsed message-history paging parameters.
type Cursor struct {
	Before *time.Time
	Limit  int
}

// FromContext extracts ?before= and ?limit= from the request.
func FromContext(c *gin.Context) (Cursor, error) {
	before, err := ParseBefore(c.Query("before"))
	if err != nil {
		return Cursor{}, err
	}
	return Cursor{Before: before, Limit: ClampLimit(parseIntOr(c.Query("limit"), 0))}, nil
}

// ParseBefore accepts unix milliseconds or RFC3339. Empty means "now".
func ParseBefore(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, apperr.Validation("before must be unix milliseconds or RFC3339")
	}
	t = t.UTC()
	return &t, nil
}

// ClampLimit applies the default and the upper bound.
func ClampLimit(limit int) int {
	if limit < 1 {
		return DefaultSize
	}
	if limit > MaxSize {
		return MaxSize
	}
	return limit
}

func parseIntOr(s string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return v
}
