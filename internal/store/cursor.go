package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Cursor points at the oldest item of an already-fetched page. Pages are
// ordered by (created_at DESC, id DESC); the next page holds messages
// strictly older than the cursor in that total order.
type Cursor struct {
	CreatedAt time.Time
	Id        int64
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixMicro(), 10) + ":" + strconv.FormatInt(c.Id, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}

	tsStr, idStr, ok := strings.Cut(string(raw), ":")
	if !ok {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}

	return Cursor{CreatedAt: time.UnixMicro(ts).UTC(), Id: id}, nil
}

// NormalizeLimit clamps a requested page size into the allowed range,
// substituting the default for unset or invalid values.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
