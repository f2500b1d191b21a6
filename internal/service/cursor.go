package service

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/stacklok/toolhive-registry-aggregator/internal/unified"
)

// CursorSeparator is the delimiter used to separate tool count and id in the cursor
const CursorSeparator = ":"

// Cursor is the position after the last record of a page. It is a key in
// snapshot order rather than an index, so a cursor stays valid across a
// snapshot reload.
type Cursor struct {
	ToolCount int
	ID        string
}

// DecodeCursor decodes a base64-encoded cursor string.
// The cursor format is: base64(toolCount:id)
// Returns nil if the cursor is empty.
func DecodeCursor(cursor string) (*Cursor, error) {
	if cursor == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cursor: %w", err)
	}

	parts := strings.SplitN(string(decoded), CursorSeparator, 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format: expected toolCount:id")
	}
	count, err := strconv.Atoi(parts[0])
	if err != nil || count < 0 {
		return nil, fmt.Errorf("invalid cursor format: bad tool count %q", parts[0])
	}

	return &Cursor{ToolCount: count, ID: parts[1]}, nil
}

// EncodeCursor encodes the position of a record into a base64 cursor string
func EncodeCursor(rec *unified.Record) string {
	cursorValue := strconv.Itoa(rec.ToolCount) + CursorSeparator + rec.ID
	return base64.StdEncoding.EncodeToString([]byte(cursorValue))
}

// Follows reports whether rec sorts after the cursor position
func (c *Cursor) Follows(rec *unified.Record) bool {
	if c == nil {
		return true
	}
	if rec.ToolCount != c.ToolCount {
		return rec.ToolCount < c.ToolCount
	}
	return rec.ID > c.ID
}
