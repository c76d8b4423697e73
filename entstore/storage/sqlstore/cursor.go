package sqlstore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CursorMode specifies how cursors are issued.
type CursorMode string

const (
	// CursorFull issues self-contained base64url JSON tokens.
	CursorFull CursorMode = "full"
	// CursorShort issues "c:handle" tokens whose payload lives in the
	// cursors table with a TTL.
	CursorShort CursorMode = "short"
)

const shortCursorPrefix = "c:"

// cursorPayload marks an absolute position in a query's result order.
// Tokens are opaque to callers; only the store interprets them.
type cursorPayload struct {
	Offset int64 `json:"offset"`
}

// resolveCursor decodes a cursor token, loading short handles from the
// cursors table.
func (s *Store) resolveCursor(ctx context.Context, token []byte) (*cursorPayload, error) {
	t := string(token)
	if strings.HasPrefix(t, shortCursorPrefix) {
		return s.resolveShort(ctx, t[len(shortCursorPrefix):])
	}
	decoded, err := base64.RawURLEncoding.DecodeString(t)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	var payload cursorPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal cursor: %w", err)
	}
	return &payload, nil
}

func (s *Store) resolveShort(ctx context.Context, handle string) (*cursorPayload, error) {
	var payloadJSON string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, s.sqlt.GetCursor, handle).Scan(&payloadJSON, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cursor expired or not found")
	}
	if err != nil {
		return nil, fmt.Errorf("query cursor: %w", err)
	}
	if s.nowMS() > expiresAt {
		return nil, fmt.Errorf("cursor expired")
	}
	var payload cursorPayload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal cursor payload: %w", err)
	}
	return &payload, nil
}

// makeCursor encodes a payload per the store's cursor mode.
func (s *Store) makeCursor(ctx context.Context, payload cursorPayload) ([]byte, error) {
	if s.opts.CursorMode == CursorShort {
		return s.storeShort(ctx, payload)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal cursor: %w", err)
	}
	return []byte(base64.RawURLEncoding.EncodeToString(payloadJSON)), nil
}

func (s *Store) storeShort(ctx context.Context, payload cursorPayload) ([]byte, error) {
	handle := uuid.NewString()
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal cursor: %w", err)
	}
	nowMS := s.nowMS()
	expiresAtMS := nowMS + s.opts.CursorTTL.Milliseconds()
	_, err = s.db.ExecContext(ctx, s.sqlt.PutCursor, handle, string(payloadJSON), nowMS, expiresAtMS)
	if err != nil {
		return nil, fmt.Errorf("store cursor: %w", err)
	}
	return []byte(shortCursorPrefix + handle), nil
}

// CleanupExpiredCursors removes cursor rows past their TTL.
func (s *Store) CleanupExpiredCursors(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.sqlt.CleanupExpiredCursors, s.nowMS())
	return err
}

func (s *Store) nowMS() int64 {
	return s.opts.Now().UnixMilli()
}
