package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EncodeToken serialises the cursor into a URL-safe page token. An empty cursor yields "".
func EncodeToken(cursor Cursor) (string, error) {
	if len(cursor.StartAfter) == 0 && len(cursor.StartAt) == 0 {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}

// RunLogToken encodes the position after a run log in newest-first order.
func RunLogToken(triggeredAt time.Time, id string) (string, error) {
	return EncodeToken(Cursor{StartAfter: []any{triggeredAt.UTC().Format(time.RFC3339Nano), id}})
}

// DecodeRunLogToken reverses RunLogToken. ok is false for an empty token.
func DecodeRunLogToken(token string) (triggeredAt time.Time, id string, ok bool, err error) {
	cursor, err := DecodeToken(token)
	if err != nil || len(cursor.StartAfter) == 0 {
		return time.Time{}, "", false, err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", false, fmt.Errorf("%w: malformed run log cursor", ErrInvalidPageToken)
	}
	raw, _ := cursor.StartAfter[0].(string)
	id, _ = cursor.StartAfter[1].(string)
	triggeredAt, perr := time.Parse(time.RFC3339Nano, raw)
	if perr != nil || id == "" {
		return time.Time{}, "", false, fmt.Errorf("%w: malformed run log cursor", ErrInvalidPageToken)
	}
	return triggeredAt, id, true, nil
}

// OffsetToken encodes a plain list offset for in-memory stores.
func OffsetToken(offset int) (string, error) {
	if offset <= 0 {
		return "", nil
	}
	return EncodeToken(Cursor{StartAfter: []any{strconv.Itoa(offset)}})
}

// DecodeOffsetToken reverses OffsetToken. An empty token is offset zero.
func DecodeOffsetToken(token string) (int, error) {
	cursor, err := DecodeToken(token)
	if err != nil || len(cursor.StartAfter) == 0 {
		return 0, err
	}
	raw, _ := cursor.StartAfter[0].(string)
	offset, perr := strconv.Atoi(raw)
	if len(cursor.StartAfter) != 1 || perr != nil || offset < 0 {
		return 0, fmt.Errorf("%w: malformed offset cursor", ErrInvalidPageToken)
	}
	return offset, nil
}
