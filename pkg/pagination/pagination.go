package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"wayfarer-backend/pkg/constants"
)

// ParseLimit clamps a limit query value into [1, MaxPageSize].
func ParseLimit(limitStr string) (int, error) {
	if limitStr == "" {
		return constants.DefaultPageSize, nil
	}
	l, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	switch {
	case l < 1:
		return 1, nil
	case l > constants.MaxPageSize:
		return constants.MaxPageSize, nil
	}
	return l, nil
}

// ParseOffset parses a non-negative offset.
func ParseOffset(offsetStr string) (int, error) {
	if offsetStr == "" {
		return 0, nil
	}
	o, err := strconv.Atoi(offsetStr)
	if err != nil || o < 0 {
		return 0, fmt.Errorf("invalid offset parameter: %q", offsetStr)
	}
	return o, nil
}

// EncodeCursor turns opaque driver paging state into a URL-safe token.
func EncodeCursor(state []byte) string {
	if len(state) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(state)
}

// DecodeCursor reverses EncodeCursor. An empty cursor means the first page.
func DecodeCursor(cursor string) ([]byte, error) {
	if cursor == "" {
		return nil, nil
	}
	state, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	return state, nil
}
