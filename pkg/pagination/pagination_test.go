package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", 20, false},
		{"5", 5, false},
		{"0", 1, false},
		{"1000", 100, false},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLimit(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseOffset(t *testing.T) {
	o, err := ParseOffset("40")
	require.NoError(t, err)
	assert.Equal(t, 40, o)

	_, err = ParseOffset("-1")
	assert.Error(t, err)
}

func TestCursorRoundTrip(t *testing.T) {
	state := []byte{0x00, 0xff, 0x10, 0x2f}
	cursor := EncodeCursor(state)
	assert.NotContains(t, cursor, "/")

	back, err := DecodeCursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, state, back)

	empty, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = DecodeCursor("%%%")
	assert.Error(t, err)
}
