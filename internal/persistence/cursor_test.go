package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/retirement/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	in := &domain.Cursor{CalculatedAt: time.Date(2025, time.May, 4, 10, 30, 0, 123, time.UTC), ID: "f-1"}

	out, err := DecodeCursor(EncodeCursor(in))
	require.NoError(t, err)
	require.True(t, in.CalculatedAt.Equal(out.CalculatedAt))
	require.Equal(t, "f-1", out.ID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	c, err := DecodeCursor("")
	require.NoError(t, err)
	require.Nil(t, c)

	_, err = DecodeCursor("%%%")
	require.Error(t, err)

	_, err = DecodeCursor("bm8tc2VwYXJhdG9y") // "no-separator"
	require.Error(t, err)
}
