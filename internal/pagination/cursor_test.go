package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 891011, time.UTC)
	c, err := Decode(Encode(at, "8d5e1b7a-0000-4000-8000-000000000001"))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, at.Equal(c.At))
	assert.Equal(t, "8d5e1b7a-0000-4000-8000-000000000001", c.ID)
}

func TestDecode_Empty(t *testing.T) {
	c, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestDecode_Invalid(t *testing.T) {
	for _, s := range []string{
		"not-base64!!!",
		"bm9waXBl", // "nopipe"
		"YWJjfGlk", // "abc|id"
		"MTIzfA",   // "123|"
	} {
		_, err := Decode(s)
		assert.ErrorIs(t, err, ErrInvalidCursor, s)
	}
}

func TestCursorAfter(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &Cursor{At: at, ID: "b"}

	assert.True(t, c.After(at.Add(-time.Second), "a"), "older rows follow")
	assert.False(t, c.After(at.Add(time.Second), "z"), "newer rows precede")
	assert.True(t, c.After(at, "c"))
	assert.False(t, c.After(at, "b"))
	assert.False(t, c.After(at, "a"))

	var none *Cursor
	assert.True(t, none.After(at, "a"))
}

func TestPage(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	key := func(s string) (time.Time, string) { return at, s }

	items, next := Page([]string{"a", "b", "c"}, 5, key)
	assert.Len(t, items, 3)
	assert.Empty(t, next)

	items, next = Page([]string{"a", "b", "c", "d"}, 3, key)
	assert.Equal(t, []string{"a", "b", "c"}, items)
	c, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, "c", c.ID)
}
