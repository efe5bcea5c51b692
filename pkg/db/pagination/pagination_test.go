package pagination

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Size())
	assert.Equal(t, 10, Pagination{PageSize: 10}.Size())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 10_000}.Size())
}

func TestCursorRoundTrip(t *testing.T) {
	token := EncodeCursor(Cursor{ID: "42", CreatedAt: "2025-05-01T08:00:00Z"})
	c, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "42", c.ID)

	c, err = DecodeCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, c)

	for _, bad := range []string{"!!", "bm90LWpzb24", EncodeCursor(Cursor{ID: "1"})} {
		_, err := DecodeCursor(bad)
		assert.ErrorIs(t, err, ErrInvalidPageToken, bad)
	}
}

func TestPage(t *testing.T) {
	cursor := func(n int) Cursor { return Cursor{ID: strconv.Itoa(n), CreatedAt: "t"} }

	rows, info := Page([]int{1, 2, 3}, 3, cursor)
	assert.Len(t, rows, 3)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)

	rows, info = Page([]int{1, 2, 3, 4}, 3, cursor)
	assert.Equal(t, []int{1, 2, 3}, rows)
	require.True(t, info.HasMore)
	next, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, "3", next.ID)
}
