package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogRoomConfig(t *testing.T) {
	c := NewCatalog(
		Descriptor{Slug: "tictactoe", MinPlayers: 2, MaxPlayers: 2},
		Descriptor{Slug: "ludo", MinPlayers: 2, MaxPlayers: 4},
	)

	cfg, err := c.RoomConfig("ludo", true)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MinPlayers)
	assert.Equal(t, 4, cfg.MaxPlayers)
	assert.True(t, cfg.IsPrivate)

	_, err = c.RoomConfig("chess", false)
	assert.ErrorIs(t, err, ErrUnknownGame)

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "ludo", list[0].Slug)
}
