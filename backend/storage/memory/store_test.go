package memory

import (
	"testing"

	"github.com/adwski/drawguess/backend/room"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoom(id string) *room.Room {
	logger := zerolog.Nop()
	return room.New(room.Config{Logger: &logger, ID: id, Clues: []string{"kot"}})
}

func TestMemStore(t *testing.T) {
	ms := NewMemStore()

	_, err := ms.GetRoom("1")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	one := newRoom("1")
	require.NoError(t, ms.AddRoom(newRoom("2")))
	require.NoError(t, ms.AddRoom(one))
	assert.ErrorIs(t, ms.AddRoom(newRoom("1")), ErrRoomExists)

	got, err := ms.GetRoom("1")
	require.NoError(t, err)
	assert.Same(t, one, got)

	rooms := ms.ListRooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, "1", rooms[0].ID())
	assert.Equal(t, "2", rooms[1].ID())

	removed, err := ms.RemoveRoom("1")
	require.NoError(t, err)
	assert.Same(t, one, removed)
	_, err = ms.RemoveRoom("1")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Len(t, ms.ListRooms(), 1)
}
