package memory

import (
	"errors"
	"sort"
	"sync"

	"github.com/adwski/drawguess/backend/room"
)

var (
	ErrRoomExists   = errors.New("there is already a room with this id")
	ErrRoomNotFound = errors.New("there is no room with this id")
)

type MemStore struct {
	mx *sync.RWMutex
	db map[string]*room.Room
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx: &sync.RWMutex{},
		db: make(map[string]*room.Room),
	}
}

func (ms *MemStore) AddRoom(r *room.Room) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if _, ok := ms.db[r.ID()]; ok {
		return ErrRoomExists
	}
	ms.db[r.ID()] = r
	return nil
}

func (ms *MemStore) GetRoom(roomID string) (*room.Room, error) {
	ms.mx.RLock()
	defer ms.mx.RUnlock()

	r, ok := ms.db[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// RemoveRoom deletes the room from the store and returns it.
func (ms *MemStore) RemoveRoom(roomID string) (*room.Room, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.db[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	delete(ms.db, roomID)
	return r, nil
}

// ListRooms returns all rooms ordered by id.
func (ms *MemStore) ListRooms() []*room.Room {
	ms.mx.RLock()
	defer ms.mx.RUnlock()

	rooms := make([]*room.Room, 0, len(ms.db))
	for _, r := range ms.db {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].ID() < rooms[j].ID()
	})
	return rooms
}
