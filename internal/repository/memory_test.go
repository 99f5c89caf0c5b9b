package repository

import (
	"context"
	"testing"
	"time"

	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListingRepositoryCodeIndex(t *testing.T) {
	r := NewInMemoryListingRepository()
	ctx := context.Background()

	require.NoError(t, r.Save(ctx, &domain.Listing{RoomID: "r1", Code: "AAAAAA"}))
	require.NoError(t, r.Save(ctx, &domain.Listing{RoomID: "r1", Code: "BBBBBB"}))

	_, err := r.GetByCode(ctx, "AAAAAA")
	assert.ErrorIs(t, err, ErrListingNotFound)
	got, err := r.GetByCode(ctx, "BBBBBB")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RoomID)

	assert.ErrorIs(t, r.Save(ctx, &domain.Listing{RoomID: "r2", Code: "BBBBBB"}), ErrCodeTaken)
}

func TestListingRepositoryReturnsCopies(t *testing.T) {
	r := NewInMemoryListingRepository()
	ctx := context.Background()
	l := &domain.Listing{RoomID: "r1", Code: "AAAAAA", Players: 1}
	require.NoError(t, r.Save(ctx, l))

	l.Players = 5
	got, err := r.GetByRoomID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Players)
}

func TestListingRepositoryDeleteExpired(t *testing.T) {
	r := NewInMemoryListingRepository()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, r.Save(ctx, &domain.Listing{RoomID: "old", Code: "AAAAAA", ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, r.Save(ctx, &domain.Listing{RoomID: "new", Code: "BBBBBB", ExpiresAt: now.Add(time.Minute)}))

	n, err := r.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].RoomID)
	_, err = r.GetByCode(ctx, "AAAAAA")
	assert.ErrorIs(t, err, ErrListingNotFound)
}

func TestRepositoryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, NewInMemoryListingRepository().Save(ctx, &domain.Listing{RoomID: "r"}), context.Canceled)
	_, err := NewInMemoryPeerRepository().Get(ctx, "p")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPeerRepositoryRemoveChecksOwner(t *testing.T) {
	r := NewInMemoryPeerRepository()
	ctx := context.Background()
	first := domain.NewSignalPeer("p")
	require.NoError(t, r.Add(ctx, first))
	assert.ErrorIs(t, r.Add(ctx, domain.NewSignalPeer("p")), ErrPeerExists)

	assert.ErrorIs(t, r.Remove(ctx, "p", domain.NewSignalPeer("p")), ErrPeerNotFound)
	require.NoError(t, r.Remove(ctx, "p", first))

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
