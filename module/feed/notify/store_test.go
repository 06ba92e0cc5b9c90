package notify

import (
	"errors"
	"testing"

	"PPNotify/module/feed/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AppendInOrder(t *testing.T) {
	s := NewStore()
	assert.Equal(t, uint32(0), s.NextID())

	require.NoError(t, s.Append(model.NewNotification(0, "A", "first", 1, 0)))
	require.NoError(t, s.Append(model.NewNotification(1, "B", "second", 2, 1)))
	assert.Equal(t, uint32(2), s.NextID())
	assert.Equal(t, 2, s.Len())

	n, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, "second", n.Body)

	_, ok = s.Get(2)
	assert.False(t, ok)
}

func TestStore_RejectsGapsAndReuse(t *testing.T) {
	s := NewStore()
	err := s.Append(model.NewNotification(1, "A", "skip", 1, 0))
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	require.NoError(t, s.Append(model.NewNotification(0, "A", "ok", 1, 0)))
	err = s.Append(model.NewNotification(0, "A", "again", 1, 0))
	assert.True(t, errors.Is(err, ErrOutOfOrder))
	assert.Equal(t, 1, s.Len())
}

func TestStore_AllIsACopy(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Append(model.NewNotification(0, "A", "x", 1, 0)))
	all := s.All()
	all[0].Body = "mutated"

	n, _ := s.Get(0)
	assert.Equal(t, "x", n.Body)
}

func TestStore_ReplicateAcceptsRedelivery(t *testing.T) {
	s := NewStore()
	first := model.NewNotification(0, "A", "first", 1, 0)
	require.NoError(t, s.Replicate(first))
	require.NoError(t, s.Replicate(first))
	assert.Equal(t, 1, s.Len())

	// the ack for id 0 never reached the primary, which reused the id
	second := model.NewNotification(0, "A", "second", 2, 0)
	require.NoError(t, s.Replicate(second))
	n, _ := s.Get(0)
	assert.Equal(t, "second", n.Body)

	require.NoError(t, s.Replicate(model.NewNotification(1, "B", "next", 3, 0)))
	require.NoError(t, s.Replicate(second))
	err := s.Replicate(model.NewNotification(0, "A", "third", 4, 0))
	assert.True(t, errors.Is(err, ErrConflict))

	err = s.Replicate(model.NewNotification(5, "A", "gap", 5, 0))
	assert.True(t, errors.Is(err, ErrOutOfOrder))
	assert.Equal(t, 2, s.Len())
}
