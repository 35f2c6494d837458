package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heromessaging/heromessaging/scheduler"
)

func TestMemoryStorageAddRejectsDuplicateID(t *testing.T) {
	store := scheduler.NewMemoryStorage()
	entry := scheduler.ScheduledMessage{ScheduleID: uuid.New(), Status: scheduler.Pending}

	require.NoError(t, store.Add(context.Background(), entry))
	err := store.Add(context.Background(), entry)
	assert.Error(t, err)
}

func TestMemoryStorageGetDueOrdersByDeliverAtThenPriorityDesc(t *testing.T) {
	store := scheduler.NewMemoryStorage()
	base := time.Unix(1000, 0)

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	require.NoError(t, store.Add(context.Background(), scheduler.ScheduledMessage{
		ScheduleID: ids[0], DeliverAt: base, Priority: 1, Status: scheduler.Pending,
	}))
	require.NoError(t, store.Add(context.Background(), scheduler.ScheduledMessage{
		ScheduleID: ids[1], DeliverAt: base, Priority: 5, Status: scheduler.Pending,
	}))
	require.NoError(t, store.Add(context.Background(), scheduler.ScheduledMessage{
		ScheduleID: ids[2], DeliverAt: base.Add(-time.Second), Priority: 0, Status: scheduler.Pending,
	}))

	due, err := store.GetDue(context.Background(), base, 0)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, ids[2], due[0].ScheduleID, "earlier DeliverAt sorts first")
	assert.Equal(t, ids[1], due[1].ScheduleID, "equal DeliverAt: higher priority sorts first")
	assert.Equal(t, ids[0], due[2].ScheduleID)
}

func TestMemoryStorageTransitionsAreIdempotent(t *testing.T) {
	store := scheduler.NewMemoryStorage()
	id := uuid.New()
	require.NoError(t, store.Add(context.Background(), scheduler.ScheduledMessage{ScheduleID: id, Status: scheduler.Pending}))

	ok, err := store.MarkDelivered(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok, "cannot cancel an already-delivered entry")

	ok, err = store.MarkDelivered(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok, "cannot mark delivered twice")
}

func TestMemoryStorageCleanupRetainsFailedEntries(t *testing.T) {
	store := scheduler.NewMemoryStorage()
	delivered, cancelled, failed := uuid.New(), uuid.New(), uuid.New()
	old := time.Unix(0, 0)

	require.NoError(t, store.Add(context.Background(), scheduler.ScheduledMessage{ScheduleID: delivered, Status: scheduler.Delivered, CreatedAt: old}))
	require.NoError(t, store.Add(context.Background(), scheduler.ScheduledMessage{ScheduleID: cancelled, Status: scheduler.Cancelled, CreatedAt: old}))
	require.NoError(t, store.Add(context.Background(), scheduler.ScheduledMessage{ScheduleID: failed, Status: scheduler.Failed, CreatedAt: old}))

	removed, err := store.Cleanup(context.Background(), time.Unix(1000, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	got, err := store.Get(context.Background(), failed)
	require.NoError(t, err)
	assert.NotNil(t, got, "Failed entries are retained by Cleanup")

	got, err = store.Get(context.Background(), delivered)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStorageQueryPaginatesStably(t *testing.T) {
	store := scheduler.NewMemoryStorage()
	base := time.Unix(2000, 0)
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		id := uuid.New()
		ids = append(ids, id)
		require.NoError(t, store.Add(context.Background(), scheduler.ScheduledMessage{
			ScheduleID: id, DeliverAt: base.Add(time.Duration(i) * time.Second), Status: scheduler.Pending,
		}))
	}

	page1, err := store.Query(context.Background(), scheduler.Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)

	page2, err := store.Query(context.Background(), scheduler.Query{Offset: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page2, 2)

	assert.NotEqual(t, page1[0].ScheduleID, page2[0].ScheduleID)
	assert.NotEqual(t, page1[1].ScheduleID, page2[0].ScheduleID)
}
