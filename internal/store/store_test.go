package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedcal/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "schedcal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := model.Schedule{
		Name:      "nightly regression",
		Active:    true,
		TimeOfDay: "02:30:00",
		Rule:      model.Weekly{Days: []time.Weekday{time.Monday, time.Thursday}},
		Repeat:    model.RepeatAlways,
	}
	id, err := s.Put(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, id, "empty id should be minted")

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "nightly regression", got.Name)
	assert.True(t, got.Active)
	assert.Equal(t, "02:30:00", got.TimeOfDay)
	assert.Equal(t, model.RepeatAlways, got.Repeat)
	require.IsType(t, model.Weekly{}, got.Rule)
	assert.Equal(t, []time.Weekday{time.Monday, time.Thursday}, got.Rule.(model.Weekly).Days)
}

func TestPutUpdatesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Put(ctx, model.Schedule{Name: "a", Active: true, TimeOfDay: "10:00", Rule: model.Daily{}})
	require.NoError(t, err)

	_, err = s.Put(ctx, model.Schedule{ID: id, Name: "b", Active: false, TimeOfDay: "11:00", Rule: model.Monthly{Day: 5}})
	require.NoError(t, err)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].Name)
	assert.False(t, all[0].Active)
	assert.Equal(t, model.Monthly{Day: 5}, all[0].Rule)
}

func TestListPreservesInsertionOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		_, err := s.Put(ctx, model.Schedule{Name: name, Active: true, TimeOfDay: "09:00", Rule: model.Daily{}})
		require.NoError(t, err)
	}

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "first", all[0].Name)
	assert.Equal(t, "second", all[1].Name)
	assert.Equal(t, "third", all[2].Name)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Put(ctx, model.Schedule{Name: "x", Active: true, TimeOfDay: "09:00", Rule: model.Daily{}})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))
	assert.ErrorIs(t, s.Delete(ctx, id), ErrNotFound)

	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceSourceLeavesManualRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	manualID, err := s.Put(ctx, model.Schedule{Name: "manual", Active: true, TimeOfDay: "09:00", Rule: model.Daily{}})
	require.NoError(t, err)

	feed := []model.Schedule{
		{ID: "feed-1", Name: "import a", Active: true, TimeOfDay: "08:00", Rule: model.Daily{}},
		{ID: "feed-2", Name: "import b", Active: true, TimeOfDay: "08:00", Rule: model.Daily{}},
	}
	require.NoError(t, s.ReplaceSource(ctx, "team-cal", feed))

	// Second import shrinks the feed; the manual row must survive.
	require.NoError(t, s.ReplaceSource(ctx, "team-cal", feed[:1]))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	ids := []string{all[0].ID, all[1].ID}
	assert.Contains(t, ids, manualID)
	assert.Contains(t, ids, "feed-1")
}

func TestUnknownScheduleTypeDecodesFailClosed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, name, active, schedule_type, time_of_day) VALUES('legacy', 'old', 1, 'yearly', '09:00')`)
	require.NoError(t, err)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "legacy", all[0].ID)
	assert.Nil(t, all[0].Rule)
}
