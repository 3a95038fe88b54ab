package services

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisSessionStore(t *testing.T) *RedisSessionStore {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Del(ctx, sessionKey(leadID))
		client.Close()
	})
	return NewRedisSessionStore(client, time.Minute)
}

func TestRedisSessionStore_RoundTrip(t *testing.T) {
	r := newTestRedisSessionStore(t)
	ctx := context.Background()
	require.NoError(t, r.Delete(ctx, leadID))

	got, err := r.Get(ctx, leadID)
	require.NoError(t, err)
	assert.Nil(t, got)

	sess := newDatesSession()
	sess.StartedAt = reportTime
	require.NoError(t, r.Put(ctx, sess))

	found, err := r.Update(ctx, leadID, func(s *RosterSession) bool {
		s.Apply(Callback{Kind: CallbackSelectDate, Date: "2025-03-05"})
		return true
	})
	require.NoError(t, err)
	assert.True(t, found)

	got, err = r.Get(ctx, leadID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"2025-03-05"}, got.Dates)
	assert.Equal(t, time.March, got.Month)
	assert.True(t, reportTime.Equal(got.StartedAt))

	_, err = r.Update(ctx, leadID, func(*RosterSession) bool { return false })
	require.NoError(t, err)
	got, err = r.Get(ctx, leadID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisSessionStore_ConcurrentUpdates(t *testing.T) {
	r := newTestRedisSessionStore(t)
	ctx := context.Background()
	require.NoError(t, r.Put(ctx, newDatesSession()))

	var wg sync.WaitGroup
	for day := 1; day <= 5; day++ {
		wg.Add(1)
		go func(day int) {
			defer wg.Done()
			date := time.Date(2025, time.March, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
			_, err := r.Update(ctx, leadID, func(s *RosterSession) bool {
				s.Toggle(date)
				return true
			})
			assert.NoError(t, err)
		}(day)
	}
	wg.Wait()

	got, err := r.Get(ctx, leadID)
	require.NoError(t, err)
	assert.Len(t, got.Dates, 5)
}
