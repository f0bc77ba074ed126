package cachemanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type eventsQuery struct {
	SessionKey string
}

func newEventsCache(t *testing.T, skipCache bool, loadErr error) (*ReadThroughCache[string, []string, eventsQuery], *int) {
	t.Helper()

	loads := 0
	cache := NewInMemoryCacheManager[string, []string]("events", DefaultExpiration, DefaultCleanupInterval)

	return NewReadThroughCache[string, []string, eventsQuery](
		cache,
		func(ctx context.Context, input eventsQuery) ([]string, error) {
			loads++
			if loadErr != nil {
				return nil, loadErr
			}
			return []string{"dose1@" + input.SessionKey}, nil
		},
		skipCache,
	), &loads
}

func TestReadThroughCache_Get_WithCacheDisabled(t *testing.T) {
	rtc, loads := newEventsCache(t, true, nil)

	for range 2 {
		events, err := rtc.Get(context.Background(), "2025-03-08", eventsQuery{SessionKey: "2025-03-08"}, time.Minute)
		require.NoError(t, err)
		require.Equal(t, []string{"dose1@2025-03-08"}, events)
	}

	// Every read goes to the loader when the cache is disabled.
	require.Equal(t, 2, *loads)
}

func TestReadThroughCache_Get_PopulatesCache(t *testing.T) {
	rtc, loads := newEventsCache(t, false, nil)

	events, err := rtc.Get(context.Background(), "2025-03-08", eventsQuery{SessionKey: "2025-03-08"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"dose1@2025-03-08"}, events)
	require.Equal(t, 1, *loads)

	// Second read is served from cache.
	events, err = rtc.Get(context.Background(), "2025-03-08", eventsQuery{SessionKey: "2025-03-08"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"dose1@2025-03-08"}, events)
	require.Equal(t, 1, *loads)
}

func TestReadThroughCache_Get_LoaderError(t *testing.T) {
	rtc, loads := newEventsCache(t, false, errors.New("failed to load events"))

	_, err := rtc.Get(context.Background(), "2025-03-08", eventsQuery{SessionKey: "2025-03-08"}, time.Minute)
	require.Error(t, err)
	require.Equal(t, 1, *loads)

	// Errors are not cached.
	_, err = rtc.Get(context.Background(), "2025-03-08", eventsQuery{SessionKey: "2025-03-08"}, time.Minute)
	require.Error(t, err)
	require.Equal(t, 2, *loads)
}

func TestReadThroughCache_GetWithRefresh(t *testing.T) {
	rtc, loads := newEventsCache(t, false, nil)

	events, err := rtc.GetWithRefresh(context.Background(), "2025-03-08", eventsQuery{SessionKey: "2025-03-08"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"dose1@2025-03-08"}, events)

	events, err = rtc.GetWithRefresh(context.Background(), "2025-03-08", eventsQuery{SessionKey: "2025-03-08"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"dose1@2025-03-08"}, events)
	require.Equal(t, 1, *loads)
}

func TestReadThroughCache_Invalidate(t *testing.T) {
	rtc, loads := newEventsCache(t, false, nil)

	_, err := rtc.Get(context.Background(), "2025-03-08", eventsQuery{SessionKey: "2025-03-08"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, *loads)

	require.NoError(t, rtc.Invalidate(context.Background(), "2025-03-08"))

	_, err = rtc.Get(context.Background(), "2025-03-08", eventsQuery{SessionKey: "2025-03-08"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, *loads)
}

func TestReadThroughCache_Invalidate_WithCacheDisabled(t *testing.T) {
	rtc, _ := newEventsCache(t, true, nil)

	require.NoError(t, rtc.Invalidate(context.Background(), "2025-03-08"))
}
