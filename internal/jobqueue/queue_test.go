package jobqueue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := New(client, Config{KeyPrefix: "test:", PollInterval: 20 * time.Millisecond}, nil)
	return q, mr
}

type newsPayload struct {
	Symbol string `json:"symbol"`
}

func TestQueue_AddJob_EnqueuesOnList(t *testing.T) {
	q, mr := newTestQueue(t)

	err := q.AddJob(context.Background(), "fetch_news", newsPayload{Symbol: "NIFTY"})
	require.NoError(t, err)

	raw, err := mr.Lpop(q.oneShotKey())
	require.NoError(t, err)

	var job Job
	require.NoError(t, json.Unmarshal([]byte(raw), &job))
	require.Equal(t, "fetch_news", job.Kind)

	var payload newsPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	require.Equal(t, "NIFTY", payload.Symbol)
}

func TestQueue_StartWorker_DispatchesOneShotJob(t *testing.T) {
	q, _ := newTestQueue(t)

	var mu sync.Mutex
	var received []string
	done := make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.StartWorker(ctx, func(_ context.Context, job Job) error {
		mu.Lock()
		received = append(received, job.Kind)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	require.NoError(t, q.AddJob(ctx, "fetch_news", newsPayload{Symbol: "BANKNIFTY"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked in time")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"fetch_news"}, received)
}

func TestQueue_AddRepeatingJob_StoresEnvelopeWithInterval(t *testing.T) {
	q, mr := newTestQueue(t)

	err := q.AddRepeatingJob(context.Background(), "premarket_briefing", newsPayload{Symbol: "SENSEX"}, time.Minute)
	require.NoError(t, err)

	members, err := mr.ZMembers(q.repeatingKey())
	require.NoError(t, err)
	require.Len(t, members, 1)

	var envelope repeatingEnvelope
	require.NoError(t, json.Unmarshal([]byte(members[0]), &envelope))
	require.Equal(t, "premarket_briefing", envelope.Job.Kind)
	require.Equal(t, time.Minute, envelope.Interval)
}

func TestQueue_DrainDueRepeatingJobs_ReschedulesAfterDispatch(t *testing.T) {
	q, mr := newTestQueue(t)

	require.NoError(t, q.AddRepeatingJob(context.Background(), "premarket_briefing", newsPayload{Symbol: "SENSEX"}, 30*time.Second))

	var calls int
	var mu sync.Mutex
	q.drainDueRepeatingJobs(context.Background(), func(_ context.Context, job Job) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	mu.Lock()
	require.Equal(t, 1, calls)
	mu.Unlock()

	members, err := mr.ZMembers(q.repeatingKey())
	require.NoError(t, err)
	require.Len(t, members, 1, "job should be rescheduled, not dropped")
}

func TestQueue_DrainDueRepeatingJobs_SkipsNotYetDue(t *testing.T) {
	q, mr := newTestQueue(t)

	require.NoError(t, q.AddRepeatingJob(context.Background(), "premarket_briefing", newsPayload{Symbol: "SENSEX"}, 30*time.Second))
	mr.FastForward(0) // no-op, keeps score at "now"

	// Manually push the score far into the future so it is not due yet.
	members, err := mr.ZMembers(q.repeatingKey())
	require.NoError(t, err)
	require.NoError(t, mr.ZAdd(q.repeatingKey(), 9999999999, members[0]))

	var calls int
	q.drainDueRepeatingJobs(context.Background(), func(_ context.Context, job Job) error {
		calls++
		return nil
	})
	require.Equal(t, 0, calls)
}
