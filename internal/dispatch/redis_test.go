package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/reels-scheduler/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	r, err := NewRedis(context.Background(), &RedisConfig{
		Addr:         mr.Addr(),
		QueueName:    "reels",
		BlockTimeout: time.Second,
		RetryBackoff: 10 * time.Millisecond,
		AckTimeout:   time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	return r, mr
}

func publishJobs(t *testing.T, r *Redis, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = uuid.NewString()
		require.NoError(t, r.Publish(context.Background(), domain.Message{JobID: ids[i]}))
	}
	return ids
}

func receive(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(3 * time.Second):
		t.Fatal("no delivery")
		return Delivery{}
	}
}

// drain waits for the consumer goroutine to exit
func drain(t *testing.T, ch <-chan Delivery) {
	t.Helper()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-time.After(5 * time.Second):
			t.Fatal("consumer did not stop")
		}
	}
}

func jobID(t *testing.T, d Delivery) string {
	t.Helper()
	msg, err := domain.DecodeMessage(d.Body)
	require.NoError(t, err)
	return msg.JobID
}

func TestNewRedis_Defaults(t *testing.T) {
	mr := miniredis.RunT(t)

	r, err := NewRedis(context.Background(), &RedisConfig{Addr: mr.Addr(), QueueName: "reels"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 5*time.Second, r.blockTimeout)
	assert.Equal(t, time.Second, r.retryBackoff)
	assert.Equal(t, 5*time.Second, r.ackTimeout)
}

func TestRedis_PublishConsumeAck(t *testing.T) {
	r, mr := newTestRedis(t)
	ids := publishJobs(t, r, 2)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := r.Consume(ctx, "worker-1")
	require.NoError(t, err)

	for _, id := range ids {
		d := receive(t, ch)
		assert.Equal(t, id, jobID(t, d), "oldest message first")
		assert.False(t, d.Redelivered)
		require.NoError(t, d.Ack())
	}

	cancel()
	drain(t, ch)

	assert.False(t, mr.Exists(r.pendingKey()))
	assert.False(t, mr.Exists(r.processingKey("worker-1")), "acked messages leave the processing list")
	assert.False(t, mr.Exists(r.deadLetterKey()))
}

func TestRedis_Nack(t *testing.T) {
	tests := []struct {
		name     string
		requeue  bool
		wantDead int
	}{
		{name: "requeue is redelivered", requeue: true},
		{name: "reject moves to dead list", requeue: false, wantDead: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, mr := newTestRedis(t)
			id := publishJobs(t, r, 1)[0]

			ctx, cancel := context.WithCancel(context.Background())
			ch, err := r.Consume(ctx, "worker-1")
			require.NoError(t, err)

			first := receive(t, ch)
			assert.False(t, first.Redelivered)
			require.NoError(t, first.Nack(tt.requeue))

			if tt.requeue {
				again := receive(t, ch)
				assert.Equal(t, id, jobID(t, again))
				assert.True(t, again.Redelivered, "a requeued message must arrive redelivered")
				require.NoError(t, again.Ack())
			}

			cancel()
			drain(t, ch)

			assert.False(t, mr.Exists(r.pendingKey()))
			assert.False(t, mr.Exists(r.processingKey("worker-1")))

			if tt.wantDead == 0 {
				assert.False(t, mr.Exists(r.deadLetterKey()))
				return
			}
			dead, err := mr.List(r.deadLetterKey())
			require.NoError(t, err)
			require.Len(t, dead, tt.wantDead)

			var env envelope
			require.NoError(t, json.Unmarshal([]byte(dead[0]), &env))
			msg, err := domain.DecodeMessage(env.Body)
			require.NoError(t, err)
			assert.Equal(t, id, msg.JobID)
		})
	}
}

func TestRedis_RequeueGoesAheadOfOlderMessages(t *testing.T) {
	r, _ := newTestRedis(t)
	ids := publishJobs(t, r, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := r.Consume(ctx, "worker-1")
	require.NoError(t, err)

	first := receive(t, ch)
	require.Equal(t, ids[0], jobID(t, first))
	require.NoError(t, first.Nack(true))

	// The second message may already be in flight; the requeued one still
	// comes before the third
	redelivered := map[string]bool{}
	for i := 0; i < 2; i++ {
		d := receive(t, ch)
		redelivered[jobID(t, d)] = d.Redelivered
		require.NoError(t, d.Ack())
	}
	assert.Equal(t, map[string]bool{ids[0]: true, ids[1]: false}, redelivered)

	last := receive(t, ch)
	assert.Equal(t, ids[2], jobID(t, last))
	assert.False(t, last.Redelivered)
	require.NoError(t, last.Ack())
}

func TestRedis_ReplaysUnackedOnRestart(t *testing.T) {
	r, mr := newTestRedis(t)
	id := publishJobs(t, r, 1)[0]

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := r.Consume(ctx, "worker-1")
	require.NoError(t, err)

	d := receive(t, ch)
	assert.False(t, d.Redelivered)

	// Crash: never settled
	cancel()
	drain(t, ch)
	require.True(t, mr.Exists(r.processingKey("worker-1")))

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	ch, err = r.Consume(ctx, "worker-1")
	require.NoError(t, err)

	replayed := receive(t, ch)
	assert.Equal(t, id, jobID(t, replayed))
	assert.True(t, replayed.Redelivered)
	require.NoError(t, replayed.Ack())

	assert.False(t, mr.Exists(r.processingKey("worker-1")))
}

func TestRedis_ForeignEntryIsDeliveredRaw(t *testing.T) {
	r, mr := newTestRedis(t)
	_, err := mr.Lpush(r.pendingKey(), "not json")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := r.Consume(ctx, "worker-1")
	require.NoError(t, err)

	d := receive(t, ch)
	assert.Equal(t, "not json", string(d.Body))
	assert.False(t, d.Redelivered)
	require.NoError(t, d.Nack(false))

	cancel()
	drain(t, ch)

	dead, err := mr.List(r.deadLetterKey())
	require.NoError(t, err)
	assert.Equal(t, []string{"not json"}, dead)
}
