package kafka

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func messages(n int) []kafka.Message {
	out := make([]kafka.Message, n)
	for i := range out {
		out[i] = kafka.Message{Topic: "order.events", Offset: int64(i), Value: []byte(`{}`)}
	}
	return out
}

func runConsumer(t *testing.T, c *Consumer, h Handler, until func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx, h) }()

	assert.Eventually(t, until, 3*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
}

func TestConsumerCommitsProcessedMessages(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := &fakeReader{pending: messages(5)}
	c := newConsumer(r, "stockwatch", "order.events", 3, nil)

	var handled atomic.Int32
	runConsumer(t, c, func(context.Context, kafka.Message) error {
		handled.Add(1)
		return nil
	}, func() bool { return len(r.commits()) == 5 })

	assert.EqualValues(t, 5, handled.Load())
	assert.ElementsMatch(t, []int64{0, 1, 2, 3, 4}, r.commits())
	assert.True(t, r.closed)
}

func TestConsumerRetriesBeforeCommit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := &fakeReader{pending: messages(1)}
	c := newConsumer(r, "stockwatch", "order.events", 1, nil)

	var calls atomic.Int32
	runConsumer(t, c, func(context.Context, kafka.Message) error {
		if calls.Add(1) < 3 {
			return errors.New("redis unavailable")
		}
		return nil
	}, func() bool { return len(r.commits()) == 1 })

	assert.EqualValues(t, 3, calls.Load())
}

func TestConsumerCommitsPoisonMessage(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := &fakeReader{pending: messages(1)}
	c := newConsumer(r, "stockwatch", "order.events", 1, nil)
	c.attempts = 2

	var calls atomic.Int32
	runConsumer(t, c, func(context.Context, kafka.Message) error {
		calls.Add(1)
		return errors.New("always broken")
	}, func() bool { return len(r.commits()) == 1 })

	assert.EqualValues(t, 2, calls.Load())
}

func TestConsumerLeavesOffsetOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := &fakeReader{pending: messages(1)}
	c := newConsumer(r, "stockwatch", "order.events", 1, nil)

	started := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Run(ctx, func(hctx context.Context, _ kafka.Message) error {
			close(started)
			<-hctx.Done()
			return hctx.Err()
		})
	}()

	<-started
	cancel()
	require.NoError(t, <-errCh)
	assert.Empty(t, r.commits())
}
