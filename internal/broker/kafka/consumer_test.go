package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/TrackPool/internal/broker/messages"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	err       error
	i         int
	committed []kafka.Message
	commitErr error
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	return kafka.Message{}, errors.New("eof")
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	if r.commitErr != nil {
		return r.commitErr
	}
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func eventMessage(t *testing.T, ev messages.AllocationEvent) kafka.Message {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{Key: ev.Key(), Value: b}
}

func TestConsumer_Consume_DecodesAndCommits(t *testing.T) {
	ev := messages.AllocationEvent{
		Action:       "assign",
		TargetUserID: "u-1",
		Count:        2,
		TrackingIDs:  []string{"9405536207565275376438", "9405536207565275376439"},
		OccurredAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	fr := &fakeReader{
		msgs: []kafka.Message{eventMessage(t, ev)},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var got []messages.AllocationEvent
	err := c.Consume(context.Background(), func(ctx context.Context, e messages.AllocationEvent) error {
		got = append(got, e)
		return nil
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "fetch message")
	require.Equal(t, []messages.AllocationEvent{ev}, got)
	require.Len(t, fr.committed, 1)
	require.Zero(t, c.Skipped())
}

func TestConsumer_Consume_SkipsPoisonMessages(t *testing.T) {
	good := messages.AllocationEvent{Action: "consume", TargetUserID: "u-2", Count: 1, OccurredAt: time.Now().UTC()}
	fr := &fakeReader{
		msgs: []kafka.Message{
			{Key: []byte("x"), Value: []byte("not json")},
			{Key: []byte("y"), Value: []byte(`{"action":"","count":1}`)},
			eventMessage(t, good),
		},
		err: errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	calls := 0
	err := c.Consume(context.Background(), func(ctx context.Context, e messages.AllocationEvent) error {
		calls++
		require.Equal(t, "consume", e.Action)
		return nil
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, int64(2), c.Skipped())
	// битые тоже коммитятся
	require.Len(t, fr.committed, 3)
}

func TestConsumer_Consume_HandlerErrorStopsWithoutCommit(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{eventMessage(t, messages.AllocationEvent{
		Action: "revoke", Count: 1, OccurredAt: time.Now().UTC(),
	})}}
	c := newConsumerWithReader(fr)

	want := errors.New("handler failed")
	err := c.Consume(context.Background(), func(ctx context.Context, e messages.AllocationEvent) error { return want })
	require.ErrorIs(t, err, want)
	require.Empty(t, fr.committed)
}

func TestConsumer_Consume_CommitErrorWrapped(t *testing.T) {
	fr := &fakeReader{
		msgs:      []kafka.Message{{Value: []byte("garbage")}},
		commitErr: errors.New("rebalance"),
	}
	c := newConsumerWithReader(fr)

	err := c.Consume(context.Background(), func(ctx context.Context, e messages.AllocationEvent) error { return nil })
	require.Error(t, err)
	require.Contains(t, err.Error(), "commit message")
}

func TestConsumer_Close(t *testing.T) {
	fr := &fakeReader{}
	c := newConsumerWithReader(fr)
	require.NoError(t, c.Close())
	require.True(t, fr.closed)
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "t", "g")
	require.NotNil(t, c)
	require.NoError(t, c.Close())
}
