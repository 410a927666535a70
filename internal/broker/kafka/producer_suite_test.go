package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/TrackPool/internal/broker/messages"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type writerMock struct {
	mock.Mock
}

func (m *writerMock) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

type ProducerSuite struct {
	suite.Suite
	wm *writerMock
	p  *Producer
}

func (s *ProducerSuite) SetupTest() {
	s.wm = &writerMock{}
	s.p = newProducerWithWriter(s.wm)
}

func (s *ProducerSuite) TestPublish_AllocationEvent() {
	ev := messages.AllocationEvent{
		Action:       "revoke",
		TargetUserID: "6c1f1b8e-8d7c-4a53-9a43-0d1c1a3e4f11",
		ActorID:      "admin-1",
		Count:        3,
		OccurredAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	value, err := json.Marshal(ev)
	s.Require().NoError(err)

	s.wm.
		On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 {
				return false
			}
			m := msgs[0]
			var got messages.AllocationEvent
			if json.Unmarshal(m.Value, &got) != nil {
				return false
			}
			return m.Topic == "trackpool.allocation" &&
				string(m.Key) == ev.TargetUserID &&
				got.Action == "revoke" && got.Count == 3 &&
				len(m.Headers) == 1 && string(m.Headers[0].Value) == "application/json"
		})).
		Return(nil).
		Once()

	s.Require().NoError(s.p.Publish(context.Background(), "trackpool.allocation", ev.Key(), value))
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestPublish_ErrorWrappedWithTopic() {
	want := errors.New("leader not available")
	s.wm.On("WriteMessages", mock.Anything, mock.Anything).Return(want).Once()

	err := s.p.Publish(context.Background(), "trackpool.allocation", []byte("u"), []byte("{}"))
	s.Require().ErrorIs(err, want)
	s.Require().Contains(err.Error(), "kafka publish to trackpool.allocation")
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestClose_WriterWithoutCloser() {
	s.Require().NoError(s.p.Close())
}

func TestProducerSuite(t *testing.T) {
	suite.Run(t, new(ProducerSuite))
}
