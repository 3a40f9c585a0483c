package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/eduvault/backend/internal/logger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishSettlement(t *testing.T) {
	w := &captureWriter{}
	p := &Producer{writer: w, topic: "fee.settlement.recorded"}

	ctx := logger.WithRequestID(context.Background(), "req-1")
	err := p.PublishSettlement(ctx, SettlementRecorded{StudentID: "student-1", LedgerReference: "0xabc", Amount: 45000, Currency: "INR"})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "student-1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "req-1", string(msg.Headers[0].Value))

	var got SettlementRecorded
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "0xabc", got.LedgerReference)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishError(t *testing.T) {
	p := &Producer{writer: &captureWriter{err: errors.New("leader not available")}, topic: "t"}

	err := p.Publish(context.Background(), "k", map[string]string{"a": "b"})
	assert.ErrorContains(t, err, "leader not available")
}
