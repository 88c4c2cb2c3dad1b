package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"matcher/apps/executor/internal/events"
	"matcher/apps/executor/internal/model"
)

var executorAddr = common.HexToAddress("0x00000000000000000000000000000000000e8ec0")

type fakeFills struct {
	confirmed []string
	rows      int64
	err       error
}

func (f *fakeFills) ConfirmFill(_ context.Context, network, txHash string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.confirmed = append(f.confirmed, network+":"+txHash)
	return f.rows, nil
}

func message(t *testing.T, eventType string, payload interface{}) []byte {
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	msg, err := json.Marshal(events.SettlementEvent{
		EventID:   "e-1",
		EventType: eventType,
		Network:   "bsc",
		TxHash:    "0xfeed",
		EventData: data,
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	return msg
}

func TestMatchedEventConfirmsFill(t *testing.T) {
	fills := &fakeFills{rows: 1}
	r := NewReconcilerWithConsumer(nil, "settlements", executorAddr, zaptest.NewLogger(t), fills)

	err := r.processMessage(context.Background(), message(t, model.EventChainMatched, events.ChainMatchedPayload{Matcher: executorAddr.Hex()}))
	require.NoError(t, err)
	assert.Equal(t, []string{"bsc:0xfeed"}, fills.confirmed)
}

func TestOtherEventsAreIgnored(t *testing.T) {
	fills := &fakeFills{rows: 1}
	r := NewReconcilerWithConsumer(nil, "settlements", executorAddr, zaptest.NewLogger(t), fills)

	require.NoError(t, r.processMessage(context.Background(), message(t, model.EventFill, events.FillPayload{})))
	require.NoError(t, r.processMessage(context.Background(), message(t, model.EventChainOrderFilled, events.ChainOrderFilledPayload{})))
	assert.Empty(t, fills.confirmed)
}

func TestStoreErrorsSurface(t *testing.T) {
	fills := &fakeFills{err: errors.New("db down")}
	r := NewReconcilerWithConsumer(nil, "settlements", executorAddr, zaptest.NewLogger(t), fills)

	err := r.processMessage(context.Background(), message(t, model.EventChainMatched, events.ChainMatchedPayload{}))
	assert.Error(t, err)
}

func TestMalformedMessage(t *testing.T) {
	r := NewReconcilerWithConsumer(nil, "settlements", executorAddr, zaptest.NewLogger(t), &fakeFills{})
	assert.Error(t, r.processMessage(context.Background(), []byte("{")))
}
