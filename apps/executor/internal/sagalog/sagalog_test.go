package sagalog

import (
	"math/big"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matcher/apps/executor/internal/model"
	"matcher/apps/executor/internal/saga"
)

func openMem(t *testing.T) *Log {
	l, err := OpenWithOptions("", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	l := openMem(t)
	rec := &saga.Record{
		ID:          "s-1",
		State:       saga.Leg1Custodied,
		Buyer:       common.HexToAddress("0x00000000000000000000000000000000000a11ce"),
		AmountBase:  big.NewInt(5),
		AmountQuote: new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil),
		BuyCustody:  &model.TxRef{Hash: "0xabc", BlockNumber: 7},
		UpdatedAt:   time.Unix(100, 0).UTC(),
	}
	require.NoError(t, l.Save(rec))

	got, ok, err := l.Get("s-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, saga.Leg1Custodied, got.State)
	assert.Equal(t, rec.Buyer, got.Buyer)
	assert.Equal(t, rec.AmountQuote.String(), got.AmountQuote.String())
	assert.Equal(t, uint64(7), got.BuyCustody.BlockNumber)

	_, ok, err = l.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPendingSkipsTerminalRecords(t *testing.T) {
	l := openMem(t)
	require.NoError(t, l.Save(&saga.Record{ID: "a", State: saga.SettledLeg1}))
	require.NoError(t, l.Save(&saga.Record{ID: "b", State: saga.Completed}))
	require.NoError(t, l.Save(&saga.Record{ID: "c", State: saga.Failed}))
	require.NoError(t, l.Save(&saga.Record{ID: "d", State: saga.Compensating}))

	pending, err := l.Pending()
	require.NoError(t, err)
	ids := []string{}
	for _, r := range pending {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"a", "d"}, ids)
}

func TestSaveOverwritesState(t *testing.T) {
	l := openMem(t)
	rec := &saga.Record{ID: "a", State: saga.NotStarted}
	require.NoError(t, l.Save(rec))
	rec.State = saga.Failed
	require.NoError(t, l.Save(rec))

	pending, err := l.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRecentOrdersByUpdate(t *testing.T) {
	l := openMem(t)
	base := time.Unix(1000, 0)
	for i, id := range []string{"old", "new", "mid"} {
		offsets := []time.Duration{0, 2 * time.Minute, time.Minute}
		require.NoError(t, l.Save(&saga.Record{ID: id, State: saga.Completed, UpdatedAt: base.Add(offsets[i])}))
	}

	recent, err := l.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "new", recent[0].ID)
	assert.Equal(t, "mid", recent[1].ID)
}

func TestKeyUpperBound(t *testing.T) {
	assert.Equal(t, []byte("saga;"), keyUpperBound([]byte("saga:")))
	assert.Nil(t, keyUpperBound([]byte{0xff}))
}
