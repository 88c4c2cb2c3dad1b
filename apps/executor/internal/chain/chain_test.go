package chain

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"matcher/apps/executor/internal/config"
	"matcher/apps/executor/internal/model"
)

type dataErr struct {
	msg  string
	data interface{}
}

func (e *dataErr) Error() string          { return e.msg }
func (e *dataErr) ErrorData() interface{} { return e.data }

func selectorOf(sig string) string {
	return hexutil.Encode(crypto.Keccak256([]byte(sig))[:4])
}

type fakeBackend struct {
	mu         sync.Mutex
	chainID    int64
	block      uint64
	calls      func(msg ethereum.CallMsg, block *big.Int) ([]byte, error)
	estimate   error
	sent       []*types.Transaction
	status     uint64
	pendingFor int // receipt lookups answered with NotFound before the receipt appears
	lookups    int
	logs       []types.Log
	logQueries []ethereum.FilterQuery
	closed     bool
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(f.chainID), nil }
func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return f.block, nil
}
func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if f.calls == nil {
		return nil, errors.New("no calls configured")
	}
	return f.calls(msg, block)
}
func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimate != nil {
		return 0, f.estimate
	}
	return 100_000, nil
}
func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1e9), nil }
func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}
func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}
func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookups <= f.pendingFor {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{TxHash: h, Status: f.status, BlockNumber: big.NewInt(1234)}, nil
}
func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.logQueries = append(f.logQueries, q)
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}
func (f *fakeBackend) Close() { f.closed = true }

func testKey(t *testing.T) *ecdsa.PrivateKey {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func newTestConnector(t *testing.T, backend *fakeBackend) *Connector {
	c := NewConnector("bsc", big.NewInt(56), backend, testKey(t), common.HexToAddress("0x7DBA6a1488356428C33cC9fB8Ef3c8462c8679d0"), zaptest.NewLogger(t))
	c.receiptPoll = time.Millisecond
	return c
}

func sampleOrder() model.SignedOrder {
	return model.SignedOrder{
		Maker:        common.HexToAddress("0x00000000000000000000000000000000000a11ce"),
		TokenIn:      common.HexToAddress("0x55d398326f99059ff775485246999027b3197955"),
		TokenOut:     common.HexToAddress("0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c"),
		AmountIn:     big.NewInt(100),
		AmountOutMin: big.NewInt(5),
		Expiration:   big.NewInt(0),
		Nonce:        big.NewInt(1),
		Salt:         big.NewInt(7),
	}
}

func TestDecodeRevertDataKnowsSettlementErrors(t *testing.T) {
	for _, name := range []string{"BadSignature", "Expired", "InvalidOrder", "Overfill", "PriceTooLow"} {
		sel := selectorOf(name + "()")
		reason, selector, ok := DecodeRevertData(hexutil.MustDecode(sel))
		require.True(t, ok, name)
		assert.Equal(t, name, reason)
		assert.Equal(t, sel, selector)
	}

	_, _, ok := DecodeRevertData([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.False(t, ok)
	_, _, ok = DecodeRevertData([]byte{0x01})
	assert.False(t, ok)
}

func TestDecodeRevertWrapsOnlyKnownSelectors(t *testing.T) {
	known := &dataErr{msg: "execution reverted", data: selectorOf("Overfill()")}
	err := decodeRevert("base", "matchOrders", "", known)
	var revertErr *RevertError
	require.ErrorAs(t, err, &revertErr)
	assert.Equal(t, "Overfill", revertErr.Reason)
	assert.NotEmpty(t, revertErr.Hint())

	unknown := &dataErr{msg: "execution reverted", data: "0x12345678"}
	assert.Same(t, error(unknown), decodeRevert("base", "matchOrders", "", unknown))

	plain := errors.New("connection refused")
	assert.Same(t, plain, decodeRevert("base", "matchOrders", "", plain))
}

func TestReadsDegradeToDefaults(t *testing.T) {
	backend := &fakeBackend{calls: func(ethereum.CallMsg, *big.Int) ([]byte, error) {
		return nil, errors.New("rpc down")
	}}
	c := newTestConnector(t, backend)
	ctx := context.Background()
	o := sampleOrder()

	assert.False(t, c.VerifySignature(ctx, o, []byte{1, 2, 3}))
	assert.Equal(t, 0, c.AvailableToFill(ctx, o).Sign())
	assert.Equal(t, 0, c.BalanceOf(ctx, o.TokenIn, o.Maker).Sign())
	assert.Equal(t, 0, c.Allowance(ctx, o.TokenIn, o.Maker, c.Address()).Sign())
}

func TestReadsDecodeResults(t *testing.T) {
	verify := settlementABI.Methods["verifySignature"]
	avail := settlementABI.Methods["availableToFill"]
	balance := erc20ABI.Methods["balanceOf"]

	backend := &fakeBackend{calls: func(msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
		switch {
		case bytes.HasPrefix(msg.Data, verify.ID):
			return verify.Outputs.Pack(true)
		case bytes.HasPrefix(msg.Data, avail.ID):
			return avail.Outputs.Pack(big.NewInt(42))
		case bytes.HasPrefix(msg.Data, balance.ID):
			return balance.Outputs.Pack(big.NewInt(1000))
		}
		return nil, errors.New("unexpected call")
	}}
	c := newTestConnector(t, backend)
	ctx := context.Background()
	o := sampleOrder()

	assert.True(t, c.VerifySignature(ctx, o, []byte{1}))
	assert.Equal(t, "42", c.AvailableToFill(ctx, o).String())
	assert.Equal(t, "1000", c.BalanceOf(ctx, o.TokenIn, o.Maker).String())
}

func TestMatchOrdersDecodesMinedRevert(t *testing.T) {
	backend := &fakeBackend{
		status: types.ReceiptStatusFailed,
		calls: func(ethereum.CallMsg, *big.Int) ([]byte, error) {
			return nil, &dataErr{msg: "execution reverted", data: selectorOf("PriceTooLow()")}
		},
	}
	c := newTestConnector(t, backend)

	o := sampleOrder()
	ref, err := c.MatchOrders(context.Background(), o, []byte{1}, o, []byte{2}, big.NewInt(5), big.NewInt(90))

	var revertErr *RevertError
	require.ErrorAs(t, err, &revertErr)
	assert.Equal(t, "PriceTooLow", revertErr.Reason)
	assert.Equal(t, ref.Hash, revertErr.TxHash)
	assert.Equal(t, uint64(1234), ref.BlockNumber)
	require.Len(t, backend.sent, 1)
}

func TestTransferUnknownRevertStaysOpaque(t *testing.T) {
	backend := &fakeBackend{
		status: types.ReceiptStatusFailed,
		calls: func(ethereum.CallMsg, *big.Int) ([]byte, error) {
			return nil, errors.New("execution reverted")
		},
	}
	c := newTestConnector(t, backend)

	_, err := c.Transfer(context.Background(), common.HexToAddress("0x55d398326f99059ff775485246999027b3197955"), common.HexToAddress("0x01"), big.NewInt(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTxReverted)
	var revertErr *RevertError
	assert.False(t, errors.As(err, &revertErr))
}

func TestEstimationRevertIsNotSent(t *testing.T) {
	backend := &fakeBackend{estimate: &dataErr{msg: "execution reverted", data: selectorOf("BadSignature()")}}
	c := newTestConnector(t, backend)

	o := sampleOrder()
	_, err := c.MatchOrders(context.Background(), o, []byte{1}, o, []byte{2}, big.NewInt(5), big.NewInt(90))

	var revertErr *RevertError
	require.ErrorAs(t, err, &revertErr)
	assert.Equal(t, "BadSignature", revertErr.Reason)
	assert.Empty(t, revertErr.TxHash)
	assert.Empty(t, backend.sent)
}

func TestTransferFromSucceeds(t *testing.T) {
	backend := &fakeBackend{status: types.ReceiptStatusSuccessful}
	c := newTestConnector(t, backend)

	ref, err := c.TransferFrom(context.Background(), common.HexToAddress("0x55d398326f99059ff775485246999027b3197955"), common.HexToAddress("0x0a"), c.Address(), big.NewInt(90))
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, backend.sent[0].Hash().Hex(), ref.Hash)
	assert.Equal(t, uint64(120_000), backend.sent[0].Gas())
}

func TestTransactWaitsForSlowReceipt(t *testing.T) {
	backend := &fakeBackend{status: types.ReceiptStatusSuccessful, pendingFor: 200}
	c := newTestConnector(t, backend)

	ref, err := c.TransferFrom(context.Background(), common.HexToAddress("0x55d398326f99059ff775485246999027b3197955"), common.HexToAddress("0x0a"), c.Address(), big.NewInt(90))
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), ref.BlockNumber)
	assert.Equal(t, 201, backend.lookups)
}

func TestTransactCancelledWhileWaitingIsOutcomeUnknown(t *testing.T) {
	backend := &fakeBackend{status: types.ReceiptStatusSuccessful, pendingFor: 1 << 30}
	c := newTestConnector(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	ref, err := c.TransferFrom(ctx, common.HexToAddress("0x55d398326f99059ff775485246999027b3197955"), common.HexToAddress("0x0a"), c.Address(), big.NewInt(90))

	require.ErrorIs(t, err, ErrOutcomeUnknown)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, backend.sent[0].Hash().Hex(), ref.Hash)
	assert.NotErrorIs(t, err, ErrTxReverted)
}

func TestTxStatus(t *testing.T) {
	backend := &fakeBackend{status: types.ReceiptStatusSuccessful, pendingFor: 1}
	c := newTestConnector(t, backend)
	hash := common.HexToHash("0xabc").Hex()

	_, status, err := c.TxStatus(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, TxPending, status)

	ref, status, err := c.TxStatus(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, TxSucceeded, status)
	assert.Equal(t, uint64(1234), ref.BlockNumber)

	backend.status = types.ReceiptStatusFailed
	_, status, err = c.TxStatus(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, TxReverted, status)
}

func TestRetry(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := Backoff{Attempts: 4, Base: time.Millisecond, Factor: 2, Max: 5 * time.Millisecond}

	calls := 0
	err := Retry(context.Background(), b, logger, "flaky", func(int) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	boom := errors.New("boom")
	err = Retry(context.Background(), b, logger, "broken", func(int) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Retry(ctx, Backoff{Attempts: 3, Base: time.Hour, Factor: 1, Max: time.Hour}, logger, "cancelled", func(int) error { return boom })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffDelayIsCapped(t *testing.T) {
	assert.Equal(t, 2*time.Second, ConnectBackoff.Delay(0))
	assert.Equal(t, 3*time.Second, ConnectBackoff.Delay(1))
	assert.Equal(t, 15*time.Second, ConnectBackoff.Delay(9))
	assert.Equal(t, 10*time.Second, DialBackoff.Delay(5))
}

func TestConnectRejectsWrongChain(t *testing.T) {
	origDial, origConnect, origDialBackoff := Dial, ConnectBackoff, DialBackoff
	t.Cleanup(func() { Dial, ConnectBackoff, DialBackoff = origDial, origConnect, origDialBackoff })
	ConnectBackoff = Backoff{Attempts: 2, Base: time.Millisecond, Factor: 1, Max: time.Millisecond}
	DialBackoff = ConnectBackoff

	var dialed []*fakeBackend
	Dial = func(context.Context, string) (Backend, error) {
		b := &fakeBackend{chainID: 97}
		dialed = append(dialed, b)
		return b, nil
	}

	cfg := config.NetworkConfig{Name: "bsc", ChainID: 56, RpcURL: "http://rpc", SettlementAddress: "0x7DBA6a1488356428C33cC9fB8Ef3c8462c8679d0"}
	_, err := Connect(context.Background(), cfg, testKey(t), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong chain id")
	require.Len(t, dialed, 2)
	for _, b := range dialed {
		assert.True(t, b.closed)
	}

	Dial = func(context.Context, string) (Backend, error) { return &fakeBackend{chainID: 56}, nil }
	conn, err := Connect(context.Background(), cfg, testKey(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "bsc", conn.Network())
}

func matchedLog(t *testing.T, block uint64, index uint) types.Log {
	data, err := settlementABI.Events["Matched"].Inputs.NonIndexed().Pack(big.NewInt(5), big.NewInt(90))
	require.NoError(t, err)
	return types.Log{
		Address:     common.HexToAddress("0x7DBA6a1488356428C33cC9fB8Ef3c8462c8679d0"),
		Topics:      []common.Hash{MatchedEventSig, common.HexToHash("0xb1"), common.HexToHash("0x5e"), common.BytesToHash(common.HexToAddress("0x0e").Bytes())},
		Data:        data,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.HexToHash("0xfeed"),
	}
}

func TestDecodeLog(t *testing.T) {
	ev, err := DecodeLog("bsc", matchedLog(t, 10, 3))
	require.NoError(t, err)
	assert.Equal(t, KindMatched, ev.Kind)
	require.NotNil(t, ev.Matched)
	assert.Equal(t, "5", ev.Matched.AmountBase.String())
	assert.Equal(t, "90", ev.Matched.AmountQuote.String())
	assert.Equal(t, common.HexToAddress("0x0e"), ev.Matched.Matcher)

	tokenIn := common.HexToAddress("0x55d398326f99059ff775485246999027b3197955")
	tokenOut := common.HexToAddress("0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c")
	data, err := settlementABI.Events["OrderFilled"].Inputs.NonIndexed().Pack(tokenIn, tokenOut, big.NewInt(90), big.NewInt(5))
	require.NoError(t, err)
	ev, err = DecodeLog("bsc", types.Log{
		Topics: []common.Hash{OrderFilledEventSig, common.HexToHash("0xaa"), common.BytesToHash(common.HexToAddress("0x0a").Bytes()), common.BytesToHash(common.HexToAddress("0x0b").Bytes())},
		Data:   data,
	})
	require.NoError(t, err)
	assert.Equal(t, KindOrderFilled, ev.Kind)
	assert.Equal(t, tokenIn, ev.OrderFilled.TokenIn)
	assert.Equal(t, common.HexToAddress("0x0b"), ev.OrderFilled.Taker)
	assert.Equal(t, "5", ev.OrderFilled.AmountOut.String())

	_, err = DecodeLog("bsc", types.Log{Topics: []common.Hash{common.HexToHash("0x01")}})
	assert.Error(t, err)
}

type memCursor struct {
	blocks map[string]uint64
}

func (m *memCursor) GetLastProcessedBlock(network string) (uint64, bool, error) {
	b, ok := m.blocks[network]
	return b, ok, nil
}

func (m *memCursor) UpdateLastProcessedBlock(network string, block uint64) error {
	m.blocks[network] = block
	return nil
}

func TestWatcherScansInChunksAndAdvancesCursor(t *testing.T) {
	backend := &fakeBackend{block: 25, logs: []types.Log{matchedLog(t, 12, 0), matchedLog(t, 21, 1)}}
	conn := newTestConnector(t, backend)
	cursor := &memCursor{blocks: map[string]uint64{"bsc": 9}}
	w := NewWatcher(conn, cursor, 5, 100, zaptest.NewLogger(t))

	start, err := w.startBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(9), start)

	done, err := w.processBlockRange(context.Background(), start+1, 25)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), done)
	assert.Equal(t, uint64(25), cursor.blocks["bsc"])
	assert.Len(t, backend.logQueries, 4) // 10-14, 15-19, 20-24, 25-25

	first := <-w.Events()
	second := <-w.Events()
	assert.Equal(t, uint64(12), first.BlockNumber)
	assert.Equal(t, uint64(21), second.BlockNumber)
}

func TestWatcherStartsFromLookbackWithoutCursor(t *testing.T) {
	backend := &fakeBackend{block: 1000}
	w := NewWatcher(newTestConnector(t, backend), &memCursor{blocks: map[string]uint64{}}, 100, 200, zaptest.NewLogger(t))

	start, err := w.startBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(800), start)
}
