package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"matcher/apps/executor/internal/assets"
	"matcher/apps/executor/internal/saga"
)

type fakeChain struct {
	name     string
	from     common.Address
	balances map[common.Address]*big.Int
}

func (c *fakeChain) Network() string                   { return c.name }
func (c *fakeChain) Address() common.Address           { return c.from }
func (c *fakeChain) SettlementAddress() common.Address { return common.HexToAddress("0x5e") }
func (c *fakeChain) BalanceOf(_ context.Context, token, _ common.Address) *big.Int {
	if b, ok := c.balances[token]; ok {
		return b
	}
	return new(big.Int)
}

type fakeSagas struct {
	records []*saga.Record
	err     error
	limit   int
}

func (f *fakeSagas) Recent(limit int) ([]*saga.Record, error) {
	f.limit = limit
	return f.records, f.err
}

func newTestServer(t *testing.T, sagas SagaLister) (*Server, *fakeChain) {
	usdc, _ := assets.GlobalRegistry.GetBySymbol("USDC")
	chain := &fakeChain{
		name:     "base",
		from:     common.HexToAddress("0xe0"),
		balances: map[common.Address]*big.Int{usdc.Address: big.NewInt(2_500_000)},
	}
	return NewServer(0, []Chain{chain}, sagas, assets.GlobalRegistry, zaptest.NewLogger(t)), chain
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthCheck(t *testing.T) {
	s, _ := newTestServer(t, &fakeSagas{})

	rec := serve(s, http.MethodGet, "/api/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetNetworks(t *testing.T) {
	s, chain := newTestServer(t, &fakeSagas{})

	rec := serve(s, http.MethodGet, "/api/networks")
	require.Equal(t, http.StatusOK, rec.Code)

	var body []NetworkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "base", body[0].Name)
	assert.Equal(t, chain.from.Hex(), body[0].ExecutorAddress)
}

func TestGetCustodyBySymbol(t *testing.T) {
	s, _ := newTestServer(t, &fakeSagas{})

	rec := serve(s, http.MethodGet, "/api/custody/base/usdc")
	require.Equal(t, http.StatusOK, rec.Code)

	var body CustodyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Balances, 1)
	assert.Equal(t, "2.5", body.Balances[0].Balance)
	assert.Equal(t, "2500000", body.Balances[0].Raw)
	assert.Equal(t, 6, body.Balances[0].Decimals)
}

func TestGetCustodyAllTokens(t *testing.T) {
	s, _ := newTestServer(t, &fakeSagas{})

	rec := serve(s, http.MethodGet, "/api/custody/base")
	require.Equal(t, http.StatusOK, rec.Code)

	var body CustodyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Balances, 2)
}

func TestGetCustodyErrors(t *testing.T) {
	s, _ := newTestServer(t, &fakeSagas{})

	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/api/custody/solana/usdc").Code)
	assert.Equal(t, http.StatusBadRequest, serve(s, http.MethodGet, "/api/custody/base/nope").Code)
}

func TestGetSagas(t *testing.T) {
	sagas := &fakeSagas{records: []*saga.Record{{
		ID:          "s-1",
		State:       saga.Compensating,
		BuyNetwork:  "base",
		SellNetwork: "bsc",
		AmountBase:  big.NewInt(10),
		AmountQuote: big.NewInt(20),
		UpdatedAt:   time.Unix(1700000000, 0).UTC(),
	}}}
	s, _ := newTestServer(t, sagas)

	rec := serve(s, http.MethodGet, "/api/sagas?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, sagas.limit)

	var body []SagaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "compensating", body[0].State)
	assert.Equal(t, "10", body[0].AmountBase)
}

func TestGetSagasErrors(t *testing.T) {
	s, _ := newTestServer(t, &fakeSagas{err: errors.New("closed")})

	assert.Equal(t, http.StatusBadRequest, serve(s, http.MethodGet, "/api/sagas?limit=x").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(s, http.MethodGet, "/api/sagas").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &fakeSagas{})

	rec := serve(s, http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
}
