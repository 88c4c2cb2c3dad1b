package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"matcher/apps/executor/internal/config"
	"matcher/apps/executor/internal/model"
)

// Backend is the part of ethclient.Client the connector and watcher use.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	Close()
}

// Dial opens an RPC connection. Replaced in tests.
var Dial = func(ctx context.Context, url string) (Backend, error) {
	return ethclient.DialContext(ctx, url)
}

const (
	defaultReceiptPoll = 2 * time.Second
	// gasHeadroomPct is added on top of the node's estimate.
	gasHeadroomPct = 20
)

// Connector is an authenticated session with one network's RPC endpoint and settlement
// contract. Reads never fail: they log and fall back to false or zero. Writes return a
// *RevertError when the revert reason is known.
type Connector struct {
	network    string
	chainID    *big.Int
	client     Backend
	key        *ecdsa.PrivateKey
	from       common.Address
	settlement common.Address
	logger     *zap.Logger

	receiptPoll time.Duration

	sendMu sync.Mutex // serializes nonce assignment
}

// ParsePrivateKey reads a hex private key with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if len(hexKey) > 1 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse executor private key: %w", err)
	}
	return key, nil
}

// Connect dials the network with retries and verifies the chain id. An error only disables
// this network.
func Connect(ctx context.Context, cfg config.NetworkConfig, key *ecdsa.PrivateKey, logger *zap.Logger) (*Connector, error) {
	logger = logger.With(zap.String("network", cfg.Name))
	if !common.IsHexAddress(cfg.SettlementAddress) {
		return nil, fmt.Errorf("%s settlement address %q is invalid", cfg.Name, cfg.SettlementAddress)
	}

	var conn *Connector
	err := Retry(ctx, ConnectBackoff, logger, "connect "+cfg.Name, func(int) error {
		var (
			client Backend
			id     *big.Int
		)
		dialErr := Retry(ctx, DialBackoff, logger, "dial "+cfg.Name, func(int) error {
			c, err := Dial(ctx, cfg.RpcURL)
			if err != nil {
				return err
			}
			got, err := c.ChainID(ctx)
			if err != nil {
				c.Close()
				return fmt.Errorf("failed to read chain id: %w", err)
			}
			client, id = c, got
			return nil
		})
		if dialErr != nil {
			return dialErr
		}
		if id.Int64() != cfg.ChainID {
			client.Close()
			return fmt.Errorf("%s RPC returned wrong chain id %s, expected %d", cfg.Name, id, cfg.ChainID)
		}
		conn = NewConnector(cfg.Name, id, client, key, common.HexToAddress(cfg.SettlementAddress), logger)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Connected", zap.String("wallet", conn.from.Hex()), zap.String("chain_id", conn.chainID.String()))
	return conn, nil
}

// NewConnector wraps an already-dialed backend.
func NewConnector(network string, chainID *big.Int, client Backend, key *ecdsa.PrivateKey, settlement common.Address, logger *zap.Logger) *Connector {
	return &Connector{
		network:     network,
		chainID:     chainID,
		client:      client,
		key:         key,
		from:        crypto.PubkeyToAddress(key.PublicKey),
		settlement:  settlement,
		logger:      logger,
		receiptPoll: defaultReceiptPoll,
	}
}

func (c *Connector) Network() string                   { return c.network }
func (c *Connector) Address() common.Address           { return c.from }
func (c *Connector) SettlementAddress() common.Address { return c.settlement }
func (c *Connector) Backend() Backend                  { return c.client }

func (c *Connector) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// VerifySignature asks the settlement contract whether sig is valid for o.
func (c *Connector) VerifySignature(ctx context.Context, o model.SignedOrder, sig []byte) bool {
	out, err := c.call(ctx, c.settlement, settlementABI, "verifySignature", o, sig)
	if err != nil {
		c.logger.Warn("verifySignature failed", zap.String("maker", o.Maker.Hex()), zap.Error(err))
		return false
	}
	ok, _ := out[0].(bool)
	return ok
}

// AvailableToFill is the contract's remaining fillable input amount for o.
func (c *Connector) AvailableToFill(ctx context.Context, o model.SignedOrder) *big.Int {
	return c.uintCall(ctx, c.settlement, settlementABI, "availableToFill", o)
}

func (c *Connector) Allowance(ctx context.Context, token, owner, spender common.Address) *big.Int {
	return c.uintCall(ctx, token, erc20ABI, "allowance", owner, spender)
}

func (c *Connector) BalanceOf(ctx context.Context, token, owner common.Address) *big.Int {
	return c.uintCall(ctx, token, erc20ABI, "balanceOf", owner)
}

// MatchOrders settles buy against sell for amountBase and amountQuote and waits for the
// receipt.
func (c *Connector) MatchOrders(ctx context.Context, buy model.SignedOrder, sigBuy []byte, sell model.SignedOrder, sigSell []byte, amountBase, amountQuote *big.Int) (model.TxRef, error) {
	data, err := settlementABI.Pack("matchOrders", buy, sigBuy, sell, sigSell, amountBase, amountQuote)
	if err != nil {
		return model.TxRef{}, fmt.Errorf("failed to pack matchOrders: %w", err)
	}
	return c.transact(ctx, "matchOrders", c.settlement, data)
}

// TransferFrom pulls amount of token from one account to another using the executor's
// allowance.
func (c *Connector) TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) (model.TxRef, error) {
	data, err := erc20ABI.Pack("transferFrom", from, to, amount)
	if err != nil {
		return model.TxRef{}, fmt.Errorf("failed to pack transferFrom: %w", err)
	}
	return c.transact(ctx, "transferFrom", token, data)
}

// Transfer sends amount of token from the executor wallet.
func (c *Connector) Transfer(ctx context.Context, token, to common.Address, amount *big.Int) (model.TxRef, error) {
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return model.TxRef{}, fmt.Errorf("failed to pack transfer: %w", err)
	}
	return c.transact(ctx, "transfer", token, data)
}

func (c *Connector) uintCall(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) *big.Int {
	out, err := c.call(ctx, to, contract, method, args...)
	if err != nil {
		c.logger.Warn("Read failed", zap.String("method", method), zap.String("contract", to.Hex()), zap.Error(err))
		return new(big.Int)
	}
	v, ok := out[0].(*big.Int)
	if !ok || v == nil {
		return new(big.Int)
	}
	return v
}

func (c *Connector) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	raw, err := c.client.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data}, nil)
	if err != nil {
		return nil, decodeRevert(c.network, method, "", err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return out, nil
}

func (c *Connector) transact(ctx context.Context, method string, to common.Address, data []byte) (model.TxRef, error) {
	tx, err := c.send(ctx, method, to, data)
	if err != nil {
		return model.TxRef{}, err
	}
	c.logger.Info("Transaction sent", zap.String("method", method), zap.String("tx_hash", tx.Hash().Hex()))

	receipt, err := c.waitMined(ctx, tx.Hash())
	if err != nil {
		c.logger.Error("Transaction sent but not confirmed", zap.String("method", method), zap.String("tx_hash", tx.Hash().Hex()), zap.Error(err))
		return model.TxRef{Hash: tx.Hash().Hex()}, fmt.Errorf("%s %s: %w", method, tx.Hash().Hex(), err)
	}
	ref := model.TxRef{Hash: receipt.TxHash.Hex(), BlockNumber: receipt.BlockNumber.Uint64()}
	if receipt.Status == types.ReceiptStatusSuccessful {
		c.logger.Info("Transaction confirmed", zap.String("method", method), zap.String("tx_hash", ref.Hash), zap.Uint64("block", ref.BlockNumber))
		return ref, nil
	}

	// Replay at the mined block to recover the revert data.
	_, callErr := c.client.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data, Gas: tx.Gas()}, receipt.BlockNumber)
	var revertErr *RevertError
	if errors.As(decodeRevert(c.network, method, ref.Hash, callErr), &revertErr) {
		return ref, revertErr
	}
	return ref, fmt.Errorf("%s %s %s: %w", c.network, method, ref.Hash, ErrTxReverted)
}

func (c *Connector) send(ctx context.Context, method string, to common.Address, data []byte) (*types.Transaction, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	msg := ethereum.CallMsg{From: c.from, To: &to, Data: data}
	gas, err := c.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, decodeRevert(c.network, method, "", fmt.Errorf("failed to estimate gas for %s: %w", method, err))
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gas + gas*gasHeadroomPct/100,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", method, err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return nil, decodeRevert(c.network, method, "", fmt.Errorf("failed to send %s: %w", method, err))
	}
	return signed, nil
}

// waitMined polls until the receipt exists. A broadcast transaction has no deadline of its
// own; only ctx ends the wait, and then the outcome is unknown.
func (c *Connector) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.logger.Debug("Receipt not available yet", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for receipt: %v", ErrOutcomeUnknown, ctx.Err())
		case <-ticker.C:
		}
	}
}

// TxStatus looks up a transaction sent earlier whose outcome was never observed.
func (c *Connector) TxStatus(ctx context.Context, hash string) (model.TxRef, TxStatus, error) {
	ref := model.TxRef{Hash: hash}
	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(hash))
	if errors.Is(err, ethereum.NotFound) || (err == nil && receipt == nil) {
		return ref, TxPending, nil
	}
	if err != nil {
		return ref, TxPending, fmt.Errorf("failed to get receipt for %s: %w", hash, err)
	}
	ref.BlockNumber = receipt.BlockNumber.Uint64()
	if receipt.Status == types.ReceiptStatusSuccessful {
		return ref, TxSucceeded, nil
	}
	return ref, TxReverted, nil
}
