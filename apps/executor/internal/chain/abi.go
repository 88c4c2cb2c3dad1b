package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

const orderTuple = `{
	"type": "tuple",
	"internalType": "struct OrderBook.Order",
	"name": "%s",
	"components": [
		{"internalType": "address", "name": "maker", "type": "address"},
		{"internalType": "address", "name": "tokenIn", "type": "address"},
		{"internalType": "address", "name": "tokenOut", "type": "address"},
		{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
		{"internalType": "uint256", "name": "amountOutMin", "type": "uint256"},
		{"internalType": "uint256", "name": "expiration", "type": "uint256"},
		{"internalType": "uint256", "name": "nonce", "type": "uint256"},
		{"internalType": "address", "name": "receiver", "type": "address"},
		{"internalType": "uint256", "name": "salt", "type": "uint256"}
	]
}`

// SettlementABI is the subset of the settlement contract the executor calls or watches.
var SettlementABI = `[
	{"type": "error", "name": "BadSignature", "inputs": []},
	{"type": "error", "name": "Expired", "inputs": []},
	{"type": "error", "name": "InvalidOrder", "inputs": []},
	{"type": "error", "name": "Overfill", "inputs": []},
	{"type": "error", "name": "PriceTooLow", "inputs": []},
	{
		"type": "event",
		"name": "Matched",
		"anonymous": false,
		"inputs": [
			{"internalType": "bytes32", "name": "buyHash", "type": "bytes32", "indexed": true},
			{"internalType": "bytes32", "name": "sellHash", "type": "bytes32", "indexed": true},
			{"internalType": "address", "name": "matcher", "type": "address", "indexed": true},
			{"internalType": "uint256", "name": "amountBase", "type": "uint256", "indexed": false},
			{"internalType": "uint256", "name": "amountQuote", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "OrderFilled",
		"anonymous": false,
		"inputs": [
			{"internalType": "bytes32", "name": "orderHash", "type": "bytes32", "indexed": true},
			{"internalType": "address", "name": "maker", "type": "address", "indexed": true},
			{"internalType": "address", "name": "taker", "type": "address", "indexed": true},
			{"internalType": "address", "name": "tokenIn", "type": "address", "indexed": false},
			{"internalType": "address", "name": "tokenOut", "type": "address", "indexed": false},
			{"internalType": "uint256", "name": "amountIn", "type": "uint256", "indexed": false},
			{"internalType": "uint256", "name": "amountOut", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "function",
		"name": "availableToFill",
		"stateMutability": "view",
		"inputs": [` + fmt.Sprintf(orderTuple, "order") + `],
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "verifySignature",
		"stateMutability": "view",
		"inputs": [
			` + fmt.Sprintf(orderTuple, "o") + `,
			{"internalType": "bytes", "name": "sig", "type": "bytes"}
		],
		"outputs": [{"internalType": "bool", "name": "", "type": "bool"}]
	},
	{
		"type": "function",
		"name": "matchOrders",
		"stateMutability": "nonpayable",
		"inputs": [
			` + fmt.Sprintf(orderTuple, "buy") + `,
			{"internalType": "bytes", "name": "sigBuy", "type": "bytes"},
			` + fmt.Sprintf(orderTuple, "sell") + `,
			{"internalType": "bytes", "name": "sigSell", "type": "bytes"},
			{"internalType": "uint256", "name": "amountBase", "type": "uint256"},
			{"internalType": "uint256", "name": "amountQuote", "type": "uint256"}
		],
		"outputs": []
	}
]`

const ERC20ABI = `[
	{"type": "function", "name": "allowance", "stateMutability": "view",
		"inputs": [{"name": "owner", "type": "address"}, {"name": "spender", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "balanceOf", "stateMutability": "view",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "transferFrom", "stateMutability": "nonpayable",
		"inputs": [{"name": "from", "type": "address"}, {"name": "to", "type": "address"}, {"name": "amount", "type": "uint256"}],
		"outputs": [{"name": "", "type": "bool"}]},
	{"type": "function", "name": "transfer", "stateMutability": "nonpayable",
		"inputs": [{"name": "to", "type": "address"}, {"name": "amount", "type": "uint256"}],
		"outputs": [{"name": "", "type": "bool"}]}
]`

// Event signatures
var (
	MatchedEventSig     = crypto.Keccak256Hash([]byte("Matched(bytes32,bytes32,address,uint256,uint256)"))
	OrderFilledEventSig = crypto.Keccak256Hash([]byte("OrderFilled(bytes32,address,address,address,address,uint256,uint256)"))
)

var (
	settlementABI = mustParseABI("settlement", SettlementABI)
	erc20ABI      = mustParseABI("erc20", ERC20ABI)
)

func mustParseABI(name, def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("failed to parse %s ABI: %v", name, err))
	}
	return parsed
}
