package model

import "github.com/ethereum/go-ethereum/common"

type Token struct {
	Address  common.Address `db:"address"`
	Network  string         `db:"network"`
	Symbol   string         `db:"symbol"`
	Decimals int            `db:"decimals"`
}
