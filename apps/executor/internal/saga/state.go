package saga

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"matcher/apps/executor/internal/model"
)

type State string

const (
	NotStarted    State = "not_started"
	Leg1Custodied State = "leg1_custodied" // buyer's quote held by the executor
	Leg2Custodied State = "leg2_custodied" // seller's base held too
	SettledLeg1   State = "settled_leg1"   // quote forwarded to the seller
	SettledLeg2   State = "settled_leg2"   // base forwarded to the buyer
	Compensating  State = "compensating"
	Completed     State = "completed"
	Failed        State = "failed"
)

// transitions lists the legal next states. Once the seller has been paid the saga only
// rolls forward.
var transitions = map[State][]State{
	NotStarted:    {Leg1Custodied, Failed},
	Leg1Custodied: {Leg2Custodied, Compensating},
	Leg2Custodied: {SettledLeg1, Compensating},
	SettledLeg1:   {SettledLeg2},
	SettledLeg2:   {Completed},
	Compensating:  {Failed},
}

func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// Record is everything needed to drive, resume, or audit one cross-chain settlement. It is
// journaled on every transition.
type Record struct {
	ID    string `json:"id"`
	State State  `json:"state"`

	BuyNetwork  string `json:"buy_network"`
	SellNetwork string `json:"sell_network"`
	BuyOrderID  string `json:"buy_order_id"`
	SellOrderID string `json:"sell_order_id"`

	Buyer           common.Address `json:"buyer"`
	Seller          common.Address `json:"seller"`
	BuyerRecipient  common.Address `json:"buyer_recipient"`
	SellerRecipient common.Address `json:"seller_recipient"`
	BaseToken       common.Address `json:"base_token"`
	QuoteToken      common.Address `json:"quote_token"`
	BaseDecimals    int            `json:"base_decimals"`
	QuoteDecimals   int            `json:"quote_decimals"`

	AmountBase    *big.Int `json:"amount_base"`
	AmountQuote   *big.Int `json:"amount_quote"`
	BuyRemaining  *big.Int `json:"buy_remaining"`  // before this fill
	SellRemaining *big.Int `json:"sell_remaining"` // before this fill

	BuyCustody     *model.TxRef `json:"buy_custody,omitempty"`
	SellCustody    *model.TxRef `json:"sell_custody,omitempty"`
	BuySettlement  *model.TxRef `json:"buy_settlement,omitempty"`
	SellSettlement *model.TxRef `json:"sell_settlement,omitempty"`
	BuyRefund      *model.TxRef `json:"buy_refund,omitempty"`
	SellRefund     *model.TxRef `json:"sell_refund,omitempty"`

	// InFlight names the leg whose transaction was being sent when the record was last
	// saved. A non-empty value after a restart means that leg's outcome is unknown.
	InFlight string `json:"in_flight,omitempty"`
	// InFlightTx is the hash of the in-flight leg once it was broadcast. With it set the
	// leg's outcome is read from chain instead of being guessed.
	InFlightTx string `json:"in_flight_tx,omitempty"`
	// FailureRecorded is set once the failed fill row was written.
	FailureRecorded bool `json:"failure_recorded,omitempty"`

	Errors    []string  `json:"errors,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Record) move(to State, now time.Time) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("saga %s: illegal transition %s -> %s", r.ID, r.State, to)
	}
	r.State = to
	r.UpdatedAt = now
	return nil
}

// Fill is the audit row for the record in its current state.
func (r *Record) Fill() model.CrossChainFill {
	status := model.CrossChainFailed
	if r.State == Completed || r.State == SettledLeg2 {
		status = model.CrossChainCompleted
	}
	return model.CrossChainFill{
		SagaID:         r.ID,
		BuyNetwork:     r.BuyNetwork,
		SellNetwork:    r.SellNetwork,
		BuyOrderID:     r.BuyOrderID,
		SellOrderID:    r.SellOrderID,
		AmountBase:     r.AmountBase,
		AmountQuote:    r.AmountQuote,
		BuyCustody:     r.BuyCustody,
		SellCustody:    r.SellCustody,
		BuySettlement:  r.BuySettlement,
		SellSettlement: r.SellSettlement,
		Status:         status,
	}
}
