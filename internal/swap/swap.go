// Package swap defines the shared vocabulary of a swap session: identifiers,
// amounts in both native currencies and the negotiated swap parameters.
package swap

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/google/uuid"

	"github.com/umbra-exchange/umbra/pkg/helpers"
)

// ID uniquely identifies one swap session for the lifetime of the process
// and across restarts.
type ID = uuid.UUID

// NewID returns a fresh random swap ID.
func NewID() ID {
	return uuid.New()
}

// MoneroAmount is an amount of monero in piconero (1e-12 XMR), the smallest
// native unit. The bitcoin side uses btcutil.Amount (satoshi).
type MoneroAmount uint64

// MoneroDecimals is the number of decimal places of the piconero unit.
const MoneroDecimals = 12

// AsXMR returns the amount as a decimal XMR string.
func (a MoneroAmount) AsXMR() string {
	return helpers.PiconeroToXMR(uint64(a))
}

func (a MoneroAmount) String() string {
	return a.AsXMR() + " XMR"
}

// ParseMoneroAmount parses a decimal XMR string into piconero.
func ParseMoneroAmount(s string) (MoneroAmount, error) {
	pico, err := helpers.XMRToPiconero(s)
	if err != nil {
		return 0, fmt.Errorf("invalid monero amount: %w", err)
	}
	return MoneroAmount(pico), nil
}

// Params are the amounts both parties agree to swap during the initial
// amount negotiation. The initiator locks BtcAmount, the responder locks
// XmrAmount.
type Params struct {
	BtcAmount btcutil.Amount `json:"btc_amount" cbor:"btc_amount"`
	XmrAmount MoneroAmount   `json:"xmr_amount" cbor:"xmr_amount"`
}

func (p Params) String() string {
	return fmt.Sprintf("%s for %s", p.BtcAmount, p.XmrAmount)
}
