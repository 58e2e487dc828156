package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequestToken is the short-lived credential obtained at the start of the
// OAuth handshake. It is consumed once during the access-token exchange and
// never persisted.
type RequestToken struct {
	Token  string
	Secret string
}

// AccessToken is the long-lived credential returned by the access-token
// endpoint. The secret arrives RSA-encrypted by the venue; only the local
// encryption private key can open it, during live-session derivation.
type AccessToken struct {
	Token           string
	EncryptedSecret []byte
}

// LiveSession is the symmetric signing key derived via the DH exchange.
// Token is the raw HMAC-SHA256 key for every trading call. Exactly one
// LiveSession is active at a time; it is shared by all concurrent callers
// and never persisted.
type LiveSession struct {
	Token     []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Usable reports whether the session can still sign requests, keeping a
// safety margin ahead of the assumed validity window.
func (s *LiveSession) Usable(now time.Time, margin time.Duration) bool {
	if s == nil || len(s.Token) == 0 {
		return false
	}
	return now.Add(margin).Before(s.ExpiresAt)
}

// Side is an order direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Right is an option right; empty for non-option contracts.
type Right string

const (
	Call Right = "C"
	Put  Right = "P"
)

// ContractQuery narrows a contract search.
type ContractQuery struct {
	Symbol string
	Expiry string // YYYYMMDD, optional
	Strike decimal.Decimal
	Right  Right
}

// ContractRef identifies a tradable contract at the venue.
type ContractRef struct {
	ID       string          `json:"conid"`
	Symbol   string          `json:"symbol"`
	SecType  string          `json:"secType"`
	Expiry   string          `json:"expiry,omitempty"`
	Strike   decimal.Decimal `json:"strike,omitempty"`
	Right    Right           `json:"right,omitempty"`
	Exchange string          `json:"exchange,omitempty"`
}

// Quote is a market snapshot for one contract.
type Quote struct {
	Contract  ContractRef     `json:"contract"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	DelayedBy time.Duration   `json:"delayed_by"`
	AsOf      time.Time       `json:"as_of"`
}

// OrderResult reports the venue's acknowledgement of a placed bracket.
// StopOrderID is empty when the primary leg was rejected: the stop leg is
// never submitted in that case.
type OrderResult struct {
	OrderID     string `json:"order_id"`
	StopOrderID string `json:"stop_order_id,omitempty"`
	Status      string `json:"status"`
}

// Position is one line of the account's open positions.
type Position struct {
	Contract ContractRef     `json:"contract"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
}
