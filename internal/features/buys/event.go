package buys

// Buy detection and notification: cursor-based chain source, filter, composer,
// fanout dispatcher and the pipeline that ties them to a schedule.

import (
	"time"
)

// Origin tells where a buy event came from.
type Origin string

const (
	OriginChain   Origin = "chain"
	OriginWebhook Origin = "webhook"
	OriginManual  Origin = "manual"
)

// BuyEvent is one accepted buy. Amount is in quote units.
type BuyEvent struct {
	Signature   string
	Amount      float64
	TokenAmount float64
	Buyer       string
	Timestamp   time.Time
	Origin      Origin
}
