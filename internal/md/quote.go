package md

import "github.com/shopspring/decimal"

// Quote is the best ask/bid of a pair at fetch time.
type Quote struct {
	Pair string
	Ask  decimal.Decimal
	Bid  decimal.Decimal
}
