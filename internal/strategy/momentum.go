package strategy

// Momentum compares the current ask against the trailing average buy price.
// Rising markets are bought at the ask, falling markets sold at the bid.
type Momentum struct{}

func (Momentum) Decide(snapshot MarketSnapshot) TradeIntent {
	momentum := snapshot.Ask.Sub(snapshot.TrailingAverage)
	switch momentum.Sign() {
	case 1:
		return TradeIntent{
			Action:   Buy,
			Price:    snapshot.Ask,
			Momentum: momentum,
			Reason:   "ask_above_trailing_average",
		}
	case -1:
		return TradeIntent{
			Action:   Sell,
			Price:    snapshot.Bid,
			Momentum: momentum,
			Reason:   "ask_below_trailing_average",
		}
	}
	return TradeIntent{Action: Hold, Momentum: momentum, Reason: "no_momentum"}
}
