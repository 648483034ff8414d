package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rebalancer/internal/md"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

type OrderType string

const (
	Limit  OrderType = "limit"
	Market OrderType = "market"
)

// Pair describes a tradable pair with normalized asset symbols.
type Pair struct {
	Name        string
	Altname     string
	Base        string
	Quote       string
	LotDecimals int32
	OrderMin    decimal.Decimal
}

type RawTrade struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
	Time   time.Time
	Side   Side
}

// TradePage is one page of trade history. Last is the cursor to request the
// next page from; it is zero when the exchange returned none.
type TradePage struct {
	Trades []RawTrade
	Last   time.Time
}

type OrderRequest struct {
	Pair          string
	Side          Side
	Type          OrderType
	Price         decimal.Decimal
	Volume        decimal.Decimal
	ClientOrderID string
}

type OrderRef struct {
	TxIDs       []string
	Description string
}

type WithdrawRequest struct {
	Asset  string
	Key    string
	Amount decimal.Decimal
}

type WithdrawRef struct {
	RefID string
}

// Gateway is the exchange surface the bot needs. Every call is a single
// request/response; failures are transient from the caller's point of view.
type Gateway interface {
	Balance(ctx context.Context) (map[string]decimal.Decimal, error)
	Tickers(ctx context.Context, pairs []string) (map[string]md.Quote, error)
	TradablePairs(ctx context.Context, base string) ([]Pair, error)
	RecentTrades(ctx context.Context, pair string, since time.Time) (TradePage, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderRef, error)
	Withdraw(ctx context.Context, req WithdrawRequest) (WithdrawRef, error)
}

// APIError carries the HTTP status and the exchange's error strings.
type APIError struct {
	StatusCode int
	Messages   []string
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("kraken: http status %d", e.StatusCode)
	}
	return fmt.Sprintf("kraken: %s", strings.Join(e.Messages, ", "))
}

// legacyAssets are the X/Z class prefixed codes Kraken kept for its oldest
// assets. Newer assets are listed under their plain code.
var legacyAssets = map[string]string{
	"XDAO": "DAO",
	"XETC": "ETC",
	"XETH": "ETH",
	"XICN": "ICN",
	"XLTC": "LTC",
	"XMLN": "MLN",
	"XNMC": "NMC",
	"XREP": "REP",
	"XXBT": "XBT",
	"XXDG": "XDG",
	"XXLM": "XLM",
	"XXMR": "XMR",
	"XXRP": "XRP",
	"XXVN": "XVN",
	"XZEC": "ZEC",
	"ZAUD": "AUD",
	"ZCAD": "CAD",
	"ZEUR": "EUR",
	"ZGBP": "GBP",
	"ZJPY": "JPY",
	"ZUSD": "USD",
}

// NormalizeAsset maps Kraken's legacy class prefixed codes to their plain
// symbol (XXBT -> XBT, ZEUR -> EUR). Any other code is returned upper cased.
func NormalizeAsset(code string) string {
	code = strings.ToUpper(code)
	if plain, ok := legacyAssets[code]; ok {
		return plain
	}
	return code
}

// LegacyPairName builds the X<asset>Z<base> pair key used for the original
// currencies when the pair listing is unavailable.
func LegacyPairName(asset, base string) string {
	return "X" + asset + "Z" + base
}
