package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"rebalancer/internal/md"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
)

const DefaultKrakenURL = "https://api.kraken.com"

// Kraken is a Gateway backed by the Kraken REST API.
type Kraken struct {
	client  *fasthttp.Client
	baseURL string
	apiKey  string
	secret  []byte

	nonceMu   sync.Mutex
	lastNonce int64
}

func NewKraken(baseURL, apiKey, apiSecret string) (*Kraken, error) {
	secret, err := base64.StdEncoding.DecodeString(apiSecret)
	if err != nil {
		return nil, fmt.Errorf("decode api secret: %w", err)
	}
	if baseURL == "" {
		baseURL = DefaultKrakenURL
	}
	return &Kraken{
		client:  &fasthttp.Client{Name: "rebalancer"},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		secret:  secret,
	}, nil
}

func (k *Kraken) Balance(ctx context.Context) (map[string]decimal.Decimal, error) {
	result, err := k.private(ctx, "Balance", url.Values{})
	if err != nil {
		slog.Error("fetch balance failed", "error", err)
		return nil, err
	}
	balances := make(map[string]decimal.Decimal)
	var parseErr error
	result.ForEach(func(key, value gjson.Result) bool {
		// staked and on-hold sub-balances (XBT.M, EUR.HOLD) are not spendable
		if strings.Contains(key.Str, ".") {
			return true
		}
		amount, err := decimal.NewFromString(value.String())
		if err != nil {
			parseErr = fmt.Errorf("parse balance %s: %w", key.Str, err)
			return false
		}
		asset := NormalizeAsset(key.Str)
		balances[asset] = balances[asset].Add(amount)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	slog.Info("balance fetched", "assets", len(balances))
	return balances, nil
}

func (k *Kraken) Tickers(ctx context.Context, pairs []string) (map[string]md.Quote, error) {
	if len(pairs) == 0 {
		return map[string]md.Quote{}, nil
	}
	result, err := k.public(ctx, "Ticker", url.Values{"pair": {strings.Join(pairs, ",")}})
	if err != nil {
		slog.Error("fetch tickers failed", "pairs", pairs, "error", err)
		return nil, err
	}
	quotes := make(map[string]md.Quote, len(pairs))
	var parseErr error
	result.ForEach(func(key, value gjson.Result) bool {
		ask, err := decimal.NewFromString(value.Get("a.0").String())
		if err != nil {
			parseErr = fmt.Errorf("parse ask for %s: %w", key.Str, err)
			return false
		}
		bid, err := decimal.NewFromString(value.Get("b.0").String())
		if err != nil {
			parseErr = fmt.Errorf("parse bid for %s: %w", key.Str, err)
			return false
		}
		quotes[key.Str] = md.Quote{Pair: key.Str, Ask: ask, Bid: bid}
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return quotes, nil
}

func (k *Kraken) TradablePairs(ctx context.Context, base string) ([]Pair, error) {
	result, err := k.public(ctx, "AssetPairs", url.Values{})
	if err != nil {
		slog.Error("fetch asset pairs failed", "error", err)
		return nil, err
	}
	base = strings.ToUpper(base)
	var pairs []Pair
	result.ForEach(func(key, value gjson.Result) bool {
		// dark pool books
		if strings.HasSuffix(key.Str, ".d") {
			return true
		}
		if NormalizeAsset(value.Get("quote").Str) != base {
			return true
		}
		if status := value.Get("status"); status.Exists() && status.Str != "online" {
			return true
		}
		orderMin, _ := decimal.NewFromString(value.Get("ordermin").String())
		lot := value.Get("lot_decimals")
		lotDecimals := int32(8)
		if lot.Exists() {
			lotDecimals = int32(lot.Int())
		}
		pairs = append(pairs, Pair{
			Name:        key.Str,
			Altname:     value.Get("altname").Str,
			Base:        NormalizeAsset(value.Get("base").Str),
			Quote:       base,
			LotDecimals: lotDecimals,
			OrderMin:    orderMin,
		})
		return true
	})
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })
	return pairs, nil
}

// RecentTrades returns one page of public trades after since. Kraken caps a
// page at 1000 trades; the page's Last cursor is the since of the next one.
func (k *Kraken) RecentTrades(ctx context.Context, pair string, since time.Time) (TradePage, error) {
	params := url.Values{"pair": {pair}}
	if !since.IsZero() {
		params.Set("since", strconv.FormatInt(since.UnixNano(), 10))
	}
	result, err := k.public(ctx, "Trades", params)
	if err != nil {
		slog.Error("fetch recent trades failed", "pair", pair, "error", err)
		return TradePage{}, err
	}
	var trades []RawTrade
	var parseErr error
	result.ForEach(func(key, value gjson.Result) bool {
		if key.Str == "last" || !value.IsArray() {
			return true
		}
		for _, row := range value.Array() {
			price, err := decimal.NewFromString(row.Get("0").String())
			if err != nil {
				parseErr = fmt.Errorf("parse trade price: %w", err)
				return false
			}
			volume, err := decimal.NewFromString(row.Get("1").String())
			if err != nil {
				parseErr = fmt.Errorf("parse trade volume: %w", err)
				return false
			}
			sec, frac := math.Modf(row.Get("2").Float())
			side := Buy
			if row.Get("3").Str == "s" {
				side = Sell
			}
			trades = append(trades, RawTrade{
				Price:  price,
				Volume: volume,
				Time:   time.Unix(int64(sec), int64(frac*1e9)).UTC(),
				Side:   side,
			})
		}
		return true
	})
	if parseErr != nil {
		return TradePage{}, parseErr
	}
	page := TradePage{Trades: trades}
	if last := result.Get("last"); last.Exists() {
		nanos, err := strconv.ParseInt(last.String(), 10, 64)
		if err != nil {
			return TradePage{}, fmt.Errorf("parse trades cursor %q: %w", last.String(), err)
		}
		page.Last = time.Unix(0, nanos).UTC()
	}
	slog.Info("recent trades fetched", "pair", pair, "count", len(trades), "last", page.Last)
	return page, nil
}

func (k *Kraken) PlaceOrder(ctx context.Context, req OrderRequest) (OrderRef, error) {
	params := url.Values{
		"pair":      {req.Pair},
		"type":      {string(req.Side)},
		"ordertype": {string(req.Type)},
		"volume":    {req.Volume.String()},
	}
	if req.Type == Limit {
		params.Set("price", req.Price.String())
	}
	if req.ClientOrderID != "" {
		params.Set("cl_ord_id", req.ClientOrderID)
	}

	result, err := k.private(ctx, "AddOrder", params)
	if err != nil {
		slog.Error("place order failed", "side", req.Side, "pair", req.Pair, "volume", req.Volume, "price", req.Price, "type", req.Type, "error", err)
		return OrderRef{}, err
	}

	ref := OrderRef{Description: result.Get("descr.order").Str}
	for _, txid := range result.Get("txid").Array() {
		ref.TxIDs = append(ref.TxIDs, txid.Str)
	}
	slog.Info("place order success", "txid", ref.TxIDs, "side", req.Side, "pair", req.Pair, "volume", req.Volume, "type", req.Type, "descr", ref.Description)
	return ref, nil
}

func (k *Kraken) Withdraw(ctx context.Context, req WithdrawRequest) (WithdrawRef, error) {
	params := url.Values{
		"asset":  {req.Asset},
		"key":    {req.Key},
		"amount": {req.Amount.String()},
	}
	result, err := k.private(ctx, "Withdraw", params)
	if err != nil {
		slog.Error("withdraw failed", "asset", req.Asset, "key", req.Key, "amount", req.Amount, "error", err)
		return WithdrawRef{}, err
	}
	ref := WithdrawRef{RefID: result.Get("refid").Str}
	slog.Info("withdraw success", "asset", req.Asset, "key", req.Key, "amount", req.Amount, "refid", ref.RefID)
	return ref, nil
}

func (k *Kraken) public(ctx context.Context, method string, params url.Values) (gjson.Result, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	uri := k.baseURL + "/0/public/" + method
	if len(params) > 0 {
		uri += "?" + params.Encode()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)

	return k.do(ctx, req)
}

func (k *Kraken) private(ctx context.Context, method string, params url.Values) (gjson.Result, error) {
	path := "/0/private/" + method
	nonce := strconv.FormatInt(k.nextNonce(), 10)
	params.Set("nonce", nonce)
	body := params.Encode()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(k.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	req.Header.Set("API-Key", k.apiKey)
	req.Header.Set("API-Sign", sign(path, nonce, body, k.secret))
	req.SetBodyString(body)

	return k.do(ctx, req)
}

func (k *Kraken) do(ctx context.Context, req *fasthttp.Request) (gjson.Result, error) {
	if err := ctx.Err(); err != nil {
		return gjson.Result{}, err
	}
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = k.client.DoDeadline(req, resp, deadline)
	} else {
		err = k.client.Do(req, resp)
	}
	if err != nil {
		return gjson.Result{}, err
	}

	body := resp.Body()
	status := resp.StatusCode()
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &APIError{StatusCode: status, Messages: []string{"invalid response body"}}
	}
	var messages []string
	for _, msg := range gjson.GetBytes(body, "error").Array() {
		messages = append(messages, msg.String())
	}
	if len(messages) > 0 || status >= 300 {
		return gjson.Result{}, &APIError{StatusCode: status, Messages: messages}
	}
	// the body buffer is released with resp
	return gjson.Parse(string(body)).Get("result"), nil
}

// nextNonce is strictly increasing per client, as Kraken requires per key.
func (k *Kraken) nextNonce() int64 {
	k.nonceMu.Lock()
	defer k.nonceMu.Unlock()
	nonce := time.Now().UnixMilli()
	if nonce <= k.lastNonce {
		nonce = k.lastNonce + 1
	}
	k.lastNonce = nonce
	return nonce
}

// sign computes API-Sign: HMAC-SHA512 over path + SHA256(nonce + body), keyed
// with the decoded secret.
func sign(path, nonce, body string, secret []byte) string {
	digest := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(digest[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
