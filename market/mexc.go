package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/zanotrade/marketbot/marketbot"
)

const mexcBaseURL = "https://api.mexc.com"

// referenceSymbol prices the native coin against the stablecoin; both
// sources use MEXC for it.
const referenceSymbol = "ZANOUSDT"

// MexcSource reads the pair's average price and orderbook from MEXC.
type MexcSource struct {
	cfg     marketbot.LiveConfig
	baseURL string
	http    *http.Client
}

func NewMexcSource(cfg marketbot.LiveConfig) *MexcSource {
	return &MexcSource{
		cfg:     cfg,
		baseURL: mexcBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *MexcSource) Name() string { return "mexc" }

func (s *MexcSource) FetchMarketState(ctx context.Context) (marketbot.MarketState, error) {
	symbol := s.cfg.FirstCurrency + s.cfg.SecondCurrency

	marketPrice, err := s.avgPrice(ctx, symbol)
	if err != nil {
		return marketbot.MarketState{}, err
	}
	referencePrice, err := s.avgPrice(ctx, referenceSymbol)
	if err != nil {
		return marketbot.MarketState{}, err
	}

	bids, asks, err := s.orderbook(ctx, symbol)
	if err != nil {
		return marketbot.MarketState{}, err
	}
	return deriveState(s.cfg, marketPrice, referencePrice, bids, asks)
}

func (s *MexcSource) avgPrice(ctx context.Context, symbol string) (float64, error) {
	var response struct {
		Price string `json:"price"`
	}
	url := fmt.Sprintf("%s/api/v3/avgPrice?symbol=%s", s.baseURL, symbol)
	if err := getJSON(ctx, s.http, url, &response); err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(response.Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("mexc returned no usable price for %s", symbol)
	}
	return price, nil
}

func (s *MexcSource) orderbook(ctx context.Context, symbol string) (bids, asks []Order, err error) {
	var response struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	url := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=5000", s.baseURL, symbol)
	if err := getJSON(ctx, s.http, url, &response); err != nil {
		return nil, nil, err
	}
	if response.Bids == nil || response.Asks == nil {
		return nil, nil, fmt.Errorf("mexc returned an empty orderbook for %s", symbol)
	}
	return parseLevels(response.Bids), parseLevels(response.Asks), nil
}

func parseLevels(levels [][2]string) []Order {
	out := make([]Order, 0, len(levels))
	for _, level := range levels {
		price, err1 := strconv.ParseFloat(level[0], 64)
		volume, err2 := strconv.ParseFloat(level[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, Order{Price: price, BaseVolume: volume})
	}
	return out
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
