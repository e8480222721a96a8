package market

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/zanotrade/marketbot/marketbot"
)

const bitcomBaseURL = "https://api.bit.com"

// BitComSource reads the pair's index price and orderbook from Bit.com. The
// native coin's reference price still comes from MEXC, which is the only
// venue listing it against a stablecoin.
type BitComSource struct {
	cfg     marketbot.LiveConfig
	baseURL string
	mexcURL string
	http    *http.Client
}

func NewBitComSource(cfg marketbot.LiveConfig) *BitComSource {
	return &BitComSource{
		cfg:     cfg,
		baseURL: bitcomBaseURL,
		mexcURL: mexcBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *BitComSource) Name() string { return "bitcom" }

func (s *BitComSource) FetchMarketState(ctx context.Context) (marketbot.MarketState, error) {
	marketPrice, err := s.indexPrice(ctx)
	if err != nil {
		return marketbot.MarketState{}, err
	}

	referencePrice, err := s.referencePrice(ctx)
	if err != nil {
		return marketbot.MarketState{}, err
	}

	bids, asks, err := s.orderbook(ctx)
	if err != nil {
		return marketbot.MarketState{}, err
	}
	return deriveState(s.cfg, marketPrice, referencePrice, bids, asks)
}

func (s *BitComSource) indexPrice(ctx context.Context) (float64, error) {
	var response struct {
		Data []struct {
			IndexPrice string `json:"index_price"`
		} `json:"data"`
	}
	url := fmt.Sprintf("%s/um/v1/index_price?currency=%s&quote_currency=%s",
		s.baseURL, s.cfg.FirstCurrency, s.cfg.SecondCurrency)
	if err := getJSON(ctx, s.http, url, &response); err != nil {
		return 0, err
	}
	if len(response.Data) == 0 {
		return 0, fmt.Errorf("bit.com returned no index price for %s-%s", s.cfg.FirstCurrency, s.cfg.SecondCurrency)
	}
	price, err := strconv.ParseFloat(response.Data[0].IndexPrice, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("bit.com returned no usable index price")
	}
	return price, nil
}

func (s *BitComSource) referencePrice(ctx context.Context) (float64, error) {
	var response struct {
		Price string `json:"price"`
	}
	url := fmt.Sprintf("%s/api/v3/avgPrice?symbol=%s", s.mexcURL, referenceSymbol)
	if err := getJSON(ctx, s.http, url, &response); err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(response.Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("no usable reference price for %s", referenceSymbol)
	}
	return price, nil
}

func (s *BitComSource) orderbook(ctx context.Context) (bids, asks []Order, err error) {
	var response struct {
		Data struct {
			Bids [][2]string `json:"bids"`
			Asks [][2]string `json:"asks"`
		} `json:"data"`
	}
	url := fmt.Sprintf("%s/spot/v1/orderbooks?pair=%s-%s&level=50",
		s.baseURL, s.cfg.FirstCurrency, s.cfg.SecondCurrency)
	if err := getJSON(ctx, s.http, url, &response); err != nil {
		return nil, nil, err
	}
	if response.Data.Bids == nil || response.Data.Asks == nil {
		return nil, nil, fmt.Errorf("bit.com returned an empty orderbook")
	}
	return parseLevels(response.Data.Bids), parseLevels(response.Data.Asks), nil
}
