package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zanotrade/marketbot/marketbot"
)

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// pairItem is the on-disk shape of one configured pair. Monetary fields stay
// strings until parsed into decimals; the parser block's values are strings
// too, matching how the file has always been written.
type pairItem struct {
	PairURL      string            `json:"pair_url"`
	Amount       string            `json:"amount"`
	Price        string            `json:"price"`
	Type         string            `json:"type"`
	TradeID      string            `json:"trade_id"`
	ParserConfig *pairParserConfig `json:"parser_config"`
}

type pairParserConfig struct {
	PriceIntervalSec        string `json:"PRICE_INTERVAL_SEC"`
	PriceSellPercent        string `json:"PRICE_SELL_PERCENT"`
	PriceBuyPercent         string `json:"PRICE_BUY_PERCENT"`
	PriceSensitivityPercent string `json:"PRICE_CHANGE_SENSITIVITY_PERCENT"`
	DepthSensitivityPercent string `json:"DEPTH_CHANGE_SENSITIVITY_PERCENT"`
	ParserType              string `json:"PARSER_TYPE"`
	PairAgainstStablecoin   string `json:"PAIR_AGAINST_STABLECOIN"`
	FirstCurrency           string `json:"FIRST_CURRENCY"`
	SecondCurrency          string `json:"SECOND_CURRENCY"`
}

// LoadPairs reads and validates the pair configuration file. Any malformed
// entry fails the whole load; a bot trading half its config is worse than
// one that refuses to start.
func LoadPairs(path string) ([]marketbot.PairConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pair config: %w", err)
	}

	var items []pairItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse pair config: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("pair config %s lists no pairs", path)
	}

	pairs := make([]marketbot.PairConfig, 0, len(items))
	for i, item := range items {
		pair, err := parsePair(item)
		if err != nil {
			return nil, fmt.Errorf("pair config entry %d: %w", i, err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func parsePair(item pairItem) (marketbot.PairConfig, error) {
	pairID, err := pairIDFromURL(item.PairURL)
	if err != nil {
		return marketbot.PairConfig{}, err
	}

	amount, err := decimal.NewFromString(item.Amount)
	if err != nil {
		return marketbot.PairConfig{}, fmt.Errorf("amount %q is not numeric", item.Amount)
	}
	price, err := decimal.NewFromString(item.Price)
	if err != nil {
		return marketbot.PairConfig{}, fmt.Errorf("price %q is not numeric", item.Price)
	}

	var side marketbot.Side
	switch strings.ToLower(item.Type) {
	case "buy":
		side = marketbot.SideBuy
	case "sell":
		side = marketbot.SideSell
	default:
		return marketbot.PairConfig{}, fmt.Errorf("type %q is neither buy nor sell", item.Type)
	}

	cfg := marketbot.PairConfig{
		PairID:  pairID,
		Side:    side,
		Amount:  amount,
		Price:   price,
		TradeID: item.TradeID,
	}

	if item.ParserConfig != nil {
		live, err := parseLive(*item.ParserConfig)
		if err != nil {
			return marketbot.PairConfig{}, err
		}
		cfg.Live = &live
	}
	return cfg, nil
}

// pairIDFromURL extracts the numeric pair id from a venue pair URL, its last
// path segment.
func pairIDFromURL(pairURL string) (int64, error) {
	parsed, err := url.Parse(pairURL)
	if err != nil {
		return 0, fmt.Errorf("pair_url %q is not a URL", pairURL)
	}

	segments := strings.Split(parsed.Path, "/")
	var last string
	for _, segment := range segments {
		if segment != "" {
			last = segment
		}
	}
	if !digitsOnly.MatchString(last) {
		return 0, fmt.Errorf("pair_url %q does not end in a pair id", pairURL)
	}
	return strconv.ParseInt(last, 10, 64)
}

func parseLive(pc pairParserConfig) (marketbot.LiveConfig, error) {
	switch pc.ParserType {
	case "mexc", "bitcom":
	default:
		return marketbot.LiveConfig{}, fmt.Errorf("PARSER_TYPE %q must be mexc or bitcom", pc.ParserType)
	}
	if pc.FirstCurrency == "" || pc.SecondCurrency == "" {
		return marketbot.LiveConfig{}, fmt.Errorf("parser config needs FIRST_CURRENCY and SECOND_CURRENCY")
	}

	intervalSec, err := positiveInt(pc.PriceIntervalSec, "PRICE_INTERVAL_SEC")
	if err != nil {
		return marketbot.LiveConfig{}, err
	}
	buyPct, err := positiveFloat(pc.PriceBuyPercent, "PRICE_BUY_PERCENT")
	if err != nil {
		return marketbot.LiveConfig{}, err
	}
	sellPct, err := positiveFloat(pc.PriceSellPercent, "PRICE_SELL_PERCENT")
	if err != nil {
		return marketbot.LiveConfig{}, err
	}
	priceSens, err := positiveFloat(pc.PriceSensitivityPercent, "PRICE_CHANGE_SENSITIVITY_PERCENT")
	if err != nil {
		return marketbot.LiveConfig{}, err
	}
	depthSens, err := positiveFloat(pc.DepthSensitivityPercent, "DEPTH_CHANGE_SENSITIVITY_PERCENT")
	if err != nil {
		return marketbot.LiveConfig{}, err
	}

	return marketbot.LiveConfig{
		Source:                  pc.ParserType,
		PriceInterval:           time.Duration(intervalSec) * time.Second,
		PriceBuyPercent:         buyPct,
		PriceSellPercent:        sellPct,
		PriceSensitivityPercent: priceSens,
		DepthSensitivityPercent: depthSens,
		AgainstStablecoin:       pc.PairAgainstStablecoin == "true",
		FirstCurrency:           pc.FirstCurrency,
		SecondCurrency:          pc.SecondCurrency,
	}, nil
}

func positiveInt(value, name string) (int, error) {
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("%s %q is not a positive integer", name, value)
	}
	return parsed, nil
}

func positiveFloat(value, name string) (float64, error) {
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("%s %q is not a positive number", name, value)
	}
	return parsed, nil
}
