// Package wallet is the JSON-RPC client for the local Zano wallet and daemon.
// It covers the three ionic-swap primitives the settlement engine drives
// (propose, accept, inspect) plus asset metadata and the signed credentials
// the venue authenticates against.
package wallet

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zanotrade/marketbot/decimals"
	"github.com/zanotrade/marketbot/marketbot"
)

// NativeAssetID is the chain's native coin. Its metadata is fixed by
// consensus, so lookups short-circuit instead of hitting the daemon.
const NativeAssetID = "d6329b5b1f7c0805b5c345f4957554002a2f557845f64d7645dae0e051a6498a"

const (
	// Swap proposal parameters the venue's wallets agree on.
	proposalMixins  = 10
	proposalFeeRaw  = 10000000000 // 0.01 native coin in raw units, paid by party A
	insufficientRPC = -7         // wallet RPC error code for unfunded swaps

	defaultTimeout = 30 * time.Second
)

// ClientConfig is all the caller needs to supply.
type ClientConfig struct {
	WalletURL string // simplewallet json_rpc endpoint
	DaemonURL string // zanod json_rpc endpoint
	APIToken  string // shared secret for access tokens
}

// AssetInfo is the metadata settlement math depends on.
type AssetInfo struct {
	AssetID      string `json:"asset_id"`
	Ticker       string `json:"ticker"`
	FullName     string `json:"full_name"`
	DecimalPoint int    `json:"decimal_point"`
}

// AuthCredentials is the signed bundle the venue's auth endpoint consumes.
type AuthCredentials struct {
	Address   string
	Alias     string
	Message   string
	Signature string
}

// ProposalEntry is one leg amount inside a decoded swap proposal. Amounts
// stay as json.Number so raw units are compared exactly, never through
// floating point.
type ProposalEntry struct {
	AssetID string      `json:"asset_id"`
	Amount  json.Number `json:"amount"`
}

// ProposalInfo is the decoded form of an opaque proposal hex.
type ProposalInfo struct {
	ToInitiator []ProposalEntry `json:"to_initiator"`
	ToFinalizer []ProposalEntry `json:"to_finalizer"`
}

// Leg finds the entry for assetID in the given leg list.
func Leg(entries []ProposalEntry, assetID string) (ProposalEntry, bool) {
	for _, e := range entries {
		if e.AssetID == assetID {
			return e, true
		}
	}
	return ProposalEntry{}, false
}

// Client talks to the wallet and daemon. Asset metadata is cached for the
// process lifetime; decimal points do not change once an asset is deployed.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *slog.Logger

	assetMu sync.Mutex
	assets  map[string]AssetInfo
}

func New(cfg ClientConfig) *Client {
	cfg.WalletURL = strings.TrimSuffix(cfg.WalletURL, "/")
	cfg.DaemonURL = strings.TrimSuffix(cfg.DaemonURL, "/")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: defaultTimeout},
		logger: slog.Default().WithGroup("wallet"),
		assets: make(map[string]AssetInfo),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, endpoint, method string, params, result any) (*rpcError, error) {
	if params == nil {
		params = struct{}{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: "0", Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	token, err := accessToken(body, c.cfg.APIToken)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/json_rpc", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Zano-Access-Token", token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}

	var envelope rpcResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return envelope.Error, nil
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return nil, fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil, nil
}

func (c *Client) walletCall(ctx context.Context, method string, params, result any) (*rpcError, error) {
	return c.call(ctx, c.cfg.WalletURL, method, params, result)
}

func (c *Client) daemonCall(ctx context.Context, method string, params, result any) (*rpcError, error) {
	return c.call(ctx, c.cfg.DaemonURL, method, params, result)
}

// GetAddress returns the wallet's public address.
func (c *Client) GetAddress(ctx context.Context) (string, error) {
	var result struct {
		Address string `json:"address"`
	}
	rpcErr, err := c.walletCall(ctx, "getaddress", nil, &result)
	if err != nil {
		return "", err
	}
	if rpcErr != nil {
		return "", fmt.Errorf("getaddress failed: %s (%d)", rpcErr.Message, rpcErr.Code)
	}
	if result.Address == "" {
		return "", fmt.Errorf("getaddress returned an empty address")
	}
	return result.Address, nil
}

// SignMessage signs message with the wallet's private key. The wallet takes
// the payload base64 encoded.
func (c *Client) SignMessage(ctx context.Context, message string) (string, error) {
	params := struct {
		Buff string `json:"buff"`
	}{Buff: base64.StdEncoding.EncodeToString([]byte(message))}

	var result struct {
		Signature string `json:"sig"`
	}
	rpcErr, err := c.walletCall(ctx, "sign_message", params, &result)
	if err != nil {
		return "", err
	}
	if rpcErr != nil {
		return "", fmt.Errorf("sign_message failed: %s (%d)", rpcErr.Message, rpcErr.Code)
	}
	if result.Signature == "" {
		return "", fmt.Errorf("sign_message returned an empty signature")
	}
	return result.Signature, nil
}

// GetAliasByAddress resolves the chain alias registered for address. An
// address without an alias returns empty, not an error.
func (c *Client) GetAliasByAddress(ctx context.Context, address string) (string, error) {
	var result struct {
		Status        string `json:"status"`
		AliasInfoList []struct {
			Alias string `json:"alias"`
		} `json:"alias_info_list"`
	}
	rpcErr, err := c.daemonCall(ctx, "get_alias_by_address", address, &result)
	if err != nil {
		return "", err
	}
	if rpcErr != nil || result.Status != "OK" || len(result.AliasInfoList) == 0 {
		return "", nil
	}
	return result.AliasInfoList[0].Alias, nil
}

// GetAssetInfo returns metadata for assetID, consulting the daemon once per
// asset and the in-process cache afterwards.
func (c *Client) GetAssetInfo(ctx context.Context, assetID string) (AssetInfo, error) {
	if assetID == NativeAssetID {
		return AssetInfo{
			AssetID:      NativeAssetID,
			Ticker:       "ZANO",
			FullName:     "Zano",
			DecimalPoint: 12,
		}, nil
	}

	c.assetMu.Lock()
	cached, ok := c.assets[assetID]
	c.assetMu.Unlock()
	if ok {
		return cached, nil
	}

	params := struct {
		AssetID string `json:"asset_id"`
	}{AssetID: assetID}

	var result struct {
		AssetDescriptor *AssetInfo `json:"asset_descriptor"`
	}
	rpcErr, err := c.daemonCall(ctx, "get_asset_info", params, &result)
	if err != nil {
		return AssetInfo{}, err
	}
	if rpcErr != nil {
		return AssetInfo{}, fmt.Errorf("get_asset_info failed for %s: %s (%d)", assetID, rpcErr.Message, rpcErr.Code)
	}
	if result.AssetDescriptor == nil {
		return AssetInfo{}, fmt.Errorf("asset %s not found", assetID)
	}

	info := *result.AssetDescriptor
	info.AssetID = assetID

	c.assetMu.Lock()
	c.assets[assetID] = info
	c.assetMu.Unlock()

	return info, nil
}

// WalletData assembles the signed credential bundle for venue auth: address,
// its alias, a one-time message, and the wallet's signature over it.
func (c *Client) WalletData(ctx context.Context) (AuthCredentials, error) {
	address, err := c.GetAddress(ctx)
	if err != nil {
		return AuthCredentials{}, err
	}

	alias, err := c.GetAliasByAddress(ctx, address)
	if err != nil {
		return AuthCredentials{}, err
	}
	if alias == "" {
		return AuthCredentials{}, fmt.Errorf("wallet address has no alias; the venue requires one")
	}

	message := uuid.NewString()
	signature, err := c.SignMessage(ctx, message)
	if err != nil {
		return AuthCredentials{}, err
	}

	return AuthCredentials{
		Address:   address,
		Alias:     alias,
		Message:   message,
		Signature: signature,
	}, nil
}

type proposalLeg struct {
	AssetID string          `json:"asset_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// ProposeSwap generates a swap proposal for the given terms and returns the
// opaque proposal hex. Amounts in terms are human units; both legs are scaled
// to raw units using each asset's decimal point. An unfunded wallet surfaces
// as marketbot.ErrInsufficientFunds.
func (c *Client) ProposeSwap(ctx context.Context, terms marketbot.SwapTerms, destinationAddress string, expiration time.Time) (string, error) {
	destAsset, err := c.GetAssetInfo(ctx, terms.DestinationAssetID)
	if err != nil {
		return "", err
	}
	curAsset, err := c.GetAssetInfo(ctx, terms.CurrentAssetID)
	if err != nil {
		return "", err
	}

	destRaw, err := decimals.Scale(terms.DestinationAmount, destAsset.DecimalPoint)
	if err != nil {
		return "", err
	}
	curRaw, err := decimals.Scale(terms.CurrentAmount, curAsset.DecimalPoint)
	if err != nil {
		return "", err
	}

	params := struct {
		Proposal struct {
			ToInitiator    []proposalLeg `json:"to_initiator"`
			ToFinalizer    []proposalLeg `json:"to_finalizer"`
			Mixins         int           `json:"mixins"`
			FeePaidByA     int64         `json:"fee_paid_by_a"`
			ExpirationTime int64         `json:"expiration_time,omitempty"`
		} `json:"proposal"`
		DestinationAddress string `json:"destination_address"`
	}{DestinationAddress: destinationAddress}

	params.Proposal.ToInitiator = []proposalLeg{{AssetID: terms.DestinationAssetID, Amount: destRaw}}
	params.Proposal.ToFinalizer = []proposalLeg{{AssetID: terms.CurrentAssetID, Amount: curRaw}}
	params.Proposal.Mixins = proposalMixins
	params.Proposal.FeePaidByA = proposalFeeRaw
	if !expiration.IsZero() {
		params.Proposal.ExpirationTime = expiration.Unix()
	}

	var result struct {
		HexRawProposal string `json:"hex_raw_proposal"`
	}
	rpcErr, err := c.walletCall(ctx, "ionic_swap_generate_proposal", params, &result)
	if err != nil {
		return "", err
	}
	if rpcErr != nil {
		if rpcErr.Code == insufficientRPC {
			return "", marketbot.ErrInsufficientFunds
		}
		return "", fmt.Errorf("swap proposal generation failed: %s (%d)", rpcErr.Message, rpcErr.Code)
	}
	if result.HexRawProposal == "" {
		return "", fmt.Errorf("swap proposal generation returned no proposal hex")
	}
	return result.HexRawProposal, nil
}

// AcceptProposal finalizes a counterparty-initiated swap proposal. An
// unfunded wallet surfaces as marketbot.ErrInsufficientFunds.
func (c *Client) AcceptProposal(ctx context.Context, hexRawProposal string) error {
	params := struct {
		HexRawProposal string `json:"hex_raw_proposal"`
	}{HexRawProposal: hexRawProposal}

	var result json.RawMessage
	rpcErr, err := c.walletCall(ctx, "ionic_swap_accept_proposal", params, &result)
	if err != nil {
		return err
	}
	if rpcErr != nil {
		if rpcErr.Code == insufficientRPC {
			return marketbot.ErrInsufficientFunds
		}
		return fmt.Errorf("swap proposal accept failed: %s (%d)", rpcErr.Message, rpcErr.Code)
	}
	if len(result) == 0 || string(result) == "null" {
		return fmt.Errorf("swap proposal accept returned no result")
	}
	return nil
}

// InspectProposal decodes a proposal hex into its two legs without acting
// on it.
func (c *Client) InspectProposal(ctx context.Context, hexRawProposal string) (ProposalInfo, error) {
	params := struct {
		HexRawProposal string `json:"hex_raw_proposal"`
	}{HexRawProposal: hexRawProposal}

	var result struct {
		Proposal ProposalInfo `json:"proposal"`
	}
	rpcErr, err := c.walletCall(ctx, "ionic_swap_get_proposal_info", params, &result)
	if err != nil {
		return ProposalInfo{}, err
	}
	if rpcErr != nil {
		return ProposalInfo{}, fmt.Errorf("swap proposal inspect failed: %s (%d)", rpcErr.Message, rpcErr.Code)
	}
	return result.Proposal, nil
}
