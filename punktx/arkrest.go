package punktx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// defaultRequestTimeout bounds every wallet daemon round trip.
	defaultRequestTimeout = 30 * time.Second

	// maxResponseSize caps how much of a wallet daemon response is read
	// into memory.
	maxResponseSize = 1 << 20
)

var (
	// ErrWalletUnavailable is returned when the wallet daemon can't be
	// reached or answers with a non-2xx status.
	ErrWalletUnavailable = errors.New("punktx: ark wallet unavailable")
)

// RestClient is an ArkClient backed by the REST surface of an Ark wallet
// daemon.
type RestClient struct {
	baseURL string
	client  *http.Client
}

// A compile time assertion that RestClient satisfies ArkClient.
var _ ArkClient = (*RestClient)(nil)

// NewRestClient returns a client bound to the wallet daemon at the given
// base URL.
func NewRestClient(baseURL string) (*RestClient, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("punktx: invalid wallet URL %q: %w",
			baseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("punktx: invalid wallet URL %q: "+
			"unsupported scheme %q", baseURL, parsed.Scheme)
	}

	return &RestClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}, nil
}

// do performs a single wallet daemon request, decoding the JSON response
// into out when out is non-nil.
func (r *RestClient) do(ctx context.Context, method, path string,
	reqBody, out interface{}) error {

	var body io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("punktx: encoding request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, r.baseURL+path, body,
	)
	if err != nil {
		return fmt.Errorf("punktx: building request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrWalletUnavailable,
			method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v",
			ErrWalletUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s returned status %d: %s",
			ErrWalletUnavailable, method, path, resp.StatusCode,
			strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("punktx: parsing response: %w", err)
	}

	return nil
}

type sendRequest struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

type sendResponse struct {
	Txid string `json:"txid"`
}

// Send transfers the given amount to an Ark address through the wallet
// daemon.
func (r *RestClient) Send(ctx context.Context, addr string,
	amount btcutil.Amount) (string, error) {

	var resp sendResponse
	err := r.do(ctx, http.MethodPost, "/v1/send", &sendRequest{
		Address: addr,
		Amount:  uint64(amount),
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Txid == "" {
		return "", fmt.Errorf("%w: send returned no txid",
			ErrWalletUnavailable)
	}

	return resp.Txid, nil
}

type vtxoJSON struct {
	Txid    string `json:"txid"`
	Vout    uint32 `json:"vout"`
	Amount  uint64 `json:"amount"`
	Address string `json:"address"`
	Spent   bool   `json:"spent"`
}

type vtxosResponse struct {
	Vtxos []vtxoJSON `json:"vtxos"`
}

// GetVtxos returns the wallet's current VTXO set, spent entries included.
func (r *RestClient) GetVtxos(ctx context.Context) ([]Vtxo, error) {
	var resp vtxosResponse
	err := r.do(ctx, http.MethodGet, "/v1/vtxos", nil, &resp)
	if err != nil {
		return nil, err
	}

	vtxos := make([]Vtxo, 0, len(resp.Vtxos))
	for _, v := range resp.Vtxos {
		outpoint, err := NewOutpoint(v.Txid, v.Vout)
		if err != nil {
			return nil, fmt.Errorf("punktx: vtxo %s:%d: %w",
				v.Txid, v.Vout, err)
		}

		vtxos = append(vtxos, Vtxo{
			Outpoint: *outpoint,
			Amount:   btcutil.Amount(v.Amount),
			Address:  v.Address,
			Spent:    v.Spent,
		})
	}

	return vtxos, nil
}

type balanceResponse struct {
	Balance uint64 `json:"balance"`
}

// GetBalance returns the wallet's spendable balance in sats.
func (r *RestClient) GetBalance(ctx context.Context) (btcutil.Amount,
	error) {

	var resp balanceResponse
	err := r.do(ctx, http.MethodGet, "/v1/balance", nil, &resp)
	if err != nil {
		return 0, err
	}

	return btcutil.Amount(resp.Balance), nil
}

type boardingResponse struct {
	Address string `json:"address"`
}

// GetBoardingAddress returns an on-chain address that boards funds into
// the Ark.
func (r *RestClient) GetBoardingAddress(ctx context.Context) (string,
	error) {

	var resp boardingResponse
	err := r.do(ctx, http.MethodGet, "/v1/boarding", nil, &resp)
	if err != nil {
		return "", err
	}
	if resp.Address == "" {
		return "", fmt.Errorf("%w: boarding returned no address",
			ErrWalletUnavailable)
	}

	return resp.Address, nil
}
