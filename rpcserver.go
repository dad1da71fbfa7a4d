package punkd

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/arkpunks/punkd/escrow"
	"github.com/arkpunks/punkd/punk"
	"github.com/arkpunks/punkd/punkdb"
	"github.com/arkpunks/punkd/punktx"
)

const (
	// maxRequestBodyBytes caps the size of any request body we are
	// willing to decode.
	maxRequestBodyBytes = 1 << 20

	// defaultAuditLimit is how many audit rows the admin endpoint returns
	// when no explicit limit is given.
	defaultAuditLimit = 200

	// serverShutdownTimeout bounds the graceful HTTP shutdown.
	serverShutdownTimeout = 5 * time.Second
)

// rpcServerConfig bundles everything the HTTP surface needs to serve
// requests.
type rpcServerConfig struct {
	// ListenAddr is the host:port the server binds to.
	ListenAddr string

	// Network names the Ark network the daemon runs on.
	Network string

	// AdminPassword gates the admin endpoints. Empty disables them.
	AdminPassword string

	// Registry is the punk ownership and supply authority.
	Registry *punkdb.Registry

	// Market is the marketplace persistence layer.
	Market *punkdb.MarketplaceStore

	// Engine drives the escrow state machine.
	Engine *escrow.Engine

	// Wallet is the escrow Ark wallet client.
	Wallet punktx.ArkClient

	// ServerPubkey is the daemon's attestation public key.
	ServerPubkey *btcec.PublicKey

	// HRP is the bech32m prefix of the active network.
	HRP string
}

// rpcServer is the JSON-over-HTTP API of the punk daemon.
type rpcServer struct {
	started  int32
	shutdown int32

	cfg *rpcServerConfig

	httpServer *http.Server
}

// newRPCServer creates a new rpcServer and registers all routes.
func newRPCServer(cfg *rpcServerConfig) *rpcServer {
	s := &rpcServer{
		cfg: cfg,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/api/wallet/status", s.handleWalletStatus)
	mux.HandleFunc("/api/wallet/register", s.handleWalletRegister)
	mux.HandleFunc("/api/wallet/recover", s.handleWalletRecover)

	mux.HandleFunc("/api/punks", s.handlePunks)
	mux.HandleFunc("/api/punks/owner", s.handlePunksByOwner)
	mux.HandleFunc("/api/punks/history", s.handlePunkHistory)
	mux.HandleFunc("/api/supply", s.handleSupply)

	mux.HandleFunc("/api/escrow/list", s.handleEscrowList)
	mux.HandleFunc("/api/escrow/info", s.handleEscrowInfo)
	mux.HandleFunc("/api/escrow/listings", s.handleEscrowListings)
	mux.HandleFunc("/api/escrow/update-outpoint", s.handleUpdateOutpoint)
	mux.HandleFunc("/api/escrow/buy", s.handleEscrowBuy)
	mux.HandleFunc("/api/escrow/execute", s.handleEscrowExecute)
	mux.HandleFunc("/api/escrow/cancel", s.handleEscrowCancel)
	mux.HandleFunc("/api/escrow/claim-reserves", s.handleClaimReserves)

	mux.HandleFunc("/api/marketplace/sales", s.handleSales)

	mux.HandleFunc("/api/admin/audit", s.handleAdminAudit)

	s.httpServer = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: corsMiddleware(mux),
	}

	return s
}

// Start launches the HTTP listener. It only returns startup errors; serve
// errors after a successful bind are logged.
func (r *rpcServer) Start() error {
	if atomic.AddInt32(&r.started, 1) != 1 {
		return nil
	}

	rpcsLog.Infof("Starting HTTP server on %v", r.cfg.ListenAddr)

	errChan := make(chan error, 1)
	go func() {
		err := r.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			rpcsLog.Errorf("HTTP server error: %v", err)
		}
		errChan <- err
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("unable to start HTTP server: %w", err)

	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts down the HTTP listener.
func (r *rpcServer) Stop() error {
	if atomic.AddInt32(&r.shutdown, 1) != 1 {
		return nil
	}

	rpcsLog.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(
		context.Background(), serverShutdownTimeout,
	)
	defer cancel()

	return r.httpServer.Shutdown(ctx)
}

// corsMiddleware allows browser wallets on other origins to call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter,
		req *http.Request) {

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set(
			"Access-Control-Allow-Methods", "GET, POST, OPTIONS",
		)
		w.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, X-Admin-Password",
		)

		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, req)
	})
}

// writeJSON renders v as the JSON response body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		rpcsLog.Errorf("Unable to encode response: %v", err)
	}
}

// writeErr renders err as a JSON error object with the status code of its
// classified kind.
func writeErr(w http.ResponseWriter, err error) {
	kind := ClassifyErr(err)
	status := kind.HTTPStatus()

	if status >= http.StatusInternalServerError {
		rpcsLog.Errorf("Request failed: %v", err)
	} else {
		rpcsLog.Debugf("Request rejected: %v", err)
	}

	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{
		Error: err.Error(),
	})
}

// decodeRequest unmarshals a size-capped JSON request body into v.
func decodeRequest(w http.ResponseWriter, req *http.Request,
	v interface{}) error {

	body := http.MaxBytesReader(w, req.Body, maxRequestBodyBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	return nil
}

// requireMethod rejects requests using the wrong HTTP verb.
func requireMethod(w http.ResponseWriter, req *http.Request,
	method string) bool {

	if req.Method != method {
		w.Header().Set("Allow", method)
		writeJSON(w, http.StatusMethodNotAllowed, struct {
			Error string `json:"error"`
		}{
			Error: "method not allowed",
		})
		return false
	}

	return true
}

// parsePunkID decodes the hex punk id common to most request bodies.
func parsePunkID(idHex string) (punk.ID, error) {
	id, err := punk.NewIDFromStr(idHex)
	if err != nil {
		return punk.ID{}, fmt.Errorf("%w: invalid punkId: %v",
			ErrInvalidRequest, err)
	}

	return id, nil
}

// parsePubkey decodes a 32-byte x-only or 33-byte compressed hex pubkey.
func parsePubkey(keyHex string) (*btcec.PublicKey, error) {
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid pubkey hex: %v",
			ErrInvalidRequest, err)
	}

	switch len(keyBytes) {
	case schnorr.PubKeyBytesLen:
		key, err := schnorr.ParsePubKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest,
				err)
		}
		return key, nil

	case btcec.PubKeyBytesLenCompressed:
		key, err := btcec.ParsePubKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest,
				err)
		}
		return key, nil

	default:
		return nil, fmt.Errorf("%w: pubkey must be 32 or 33 bytes, "+
			"got %d", ErrInvalidRequest, len(keyBytes))
	}
}

// rpcPunk is the wire rendering of a registry row.
type rpcPunk struct {
	PunkID             string `json:"punkId"`
	OwnerAddress       string `json:"ownerAddress"`
	CompressedMetadata string `json:"compressedMetadata,omitempty"`
	ServerSignature    string `json:"serverSignature,omitempty"`
	IsOfficial         bool   `json:"isOfficial"`
	MintedAt           int64  `json:"mintedAt"`
	UpdatedAt          int64  `json:"updatedAt"`
}

func (r *rpcServer) marshalPunk(p *punkdb.RegisteredPunk) *rpcPunk {
	return &rpcPunk{
		PunkID:             p.ID.String(),
		OwnerAddress:       p.Owner,
		CompressedMetadata: p.Compressed,
		ServerSignature:    hex.EncodeToString(p.Signature),
		IsOfficial:         r.cfg.Registry.IsOfficial(p),
		MintedAt:           p.MintedAt.Unix(),
		UpdatedAt:          p.UpdatedAt.Unix(),
	}
}

func (r *rpcServer) marshalPunks(punks []*punkdb.RegisteredPunk) []*rpcPunk {
	out := make([]*rpcPunk, 0, len(punks))
	for _, p := range punks {
		out = append(out, r.marshalPunk(p))
	}
	return out
}

// rpcListing is the wire rendering of a marketplace listing.
type rpcListing struct {
	PunkID             string `json:"punkId"`
	SellerAddress      string `json:"sellerAddress"`
	SellerPubkey       string `json:"sellerPubkey,omitempty"`
	PriceSats          uint64 `json:"priceSats"`
	Status             string `json:"status"`
	EscrowAddress      string `json:"escrowAddress"`
	PunkVtxoOutpoint   string `json:"punkVtxoOutpoint,omitempty"`
	CreatedAt          int64  `json:"createdAt"`
	DepositedAt        int64  `json:"depositedAt,omitempty"`
	SoldAt             int64  `json:"soldAt,omitempty"`
	BuyerAddress       string `json:"buyerAddress,omitempty"`
	PaymentTxid        string `json:"paymentTxid,omitempty"`
	CompressedMetadata string `json:"compressedMetadata,omitempty"`
}

func marshalListing(l *punkdb.Listing) *rpcListing {
	out := &rpcListing{
		PunkID:             l.PunkID.String(),
		SellerAddress:      l.SellerAddress,
		SellerPubkey:       hex.EncodeToString(l.SellerPubkey),
		PriceSats:          l.PriceSats,
		Status:             string(l.Status),
		EscrowAddress:      l.EscrowAddress,
		PunkVtxoOutpoint:   l.PunkVtxoOutpoint,
		CreatedAt:          l.CreatedAt.Unix(),
		BuyerAddress:       l.BuyerAddress,
		PaymentTxid:        l.PaymentTxid,
		CompressedMetadata: l.CompressedMetadata,
	}

	if !l.DepositedAt.IsZero() {
		out.DepositedAt = l.DepositedAt.Unix()
	}
	if !l.SoldAt.IsZero() {
		out.SoldAt = l.SoldAt.Unix()
	}

	return out
}

// handleWalletStatus implements GET /api/wallet/status?address=....
func (r *rpcServer) handleWalletStatus(w http.ResponseWriter,
	req *http.Request) {

	if !requireMethod(w, req, http.MethodGet) {
		return
	}

	address := req.URL.Query().Get("address")
	if address == "" {
		writeErr(w, fmt.Errorf("%w: missing address",
			ErrInvalidRequest))
		return
	}

	punks, err := r.cfg.Registry.FetchPunksByOwner(req.Context(), address)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Address      string `json:"address"`
		IsRegistered bool   `json:"isRegistered"`
		PunkCount    int    `json:"punkCount"`
	}{
		Address:      address,
		IsRegistered: len(punks) > 0,
		PunkCount:    len(punks),
	})
}

// handleWalletRegister implements POST /api/wallet/register.
func (r *rpcServer) handleWalletRegister(w http.ResponseWriter,
	req *http.Request) {

	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	var body struct {
		Address      string   `json:"address"`
		AltAddresses []string `json:"altAddresses"`
		Punks        []struct {
			PunkID             string `json:"punkId"`
			MintDate           int64  `json:"mintDate"`
			CompressedMetadata string `json:"compressedMetadata"`
		} `json:"punks"`
	}
	if err := decodeRequest(w, req, &body); err != nil {
		writeErr(w, err)
		return
	}

	if body.Address == "" {
		writeErr(w, fmt.Errorf("%w: missing address",
			ErrInvalidRequest))
		return
	}

	declared := make([]punkdb.DeclaredPunk, 0, len(body.Punks))
	for _, p := range body.Punks {
		id, err := parsePunkID(p.PunkID)
		if err != nil {
			writeErr(w, err)
			return
		}

		d := punkdb.DeclaredPunk{
			ID:         id,
			Compressed: p.CompressedMetadata,
		}
		if p.MintDate > 0 {
			d.MintedAt = time.Unix(p.MintDate, 0).UTC()
		}
		declared = append(declared, d)
	}

	summary, results, err := r.cfg.Registry.RegisterWallet(
		req.Context(), &punkdb.RegistrationRequest{
			Address:      body.Address,
			AltAddresses: body.AltAddresses,
			Punks:        declared,
		},
	)
	if err != nil {
		writeErr(w, err)
		return
	}

	type rpcResult struct {
		PunkID string `json:"punkId"`
		Action string `json:"action"`
		Detail string `json:"detail,omitempty"`
	}
	rpcResults := make([]*rpcResult, 0, len(results))
	for _, res := range results {
		rpcResults = append(rpcResults, &rpcResult{
			PunkID: res.ID.String(),
			Action: string(res.Action),
			Detail: res.Detail,
		})
	}

	writeJSON(w, http.StatusOK, struct {
		Summary *punkdb.RegistrationSummary `json:"summary"`
		Results []*rpcResult                `json:"results"`
	}{
		Summary: summary,
		Results: rpcResults,
	})
}

// handleWalletRecover implements POST /api/wallet/recover.
func (r *rpcServer) handleWalletRecover(w http.ResponseWriter,
	req *http.Request) {

	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	var body struct {
		MinterPubkey string `json:"minterPubkey"`
	}
	if err := decodeRequest(w, req, &body); err != nil {
		writeErr(w, err)
		return
	}

	minterKey, err := parsePubkey(body.MinterPubkey)
	if err != nil {
		writeErr(w, err)
		return
	}

	punks, err := r.cfg.Registry.RecoverablePunks(
		req.Context(), minterKey,
	)
	if err != nil {
		writeErr(w, err)
		return
	}

	available := make([]*rpcPunk, 0, len(punks))
	claimed := make([]*rpcPunk, 0)
	for _, p := range punks {
		available = append(available, r.marshalPunk(p))
	}

	writeJSON(w, http.StatusOK, struct {
		Available []*rpcPunk `json:"available"`
		Claimed   []*rpcPunk `json:"claimed"`
	}{
		Available: available,
		Claimed:   claimed,
	})
}

// handlePunks implements GET /api/punks.
func (r *rpcServer) handlePunks(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodGet) {
		return
	}

	punks, err := r.cfg.Registry.FetchAllPunks(req.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Punks []*rpcPunk `json:"punks"`
	}{
		Punks: r.marshalPunks(punks),
	})
}

// handlePunksByOwner implements GET /api/punks/owner?address=....
func (r *rpcServer) handlePunksByOwner(w http.ResponseWriter,
	req *http.Request) {

	if !requireMethod(w, req, http.MethodGet) {
		return
	}

	address := req.URL.Query().Get("address")
	if address == "" {
		writeErr(w, fmt.Errorf("%w: missing address",
			ErrInvalidRequest))
		return
	}

	punks, err := r.cfg.Registry.FetchPunksByOwner(req.Context(), address)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Punks []*rpcPunk `json:"punks"`
	}{
		Punks: r.marshalPunks(punks),
	})
}

// handlePunkHistory implements GET /api/punks/history?punkId=....
func (r *rpcServer) handlePunkHistory(w http.ResponseWriter,
	req *http.Request) {

	if !requireMethod(w, req, http.MethodGet) {
		return
	}

	id, err := parsePunkID(req.URL.Query().Get("punkId"))
	if err != nil {
		writeErr(w, err)
		return
	}

	history, err := r.cfg.Registry.FetchHistory(req.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}

	type rpcHop struct {
		From string `json:"from,omitempty"`
		To   string `json:"to"`
		At   int64  `json:"at"`
	}
	hops := make([]*rpcHop, 0, len(history))
	for _, h := range history {
		hops = append(hops, &rpcHop{
			From: h.From,
			To:   h.To,
			At:   h.At.Unix(),
		})
	}

	writeJSON(w, http.StatusOK, struct {
		PunkID  string    `json:"punkId"`
		History []*rpcHop `json:"history"`
	}{
		PunkID:  id.String(),
		History: hops,
	})
}

// handleSupply implements GET /api/supply.
func (r *rpcServer) handleSupply(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodGet) {
		return
	}

	minted, maxPunks, err := r.cfg.Registry.Supply(req.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		TotalMinted int64 `json:"totalMinted"`
		MaxPunks    int64 `json:"maxPunks"`
	}{
		TotalMinted: minted,
		MaxPunks:    maxPunks,
	})
}

// handleEscrowList implements POST /api/escrow/list.
func (r *rpcServer) handleEscrowList(w http.ResponseWriter,
	req *http.Request) {

	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	var body struct {
		PunkID             string `json:"punkId"`
		SellerPubkey       string `json:"sellerPubkey"`
		SellerArkAddress   string `json:"sellerArkAddress"`
		Price              uint64 `json:"price"`
		CompressedMetadata string `json:"compressedMetadata"`
	}
	if err := decodeRequest(w, req, &body); err != nil {
		writeErr(w, err)
		return
	}

	id, err := parsePunkID(body.PunkID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if body.SellerArkAddress == "" {
		writeErr(w, fmt.Errorf("%w: missing sellerArkAddress",
			ErrInvalidRequest))
		return
	}
	if body.Price == 0 {
		writeErr(w, fmt.Errorf("%w: price must be positive",
			ErrInvalidRequest))
		return
	}

	sellerPubkey, err := hex.DecodeString(body.SellerPubkey)
	if err != nil {
		writeErr(w, fmt.Errorf("%w: invalid sellerPubkey: %v",
			ErrInvalidRequest, err))
		return
	}

	listing, err := r.cfg.Engine.List(req.Context(), escrow.ListParams{
		PunkID:        id,
		SellerAddress: body.SellerArkAddress,
		SellerPubkey:  sellerPubkey,
		PriceSats:     body.Price,
		Compressed:    body.CompressedMetadata,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, marshalListing(listing))
}

// handleEscrowInfo implements GET /api/escrow/info.
func (r *rpcServer) handleEscrowInfo(w http.ResponseWriter,
	req *http.Request) {

	if !requireMethod(w, req, http.MethodGet) {
		return
	}

	info := r.cfg.Engine.Info()

	var escrowPubkey string
	if info.Pubkey != nil {
		escrowPubkey = hex.EncodeToString(
			info.Pubkey.SerializeCompressed(),
		)
	}

	writeJSON(w, http.StatusOK, struct {
		EscrowAddress string `json:"escrowAddress"`
		EscrowPubkey  string `json:"escrowPubkey,omitempty"`
		ServerPubkey  string `json:"serverPubkey"`
		ReserveSats   int64  `json:"reserveSats"`
		FeePercent    uint64 `json:"feePercent"`
		Network       string `json:"network"`
	}{
		EscrowAddress: info.Address,
		EscrowPubkey:  escrowPubkey,
		ServerPubkey: hex.EncodeToString(
			schnorr.SerializePubKey(r.cfg.ServerPubkey),
		),
		ReserveSats: int64(info.Reserve),
		FeePercent:  info.FeePercent,
		Network:     r.cfg.Network,
	})
}

// handleEscrowListings implements GET /api/escrow/listings.
func (r *rpcServer) handleEscrowListings(w http.ResponseWriter,
	req *http.Request) {

	if !requireMethod(w, req, http.MethodGet) {
		return
	}

	listings, err := r.cfg.Market.ActiveListings(req.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	out := make([]*rpcListing, 0, len(listings))
	for _, l := range listings {
		out = append(out, marshalListing(l))
	}

	writeJSON(w, http.StatusOK, struct {
		Listings []*rpcListing `json:"listings"`
	}{
		Listings: out,
	})
}

// handleUpdateOutpoint implements POST /api/escrow/update-outpoint.
func (r *rpcServer) handleUpdateOutpoint(w http.ResponseWriter,
	req *http.Request) {

	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	var body struct {
		PunkID           string `json:"punkId"`
		PunkVtxoOutpoint string `json:"punkVtxoOutpoint"`
	}
	if err := decodeRequest(w, req, &body); err != nil {
		writeErr(w, err)
		return
	}

	id, err := parsePunkID(body.PunkID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if body.PunkVtxoOutpoint == "" {
		writeErr(w, fmt.Errorf("%w: missing punkVtxoOutpoint",
			ErrInvalidRequest))
		return
	}

	err = r.cfg.Engine.ConfirmDeposit(
		req.Context(), id, body.PunkVtxoOutpoint,
	)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		PunkID string `json:"punkId"`
		Status string `json:"status"`
	}{
		PunkID: id.String(),
		Status: string(punkdb.StatusDeposited),
	})
}

// buyRequest is the shared body of the buy and execute endpoints.
type buyRequest struct {
	PunkID          string `json:"punkId"`
	BuyerPubkey     string `json:"buyerPubkey"`
	BuyerArkAddress string `json:"buyerArkAddress"`
}

// handleEscrowBuy implements POST /api/escrow/buy.
func (r *rpcServer) handleEscrowBuy(w http.ResponseWriter,
	req *http.Request) {

	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	var body buyRequest
	if err := decodeRequest(w, req, &body); err != nil {
		writeErr(w, err)
		return
	}

	id, err := parsePunkID(body.PunkID)
	if err != nil {
		writeErr(w, err)
		return
	}

	quote, err := r.cfg.Engine.QuoteBuy(req.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		PunkID    string `json:"punkId"`
		PriceSats uint64 `json:"priceSats"`
		PayTo     string `json:"payTo"`
	}{
		PunkID:    quote.PunkID.String(),
		PriceSats: quote.PriceSats,
		PayTo:     quote.PayTo,
	})
}

// handleEscrowExecute implements POST /api/escrow/execute.
func (r *rpcServer) handleEscrowExecute(w http.ResponseWriter,
	req *http.Request) {

	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	var body buyRequest
	if err := decodeRequest(w, req, &body); err != nil {
		writeErr(w, err)
		return
	}

	id, err := parsePunkID(body.PunkID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if body.BuyerArkAddress == "" {
		writeErr(w, fmt.Errorf("%w: missing buyerArkAddress",
			ErrInvalidRequest))
		return
	}

	buyerPubkey, err := hex.DecodeString(body.BuyerPubkey)
	if err != nil {
		writeErr(w, fmt.Errorf("%w: invalid buyerPubkey: %v",
			ErrInvalidRequest, err))
		return
	}

	result, err := r.cfg.Engine.Execute(
		req.Context(), id, body.BuyerArkAddress, buyerPubkey,
	)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		PunkID            string `json:"punkId"`
		PriceSats         uint64 `json:"priceSats"`
		FeeSats           uint64 `json:"feeSats"`
		PaymentTxid       string `json:"paymentTxid"`
		DepositReturnTxid string `json:"depositReturnTxid,omitempty"`
	}{
		PunkID:            result.PunkID.String(),
		PriceSats:         result.PriceSats,
		FeeSats:           result.FeeSats,
		PaymentTxid:       result.PaymentTxid,
		DepositReturnTxid: result.DepositReturnTxid,
	})
}

// handleEscrowCancel implements POST /api/escrow/cancel.
func (r *rpcServer) handleEscrowCancel(w http.ResponseWriter,
	req *http.Request) {

	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	var body struct {
		PunkID        string `json:"punkId"`
		SellerAddress string `json:"sellerAddress"`
	}
	if err := decodeRequest(w, req, &body); err != nil {
		writeErr(w, err)
		return
	}

	id, err := parsePunkID(body.PunkID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if body.SellerAddress == "" {
		writeErr(w, fmt.Errorf("%w: missing sellerAddress",
			ErrInvalidRequest))
		return
	}

	err = r.cfg.Engine.Cancel(req.Context(), id, body.SellerAddress)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		PunkID string `json:"punkId"`
		Status string `json:"status"`
	}{
		PunkID: id.String(),
		Status: string(punkdb.StatusCancelled),
	})
}

// handleClaimReserves implements POST /api/escrow/claim-reserves.
func (r *rpcServer) handleClaimReserves(w http.ResponseWriter,
	req *http.Request) {

	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	var body struct {
		Address       string `json:"address"`
		WalletBalance int64  `json:"walletBalance"`
	}
	if err := decodeRequest(w, req, &body); err != nil {
		writeErr(w, err)
		return
	}

	if body.Address == "" {
		writeErr(w, fmt.Errorf("%w: missing address",
			ErrInvalidRequest))
		return
	}

	amount, txid, err := r.cfg.Engine.ClaimReserves(
		req.Context(), escrow.ClaimParams{
			Address:       body.Address,
			WalletBalance: btcutil.Amount(body.WalletBalance),
		},
	)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		AmountSats int64  `json:"amountSats"`
		Txid       string `json:"txid"`
	}{
		AmountSats: int64(amount),
		Txid:       txid,
	})
}

// handleSales implements GET /api/marketplace/sales.
func (r *rpcServer) handleSales(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodGet) {
		return
	}

	sales, err := r.cfg.Market.Sales(req.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	stats, err := r.cfg.Market.Stats(req.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	type rpcSale struct {
		PunkID      string `json:"punkId"`
		PriceSats   uint64 `json:"priceSats"`
		Seller      string `json:"seller"`
		Buyer       string `json:"buyer"`
		SoldAt      int64  `json:"soldAt"`
		PaymentTxid string `json:"paymentTxid"`
	}
	rpcSales := make([]*rpcSale, 0, len(sales))
	for _, s := range sales {
		rpcSales = append(rpcSales, &rpcSale{
			PunkID:      s.PunkID.String(),
			PriceSats:   s.PriceSats,
			Seller:      s.Seller,
			Buyer:       s.Buyer,
			SoldAt:      s.SoldAt.Unix(),
			PaymentTxid: s.PaymentTxid,
		})
	}

	writeJSON(w, http.StatusOK, struct {
		Sales []*rpcSale `json:"sales"`
		Stats struct {
			NumSales   int64   `json:"numSales"`
			FloorSats  uint64  `json:"floorSats"`
			HighSats   uint64  `json:"highSats"`
			VolumeSats uint64  `json:"volumeSats"`
			AvgSats    float64 `json:"avgSats"`
		} `json:"stats"`
	}{
		Sales: rpcSales,
		Stats: struct {
			NumSales   int64   `json:"numSales"`
			FloorSats  uint64  `json:"floorSats"`
			HighSats   uint64  `json:"highSats"`
			VolumeSats uint64  `json:"volumeSats"`
			AvgSats    float64 `json:"avgSats"`
		}{
			NumSales:   stats.NumSales,
			FloorSats:  stats.FloorSats,
			HighSats:   stats.HighSats,
			VolumeSats: stats.VolumeSats,
			AvgSats:    stats.AvgSats,
		},
	})
}

// handleAdminAudit implements GET /api/admin/audit, gated by the admin
// password.
func (r *rpcServer) handleAdminAudit(w http.ResponseWriter,
	req *http.Request) {

	if !requireMethod(w, req, http.MethodGet) {
		return
	}

	if !r.checkAdminPassword(req) {
		writeJSON(w, http.StatusUnauthorized, struct {
			Error string `json:"error"`
		}{
			Error: "unauthorized",
		})
		return
	}

	limit := int64(defaultAuditLimit)
	if limitStr := req.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.ParseInt(limitStr, 10, 64)
		if err != nil || parsed <= 0 {
			writeErr(w, fmt.Errorf("%w: invalid limit",
				ErrInvalidRequest))
			return
		}
		limit = parsed
	}

	events, err := r.cfg.Market.AuditTrail(req.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}

	type rpcAuditEvent struct {
		Timestamp  int64  `json:"timestamp"`
		Action     string `json:"action"`
		PunkID     string `json:"punkId,omitempty"`
		Seller     string `json:"seller,omitempty"`
		Buyer      string `json:"buyer,omitempty"`
		AmountSats uint64 `json:"amountSats,omitempty"`
		Txid       string `json:"txid,omitempty"`
		Status     string `json:"status"`
		Error      string `json:"error,omitempty"`
		Details    string `json:"details,omitempty"`
	}
	rpcEvents := make([]*rpcAuditEvent, 0, len(events))
	for _, event := range events {
		e := &rpcAuditEvent{
			Timestamp:  event.Timestamp.Unix(),
			Action:     event.Action,
			Seller:     event.Seller,
			Buyer:      event.Buyer,
			AmountSats: event.AmountSats,
			Txid:       event.Txid,
			Status:     event.Status,
			Error:      event.Error,
			Details:    event.Details,
		}
		if event.PunkID != nil {
			e.PunkID = event.PunkID.String()
		}
		rpcEvents = append(rpcEvents, e)
	}

	writeJSON(w, http.StatusOK, struct {
		Events []*rpcAuditEvent `json:"events"`
	}{
		Events: rpcEvents,
	})
}

// checkAdminPassword validates the X-Admin-Password header in constant
// time. Admin endpoints are disabled entirely when no password is
// configured.
func (r *rpcServer) checkAdminPassword(req *http.Request) bool {
	if r.cfg.AdminPassword == "" {
		return false
	}

	supplied := req.Header.Get("X-Admin-Password")
	if supplied == "" {
		return false
	}

	return subtle.ConstantTimeCompare(
		[]byte(supplied), []byte(r.cfg.AdminPassword),
	) == 1
}
