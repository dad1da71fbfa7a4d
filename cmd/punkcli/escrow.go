package main

import (
	"fmt"
	"net/http"

	"github.com/urfave/cli"
)

var escrowCommands = []cli.Command{
	{
		Name:      "escrow",
		ShortName: "e",
		Usage:     "Interact with the escrow marketplace.",
		Category:  "Escrow",
		Subcommands: []cli.Command{
			escrowInfoCommand,
			listingsCommand,
			createListingCommand,
			updateOutpointCommand,
			buyCommand,
			executeCommand,
			cancelCommand,
			claimReservesCommand,
			salesCommand,
			auditCommand,
		},
	},
}

var (
	priceName    = "price"
	outpointName = "outpoint"
	sellerName   = "seller_address"
	buyerName    = "buyer_address"
	limitName    = "limit"
	balanceName  = "wallet_balance"
)

var escrowInfoCommand = cli.Command{
	Name:   "info",
	Usage:  "show the escrow address and server pubkey",
	Action: escrowInfo,
}

func escrowInfo(ctx *cli.Context) error {
	return getJSON(ctx, "/api/escrow/info")
}

var listingsCommand = cli.Command{
	Name:      "listings",
	ShortName: "ls",
	Usage:     "list all active listings",
	Action:    listings,
}

func listings(ctx *cli.Context) error {
	return getJSON(ctx, "/api/escrow/listings")
}

var createListingCommand = cli.Command{
	Name:      "list",
	ShortName: "l",
	Usage:     "open a new pending listing",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  punkIDName,
			Usage: "the hex id of the punk to list",
		},
		cli.StringFlag{
			Name:  pubkeyName,
			Usage: "the seller's hex public key",
		},
		cli.StringFlag{
			Name:  sellerName,
			Usage: "the seller's Ark address",
		},
		cli.Uint64Flag{
			Name:  priceName,
			Usage: "the asking price in satoshis",
		},
		cli.StringFlag{
			Name:  metadataName,
			Usage: "the hex trait payload, if known",
		},
	},
	Action: createListing,
}

func createListing(ctx *cli.Context) error {
	switch {
	case ctx.String(punkIDName) == "":
		fallthrough
	case ctx.String(sellerName) == "":
		fallthrough
	case ctx.Uint64(priceName) == 0:
		_ = cli.ShowCommandHelp(ctx, "list")
		return nil
	}

	req := struct {
		PunkID             string `json:"punkId"`
		SellerPubkey       string `json:"sellerPubkey"`
		SellerArkAddress   string `json:"sellerArkAddress"`
		Price              uint64 `json:"price"`
		CompressedMetadata string `json:"compressedMetadata,omitempty"`
	}{
		PunkID:             ctx.String(punkIDName),
		SellerPubkey:       ctx.String(pubkeyName),
		SellerArkAddress:   ctx.String(sellerName),
		Price:              ctx.Uint64(priceName),
		CompressedMetadata: ctx.String(metadataName),
	}

	var resp map[string]interface{}
	err := callAPI(ctx, http.MethodPost, "/api/escrow/list", &req, &resp)
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

var updateOutpointCommand = cli.Command{
	Name:  "deposit",
	Usage: "confirm the punk VTXO deposit of a listing",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  punkIDName,
			Usage: "the hex id of the listed punk",
		},
		cli.StringFlag{
			Name:  outpointName,
			Usage: "the txid:vout of the deposited VTXO",
		},
	},
	Action: updateOutpoint,
}

func updateOutpoint(ctx *cli.Context) error {
	if ctx.String(punkIDName) == "" || ctx.String(outpointName) == "" {
		_ = cli.ShowCommandHelp(ctx, "deposit")
		return nil
	}

	req := struct {
		PunkID           string `json:"punkId"`
		PunkVtxoOutpoint string `json:"punkVtxoOutpoint"`
	}{
		PunkID:           ctx.String(punkIDName),
		PunkVtxoOutpoint: ctx.String(outpointName),
	}

	var resp map[string]interface{}
	err := callAPI(
		ctx, http.MethodPost, "/api/escrow/update-outpoint", &req,
		&resp,
	)
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

var buyCommand = cli.Command{
	Name:  "buy",
	Usage: "quote the payment instructions for a listing",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  punkIDName,
			Usage: "the hex id of the listed punk",
		},
		cli.StringFlag{
			Name:  pubkeyName,
			Usage: "the buyer's hex public key",
		},
		cli.StringFlag{
			Name:  buyerName,
			Usage: "the buyer's Ark address",
		},
	},
	Action: buy,
}

func buy(ctx *cli.Context) error {
	if ctx.String(punkIDName) == "" {
		_ = cli.ShowCommandHelp(ctx, "buy")
		return nil
	}

	req := buyExecuteRequest(ctx)

	var resp map[string]interface{}
	err := callAPI(ctx, http.MethodPost, "/api/escrow/buy", &req, &resp)
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

var executeCommand = cli.Command{
	Name:  "execute",
	Usage: "run the atomic swap for a paid listing",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  punkIDName,
			Usage: "the hex id of the listed punk",
		},
		cli.StringFlag{
			Name:  pubkeyName,
			Usage: "the buyer's hex public key",
		},
		cli.StringFlag{
			Name:  buyerName,
			Usage: "the buyer's Ark address",
		},
	},
	Action: execute,
}

func execute(ctx *cli.Context) error {
	if ctx.String(punkIDName) == "" || ctx.String(buyerName) == "" {
		_ = cli.ShowCommandHelp(ctx, "execute")
		return nil
	}

	req := buyExecuteRequest(ctx)

	var resp map[string]interface{}
	err := callAPI(
		ctx, http.MethodPost, "/api/escrow/execute", &req, &resp,
	)
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

// buyExecuteRequest assembles the body shared by the buy and execute
// endpoints.
func buyExecuteRequest(ctx *cli.Context) interface{} {
	return struct {
		PunkID          string `json:"punkId"`
		BuyerPubkey     string `json:"buyerPubkey,omitempty"`
		BuyerArkAddress string `json:"buyerArkAddress,omitempty"`
	}{
		PunkID:          ctx.String(punkIDName),
		BuyerPubkey:     ctx.String(pubkeyName),
		BuyerArkAddress: ctx.String(buyerName),
	}
}

var cancelCommand = cli.Command{
	Name:  "cancel",
	Usage: "cancel a listing as its seller",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  punkIDName,
			Usage: "the hex id of the listed punk",
		},
		cli.StringFlag{
			Name:  sellerName,
			Usage: "the seller's Ark address",
		},
	},
	Action: cancel,
}

func cancel(ctx *cli.Context) error {
	if ctx.String(punkIDName) == "" || ctx.String(sellerName) == "" {
		_ = cli.ShowCommandHelp(ctx, "cancel")
		return nil
	}

	req := struct {
		PunkID        string `json:"punkId"`
		SellerAddress string `json:"sellerAddress"`
	}{
		PunkID:        ctx.String(punkIDName),
		SellerAddress: ctx.String(sellerName),
	}

	var resp map[string]interface{}
	err := callAPI(
		ctx, http.MethodPost, "/api/escrow/cancel", &req, &resp,
	)
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

var claimReservesCommand = cli.Command{
	Name:  "claim",
	Usage: "claim reserve shortfalls owed to a seller",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  addressName,
			Usage: "the seller's Ark address",
		},
		cli.Int64Flag{
			Name:  balanceName,
			Usage: "the seller wallet's current balance in sats",
		},
	},
	Action: claimReserves,
}

func claimReserves(ctx *cli.Context) error {
	if ctx.String(addressName) == "" {
		_ = cli.ShowCommandHelp(ctx, "claim")
		return nil
	}

	req := struct {
		Address       string `json:"address"`
		WalletBalance int64  `json:"walletBalance"`
	}{
		Address:       ctx.String(addressName),
		WalletBalance: ctx.Int64(balanceName),
	}

	var resp map[string]interface{}
	err := callAPI(
		ctx, http.MethodPost, "/api/escrow/claim-reserves", &req, &resp,
	)
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

var salesCommand = cli.Command{
	Name:   "sales",
	Usage:  "show completed sales and stats",
	Action: sales,
}

func sales(ctx *cli.Context) error {
	return getJSON(ctx, "/api/marketplace/sales")
}

var auditCommand = cli.Command{
	Name:  "audit",
	Usage: "dump the audit log (requires the admin password)",
	Flags: []cli.Flag{
		cli.Int64Flag{
			Name:  limitName,
			Usage: "maximum number of rows to return",
		},
	},
	Action: audit,
}

func audit(ctx *cli.Context) error {
	path := "/api/admin/audit"
	if limit := ctx.Int64(limitName); limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}

	return getJSON(ctx, path)
}
