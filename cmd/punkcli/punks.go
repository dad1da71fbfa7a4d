package main

import (
	"net/http"
	"net/url"

	"github.com/urfave/cli"

	"github.com/arkpunks/punkd/punkgen"
)

var punksCommands = []cli.Command{
	{
		Name:      "punks",
		ShortName: "p",
		Usage:     "Interact with the punk registry.",
		Category:  "Punks",
		Subcommands: []cli.Command{
			listPunksCommand,
			ownerPunksCommand,
			punkHistoryCommand,
			supplyCommand,
			walletStatusCommand,
			registerWalletCommand,
			recoverWalletCommand,
			generatePunksCommand,
		},
	},
}

var (
	addressName  = "address"
	punkIDName   = "punk_id"
	pubkeyName   = "pubkey"
	metadataName = "metadata"
	seedName     = "seed"
	countName    = "count"
)

var listPunksCommand = cli.Command{
	Name:      "list",
	ShortName: "l",
	Usage:     "list all registered punks",
	Action:    listPunks,
}

func listPunks(ctx *cli.Context) error {
	return getJSON(ctx, "/api/punks")
}

var ownerPunksCommand = cli.Command{
	Name:  "owner",
	Usage: "list the punks held by an address",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  addressName,
			Usage: "the Ark address to query",
		},
	},
	Action: ownerPunks,
}

func ownerPunks(ctx *cli.Context) error {
	address := ctx.String(addressName)
	if address == "" {
		_ = cli.ShowCommandHelp(ctx, "owner")
		return nil
	}

	return getJSON(ctx, "/api/punks/owner?address="+
		url.QueryEscape(address))
}

var punkHistoryCommand = cli.Command{
	Name:  "history",
	Usage: "show the ownership trail of a punk",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  punkIDName,
			Usage: "the hex id of the punk",
		},
	},
	Action: punkHistory,
}

func punkHistory(ctx *cli.Context) error {
	id := ctx.String(punkIDName)
	if id == "" {
		_ = cli.ShowCommandHelp(ctx, "history")
		return nil
	}

	return getJSON(ctx, "/api/punks/history?punkId="+url.QueryEscape(id))
}

var supplyCommand = cli.Command{
	Name:   "supply",
	Usage:  "show the minted supply and cap",
	Action: supply,
}

func supply(ctx *cli.Context) error {
	return getJSON(ctx, "/api/supply")
}

var walletStatusCommand = cli.Command{
	Name:  "status",
	Usage: "check whether an address is registered",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  addressName,
			Usage: "the Ark address to query",
		},
	},
	Action: walletStatus,
}

func walletStatus(ctx *cli.Context) error {
	address := ctx.String(addressName)
	if address == "" {
		_ = cli.ShowCommandHelp(ctx, "status")
		return nil
	}

	return getJSON(ctx, "/api/wallet/status?address="+
		url.QueryEscape(address))
}

var registerWalletCommand = cli.Command{
	Name:      "register",
	ShortName: "r",
	Usage:     "declare a wallet's punk holdings",
	Description: "Declares a single punk held by the given address. " +
		"Wallet software registering many punks at once should use " +
		"the HTTP API directly.",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  addressName,
			Usage: "the wallet's primary Ark address",
		},
		cli.StringFlag{
			Name:  punkIDName,
			Usage: "the hex id of the declared punk",
		},
		cli.StringFlag{
			Name:  metadataName,
			Usage: "the hex trait payload, if known",
		},
	},
	Action: registerWallet,
}

func registerWallet(ctx *cli.Context) error {
	address := ctx.String(addressName)
	id := ctx.String(punkIDName)
	if address == "" || id == "" {
		_ = cli.ShowCommandHelp(ctx, "register")
		return nil
	}

	type declaredPunk struct {
		PunkID             string `json:"punkId"`
		CompressedMetadata string `json:"compressedMetadata,omitempty"`
	}
	req := struct {
		Address string         `json:"address"`
		Punks   []declaredPunk `json:"punks"`
	}{
		Address: address,
		Punks: []declaredPunk{{
			PunkID:             id,
			CompressedMetadata: ctx.String(metadataName),
		}},
	}

	var resp map[string]interface{}
	err := callAPI(ctx, http.MethodPost, "/api/wallet/register", &req,
		&resp)
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

var generatePunksCommand = cli.Command{
	Name:      "generate",
	ShortName: "g",
	Usage:     "derive punks from seed strings, offline",
	Description: "Derives the trait set, payload and punk id for a seed " +
		"without talking to the daemon. With --count, derives a batch " +
		"of seeds \"<seed>-0\" through \"<seed>-<count-1>\".",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  seedName,
			Usage: "the generation seed",
		},
		cli.IntFlag{
			Name:  countName,
			Usage: "derive a batch of this many punks",
		},
	},
	Action: generatePunks,
}

func generatePunks(ctx *cli.Context) error {
	seed := ctx.String(seedName)
	if seed == "" {
		_ = cli.ShowCommandHelp(ctx, "generate")
		return nil
	}

	var (
		punks []*punkgen.Punk
		err   error
	)
	if count := ctx.Int(countName); count > 0 {
		punks, err = punkgen.Batch(seed, count)
	} else {
		var single *punkgen.Punk
		single, err = punkgen.Generate(seed)
		punks = []*punkgen.Punk{single}
	}
	if err != nil {
		return err
	}

	type generatedPunk struct {
		Seed       string   `json:"seed"`
		PunkID     string   `json:"punkId"`
		Payload    string   `json:"payload"`
		Type       string   `json:"type"`
		Background string   `json:"background"`
		Attributes []string `json:"attributes"`
	}
	out := make([]*generatedPunk, 0, len(punks))
	for _, p := range punks {
		attrs, err := p.Metadata.AttributeNames()
		if err != nil {
			return err
		}

		out = append(out, &generatedPunk{
			Seed:       p.Seed,
			PunkID:     p.ID.String(),
			Payload:    p.Payload.String(),
			Type:       p.Metadata.Type.String(),
			Background: p.Metadata.Background.String(),
			Attributes: attrs,
		})
	}

	printJSON(struct {
		Punks []*generatedPunk `json:"punks"`
	}{
		Punks: out,
	})

	return nil
}

var recoverWalletCommand = cli.Command{
	Name:  "recover",
	Usage: "find reclaimable punks for a minter pubkey",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  pubkeyName,
			Usage: "the minter's hex public key",
		},
	},
	Action: recoverWallet,
}

func recoverWallet(ctx *cli.Context) error {
	pubkey := ctx.String(pubkeyName)
	if pubkey == "" {
		_ = cli.ShowCommandHelp(ctx, "recover")
		return nil
	}

	req := struct {
		MinterPubkey string `json:"minterPubkey"`
	}{
		MinterPubkey: pubkey,
	}

	var resp map[string]interface{}
	err := callAPI(ctx, http.MethodPost, "/api/wallet/recover", &req,
		&resp)
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}
