package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/uhyunpark/otcmatch/pkg/api"
	"github.com/uhyunpark/otcmatch/pkg/offer"
)

// key commands run locally and never contact the node.
var (
	keyCmd = cli.Command{
		Name:        "key",
		Usage:       "encode and decode discovery keys",
		Subcommands: []*cli.Command{keyEncodeCmd, keyDecodeCmd},
	}

	keyEncodeCmd = &cli.Command{
		Name:      "encode",
		Usage:     "print the discovery key of an offer",
		ArgsUsage: "SIDE QUANTITY PRICE",
		Action:    keyEncodeAction,
	}

	keyDecodeCmd = &cli.Command{
		Name:      "decode",
		Usage:     "print the offer a discovery key stands for",
		ArgsUsage: "KEY",
		Action:    keyDecodeAction,
	}
)

func keyEncodeAction(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return fmt.Errorf("expected SIDE QUANTITY PRICE, got %d arguments", ctx.NArg())
	}
	side, err := offer.ParseSide(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	qty, err := decimal.NewFromString(ctx.Args().Get(1))
	if err != nil {
		return fmt.Errorf("invalid quantity: %w", err)
	}
	price, err := decimal.NewFromString(ctx.Args().Get(2))
	if err != nil {
		return fmt.Errorf("invalid price: %w", err)
	}
	_, err = fmt.Fprintln(ctx.App.Writer, offer.Key(offer.New(side, qty, price)))
	return err
}

func keyDecodeAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected KEY, got %d arguments", ctx.NArg())
	}
	key := ctx.Args().First()
	o, err := offer.ParseKey(key)
	if err != nil {
		return err
	}
	return printRespJSON(ctx, api.KeyInfo{
		Key:        key,
		Side:       o.Side.String(),
		Quantity:   o.Quantity.String(),
		Price:      o.Price.String(),
		Complement: offer.Key(o.Flip()),
	})
}
