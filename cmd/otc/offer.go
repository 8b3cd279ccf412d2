package main

import (
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/uhyunpark/otcmatch/pkg/api"
)

var (
	offerCmd = cli.Command{
		Name:        "offer",
		Usage:       "create and list offers on the node",
		Subcommands: []*cli.Command{offerCreateCmd, offerListCmd},
	}

	offerCreateCmd = &cli.Command{
		Name:  "create",
		Usage: "create an offer; the node announces it and looks for a counterparty",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "side",
				Usage:    "BUY or SELL",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "quantity",
				Usage:    "quantity in the base asset",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "price",
				Usage:    "price in the quote asset",
				Required: true,
			},
		},
		Action: offerCreateAction,
	}

	offerListCmd = &cli.Command{
		Name:   "list",
		Usage:  "list the node's open offers",
		Action: offerListAction,
	}
)

func offerCreateAction(ctx *cli.Context) error {
	qty, err := decimal.NewFromString(ctx.String("quantity"))
	if err != nil {
		return fmt.Errorf("invalid quantity: %w", err)
	}
	price, err := decimal.NewFromString(ctx.String("price"))
	if err != nil {
		return fmt.Errorf("invalid price: %w", err)
	}

	var reply api.CreateOfferResponse
	err = getNodeClient(ctx).do(http.MethodPost, "/api/v1/offers", api.CreateOfferRequest{
		Side:     ctx.String("side"),
		Quantity: qty,
		Price:    price,
	}, &reply)
	if err != nil {
		return err
	}
	return printRespJSON(ctx, reply)
}

func offerListAction(ctx *cli.Context) error {
	var reply []api.OfferInfo
	if err := getNodeClient(ctx).do(http.MethodGet, "/api/v1/offers", nil, &reply); err != nil {
		return err
	}
	return printRespJSON(ctx, reply)
}
