package main

import (
	"fmt"
	"net/http"

	"github.com/urfave/cli/v2"

	"github.com/uhyunpark/otcmatch/pkg/storage"
)

var matchesCmd = cli.Command{
	Name:  "matches",
	Usage: "list the node's most recent matches, newest first",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "limit",
			Usage: "max number of matches to return",
			Value: 20,
		},
	},
	Action: matchesAction,
}

func matchesAction(ctx *cli.Context) error {
	limit := ctx.Int("limit")
	if limit <= 0 {
		return fmt.Errorf("limit must be positive")
	}
	var reply []storage.MatchRecord
	path := fmt.Sprintf("/api/v1/matches?limit=%d", limit)
	if err := getNodeClient(ctx).do(http.MethodGet, path, nil, &reply); err != nil {
		return err
	}
	return printRespJSON(ctx, reply)
}
