package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/uhyunpark/otcmatch/pkg/api"
)

const defaultNode = "http://localhost:8080"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fatal(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "otc"
	app.Usage = "Command line interface for an otcmatch node"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "node",
			Usage:   "base URL of the node's HTTP API",
			Value:   defaultNode,
			EnvVars: []string{"OTC_NODE"},
		},
	}
	app.Commands = append(
		app.Commands,
		&offerCmd,
		&matchesCmd,
		&keyCmd,
	)
	return app
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "[otc] %v\n", err)
	os.Exit(1)
}

// nodeClient talks to one node's REST API.
type nodeClient struct {
	base string
	http *http.Client
}

func getNodeClient(ctx *cli.Context) *nodeClient {
	return &nodeClient{
		base: strings.TrimRight(ctx.String("node"), "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *nodeClient) do(method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("unable to reach node at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			return fmt.Errorf("node replied %s", resp.Status)
		}
		if e.Message != "" {
			return fmt.Errorf("%s: %s", e.Error, e.Message)
		}
		return errors.New(e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printRespJSON(ctx *cli.Context, resp interface{}) error {
	data, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return fmt.Errorf("unable to encode response: %w", err)
	}
	_, err = fmt.Fprintln(ctx.App.Writer, string(data))
	return err
}
