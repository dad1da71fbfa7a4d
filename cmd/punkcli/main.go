package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli"
)

const (
	// exitCodeSuccess indicates the command completed.
	exitCodeSuccess = 0

	// exitCodeValidation indicates a malformed request or flag.
	exitCodeValidation = 1

	// exitCodeNotFound indicates the punk or listing does not exist.
	exitCodeNotFound = 2

	// exitCodeConflict indicates the operation collided with existing
	// state.
	exitCodeConflict = 3

	// exitCodeForbidden indicates the caller is not authorized.
	exitCodeForbidden = 4

	// exitCodeUpstream indicates a wallet or RPC failure.
	exitCodeUpstream = 5
)

const (
	defaultRPCServer = "http://localhost:3000"

	requestTimeout = 60 * time.Second

	maxResponseBytes = 1 << 20
)

var (
	rpcServerName = "rpcserver"
	adminPassName = "adminpassword"
)

// apiError carries the daemon's error text together with the HTTP status it
// arrived with.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return e.message
}

// exitCode maps an error to the CLI exit code contract.
func exitCode(err error) int {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return exitCodeUpstream
	}

	switch apiErr.status {
	case http.StatusBadRequest:
		return exitCodeValidation

	case http.StatusNotFound:
		return exitCodeNotFound

	case http.StatusConflict, http.StatusPreconditionFailed:
		return exitCodeConflict

	case http.StatusForbidden, http.StatusUnauthorized:
		return exitCodeForbidden

	default:
		return exitCodeUpstream
	}
}

// getContext returns a context that is cancelled on interrupt.
func getContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		cancel()
	}()

	return ctx
}

// callAPI performs one JSON request against the daemon and decodes the
// response into out.
func callAPI(ctx *cli.Context, method, path string, reqBody,
	out interface{}) error {

	base := ctx.GlobalString(rpcServerName)

	var bodyReader io.Reader
	if reqBody != nil {
		payload, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(
		getContext(), method, base+path, bodyReader,
	)
	if err != nil {
		return err
	}
	if reqBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if pass := ctx.GlobalString(adminPassName); pass != "" {
		httpReq.Header.Set("X-Admin-Password", pass)
	}

	client := &http.Client{
		Timeout: requestTimeout,
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("unable to reach %v: %w", base, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		message := string(body)
		if json.Unmarshal(body, &errResp) == nil &&
			errResp.Error != "" {

			message = errResp.Error
		}

		return &apiError{
			status:  resp.StatusCode,
			message: message,
		}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("unable to decode response: %w", err)
		}
	}

	return nil
}

// printJSON renders the decoded response indented on stdout.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// getJSON is a GET helper that prints the raw JSON response.
func getJSON(ctx *cli.Context, path string) error {
	var out json.RawMessage
	if err := callAPI(ctx, http.MethodGet, path, nil, &out); err != nil {
		return err
	}

	var pretty interface{}
	if err := json.Unmarshal(out, &pretty); err != nil {
		return err
	}
	printJSON(pretty)

	return nil
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "[punkcli] %v\n", err)
	os.Exit(exitCode(err))
}

func main() {
	app := cli.NewApp()
	app.Name = "punkcli"
	app.Version = "0.1.0"
	app.Usage = "control plane for the punk daemon (punkd)"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  rpcServerName,
			Value: defaultRPCServer,
			Usage: "the base URL of the punkd HTTP API",
		},
		cli.StringFlag{
			Name:  adminPassName,
			Usage: "password for the admin endpoints",
		},
	}

	app.Commands = append(app.Commands, punksCommands...)
	app.Commands = append(app.Commands, escrowCommands...)

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
