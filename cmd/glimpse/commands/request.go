package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/glimpse/internal/apiclient"
)

func requestCommand() *cli.Command {
	return &cli.Command{
		Name:      "request",
		Usage:     "send one authenticated API request and print the response body",
		ArgsUsage: "METHOD PATH",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "JSON request body",
			},
			&cli.StringSliceFlag{
				Name:    "form",
				Aliases: []string{"F"},
				Usage:   "multipart field as key=value (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:  "file",
				Usage: "multipart file as field=path (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "query parameter as key=value (repeatable)",
			},
		},
		Action: requestAction,
	}
}

func requestAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("expected METHOD PATH, got %d arguments", cmd.Args().Len())
	}

	req, err := buildRequest(
		cmd.Args().Get(0), cmd.Args().Get(1),
		cmd.String("data"), cmd.StringSlice("form"), cmd.StringSlice("file"), cmd.StringSlice("query"),
	)
	if err != nil {
		return err
	}

	application, cleanup, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := application.Client().Do(ctx, req)
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) {
			_, _ = cmd.Root().Writer.Write(apiErr.Body)
			return fmt.Errorf("request failed with status %d", apiErr.StatusCode)
		}
		return err
	}

	_, _ = cmd.Root().Writer.Write(resp.Body)
	if len(resp.Body) > 0 && !strings.HasSuffix(string(resp.Body), "\n") {
		_, _ = fmt.Fprintln(cmd.Root().Writer)
	}
	return nil
}

// buildRequest turns command arguments into an API request. Form fields and
// files produce a multipart body and cannot be combined with data.
func buildRequest(method, path, data string, form, files, query []string) (apiclient.Request, error) {
	req := apiclient.Request{
		Method: strings.ToUpper(method),
		Path:   path,
	}

	if len(query) > 0 {
		req.Query = url.Values{}
		for _, kv := range query {
			key, value, err := splitPair(kv)
			if err != nil {
				return req, fmt.Errorf("invalid --query: %w", err)
			}
			req.Query.Add(key, value)
		}
	}

	multipart := len(form) > 0 || len(files) > 0
	switch {
	case multipart && data != "":
		return req, errors.New("--data cannot be combined with --form or --file")
	case multipart:
		body := apiclient.NewMultipart()
		for _, kv := range form {
			key, value, err := splitPair(kv)
			if err != nil {
				return req, fmt.Errorf("invalid --form: %w", err)
			}
			body.Field(key, value)
		}
		for _, kv := range files {
			field, path, err := splitPair(kv)
			if err != nil {
				return req, fmt.Errorf("invalid --file: %w", err)
			}
			if _, err := body.FileFromPath(field, path); err != nil {
				return req, err
			}
		}
		req.Body = body
	case data != "":
		if !json.Valid([]byte(data)) {
			return req, errors.New("--data is not valid JSON")
		}
		req.Body = json.RawMessage(data)
	}

	return req, nil
}

func splitPair(kv string) (string, string, error) {
	key, value, ok := strings.Cut(kv, "=")
	if !ok || key == "" {
		return "", "", fmt.Errorf("%q is not key=value", kv)
	}
	return key, value, nil
}
