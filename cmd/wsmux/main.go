// wsmux is a command-line client for services speaking the wsmux wire
// protocol. It issues a single call or a streaming call against an endpoint
// and prints the response(s).
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/relayforge/go-wsmux/pkg/client"
)

var (
	flagURL        string
	flagToken      string
	flagTimeout    time.Duration
	flagRetries    int
	flagRoutingTag string
	flagVerbose    bool
)

func main() {
	root := &cobra.Command{
		Use:           "wsmux",
		Short:         "Issue requests to a wsmux endpoint over one WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagURL, "url", "ws://localhost:8081/ws", "WebSocket endpoint URL")
	root.PersistentFlags().StringVar(&flagToken, "token", "", "connection credential (sent as a connection parameter)")
	root.PersistentFlags().DurationVar(&flagTimeout, "timeout", 10*time.Second, "per-attempt timeout")
	root.PersistentFlags().IntVar(&flagRetries, "retries", 3, "retry budget per call")
	root.PersistentFlags().StringVar(&flagRoutingTag, "routing-tag", "", "optional routing tag selecting a named pipeline")
	root.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "log connection events")

	root.AddCommand(newCallCmd(), newStreamCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call SERVICE [PAYLOAD-JSON]",
		Short: "Issue a single-response call and print the result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := connect()
			if err != nil {
				return err
			}
			defer cli.Close()

			raw, err := cli.Call(cmd.Context(), args[0], payloadArg(args),
				client.WithTimeout(flagTimeout),
				client.WithRetries(flagRetries),
				client.WithRoutingTag(flagRoutingTag),
			)
			if err != nil {
				return err
			}
			printJSON(raw)
			return nil
		},
	}
}

func newStreamCmd() *cobra.Command {
	var doneField string
	cmd := &cobra.Command{
		Use:   "stream SERVICE [PAYLOAD-JSON]",
		Short: "Issue a streaming call, printing each chunk until the done marker",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := connect()
			if err != nil {
				return err
			}
			defer cli.Close()

			stream, err := cli.Stream(args[0], payloadArg(args), func(chunk json.RawMessage) bool {
				printJSON(chunk)
				var marker map[string]json.RawMessage
				if err := json.Unmarshal(chunk, &marker); err != nil {
					return false
				}
				return string(marker[doneField]) == "true"
			},
				client.WithTimeout(flagTimeout),
				client.WithRetries(flagRetries),
				client.WithRoutingTag(flagRoutingTag),
			)
			if err != nil {
				return err
			}
			if _, err := stream.Wait(cmd.Context()); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&doneField, "done-field", "done", "boolean response field marking the terminal chunk")
	return cmd
}

func connect() (*client.Client, error) {
	opts := []client.Option{
		client.WithDefaultTimeout(flagTimeout),
		client.WithDefaultRetries(flagRetries),
	}
	if flagToken != "" {
		opts = append(opts, client.WithCredential(flagToken))
	}
	if flagVerbose {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		opts = append(opts, client.WithLogger(logger))
	} else {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		opts = append(opts, client.WithLogger(logger))
	}
	return client.Connect(flagURL, opts...)
}

func payloadArg(args []string) interface{} {
	if len(args) < 2 {
		return nil
	}
	return json.RawMessage(args[1])
}

func printJSON(raw json.RawMessage) {
	var buf interface{}
	if err := json.Unmarshal(raw, &buf); err != nil {
		fmt.Println(string(raw))
		return
	}
	out, _ := json.MarshalIndent(buf, "", "  ")
	fmt.Println(string(out))
}
