package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/universal-console/streamrpc/internal/errors"
	"github.com/universal-console/streamrpc/internal/interfaces"
	"github.com/universal-console/streamrpc/internal/logging"
	"github.com/universal-console/streamrpc/internal/protocol"
)

var (
	sendStream   bool
	sendKind     string
	sendMetadata string
)

var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Send one request and print the reply",
	Long: `Send one request to the selected profile or endpoint and print the reply.

With --stream the text is printed as chunks arrive. Positional text is added to
the metadata under "text".`,
	Example: `  console send --endpoint ws://localhost:8080/ws --stream "tell me a story"
  console send -p local --kind status --metadata '{"verbose":true}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := initializeDependencies()
		if err != nil {
			return err
		}
		profile, ok, err := deps.resolveProfile()
		if err != nil {
			return describeError(err)
		}
		if !ok {
			return fmt.Errorf("send needs --profile or --endpoint")
		}

		metadata, err := buildMetadata(sendMetadata, strings.Join(args, " "))
		if err != nil {
			return err
		}

		client, err := deps.buildClient(profile)
		if err != nil {
			return describeError(err)
		}
		defer client.Dispose()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		req := interfaces.Request{Kind: sendKind, Metadata: metadata, Stream: sendStream}
		if sendStream {
			err = streamRequest(ctx, cmd.OutOrStdout(), client, req)
		} else {
			err = sendRequest(ctx, cmd.OutOrStdout(), client, req)
		}
		if err != nil {
			return describeError(err)
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().BoolVarP(&sendStream, "stream", "s", false, "stream the reply")
	sendCmd.Flags().StringVarP(&sendKind, "kind", "k", "chat", "request kind")
	sendCmd.Flags().StringVarP(&sendMetadata, "metadata", "m", "", "request metadata as a JSON object")
}

// buildMetadata merges the JSON object given with --metadata and the positional text
func buildMetadata(raw string, text string) (map[string]interface{}, error) {
	metadata := make(map[string]interface{})
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return nil, fmt.Errorf("invalid --metadata: %w", err)
		}
	}
	if text != "" {
		metadata["text"] = text
	}
	return metadata, nil
}

func sendRequest(ctx context.Context, out io.Writer, client *protocol.Client, req interfaces.Request) error {
	env, err := client.Send(ctx, req)
	if err != nil {
		return err
	}

	raw := env.Result
	if len(raw) == 0 {
		raw = env.Items
	}
	if len(raw) == 0 {
		return nil
	}
	pretty, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format reply: %w", err)
	}
	fmt.Fprintln(out, string(pretty))
	return nil
}

// streamRequest prints each publication's new suffix as it arrives. The stream
// is cancelled when out stops accepting writes.
func streamRequest(ctx context.Context, out io.Writer, client *protocol.Client, req interfaces.Request) error {
	printed := make(chan int, 1)
	printed <- 0
	writeFailed := make(chan error, 1)

	stream, err := client.Stream(ctx, req, func(update interfaces.StreamUpdate) {
		if update.Err != nil {
			return
		}
		n := <-printed
		if len(update.Text) > n {
			if _, werr := io.WriteString(out, update.Text[n:]); werr != nil {
				select {
				case writeFailed <- werr:
				default:
				}
			} else {
				n = len(update.Text)
			}
		}
		printed <- n
	})
	if err != nil {
		return err
	}
	logging.GetGlobalLogger().Debug("Stream opened", "id", stream.ID(), "kind", stream.Kind())

	select {
	case werr := <-writeFailed:
		stream.Cancel()
		return fmt.Errorf("failed to write reply: %w", werr)
	case <-stream.Done():
	case <-ctx.Done():
	}

	text, err := stream.Wait(ctx)
	if err != nil {
		fmt.Fprintln(out)
		return err
	}
	if n := <-printed; len(text) > n {
		io.WriteString(out, text[n:])
	}
	fmt.Fprintln(out)
	return nil
}

// describeError turns a failure into the user-facing message and hint
func describeError(err error) error {
	processed, perr := errors.NewHandler().Process(err)
	if perr != nil || processed == nil {
		return err
	}
	payload := processed.Payload()
	if payload == nil {
		return err
	}
	if payload.Hint != "" {
		return fmt.Errorf("%s: %s\nHint: %s", payload.ErrorType, payload.Title, payload.Hint)
	}
	return fmt.Errorf("%s: %s", payload.ErrorType, payload.Title)
}
