// Command mockserver serves the duplex protocol locally for development.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/universal-console/streamrpc/internal/logging"
	"github.com/universal-console/streamrpc/internal/mockserver"
)

var (
	addr        string
	chunkDelay  time.Duration
	probeStatus int
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "mockserver",
	Short: "Serve the duplex protocol for local development",
	Long: `mockserver answers HEAD probes and accepts websocket connections on every path.

Request kinds "fail", "duplicate", "drop" and "silent" trigger error replies,
duplicated replies, dropped sockets and unanswered requests. Other kinds are echoed,
word by word when streaming.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logConfig := logging.DefaultConfig()
		logConfig.Component = "mockserver"
		if verbose {
			logConfig.Level = logging.DebugLevel
		}
		if err := logging.InitGlobalLogger(logConfig); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		logger := logging.GetGlobalLogger()

		server := mockserver.New(mockserver.WithChunkDelay(chunkDelay))
		server.SetProbeStatus(probeStatus)

		httpServer := &http.Server{
			Addr:              addr,
			Handler:           server,
			ReadHeaderTimeout: 5 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Info("Mock server listening", "addr", addr, "endpoint", "ws://"+addr+"/ws")
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("Shutting down")
		server.DropConnections()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", "localhost:8080", "listen address")
	rootCmd.Flags().DurationVar(&chunkDelay, "chunk-delay", 50*time.Millisecond, "delay between streamed chunks")
	rootCmd.Flags().IntVar(&probeStatus, "probe-status", http.StatusOK, "status returned to HEAD probes")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every envelope")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
