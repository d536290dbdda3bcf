package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nupi-ai/plugin-kws-micro-speech/internal/eventlog"
	"github.com/nupi-ai/plugin-kws-micro-speech/internal/server"
)

func newEventsCmd() *cobra.Command {
	var (
		limit int
		path  string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recently recognized commands from the event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				cfg, _, err := loadConfig()
				if err != nil {
					return err
				}
				path = cfg.EventLogPath
			}
			if path == "" {
				return errors.New("no event log configured (set NUPI_KWS_EVENT_LOG or --db)")
			}
			return listEvents(cmd.Context(), cmd.OutOrStdout(), path, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of commands to show")
	cmd.Flags().StringVar(&path, "db", "", "event log database (defaults to the configured event_log)")
	return cmd
}

func listEvents(ctx context.Context, out io.Writer, path string, limit int) error {
	store, err := eventlog.Open(ctx, path, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tLABEL\tCONFIDENCE\tAUDIO_MS\tRUN")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%d\t%s\n",
			e.RecordedAt.Format(time.RFC3339), e.Event.Label, e.Event.Confidence, e.Event.TimestampMs, e.RunID)
	}
	return tw.Flush()
}

func newListenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen <addr>",
		Short: "Print commands streamed by a running recognizer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return listen(ctx, cmd.OutOrStdout(), args[0])
		},
	}
}

func listen(ctx context.Context, out io.Writer, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	stream, err := server.NewClient(conn).Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		fmt.Fprintf(out, "%d\t%s\t%.3f\n", ev.TimestampMs, ev.Label, ev.Confidence)
	}
}
