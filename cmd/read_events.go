package cmd

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"example.com/commerce/internal/eventstore"
)

var (
	readAggregateID string
	readEventType   string
	readFrom        int64
	readLimit       int
)

var readEventsCmd = &cobra.Command{
	Use:   "read-events",
	Short: "Print stored events as JSON lines",
	Long: `Print the global event feed, one event type, or a single aggregate stream.

With --aggregate, --from is the version after which events are printed;
otherwise it is the store position.`,
	RunE: runReadEvents,
}

func init() {
	readEventsCmd.Flags().StringVarP(&readAggregateID, "aggregate", "a", "", "aggregate id whose stream to print")
	readEventsCmd.Flags().StringVarP(&readEventType, "type", "t", "", "only print events of this type")
	readEventsCmd.Flags().Int64VarP(&readFrom, "from", "f", 0, "position or version to start after")
	readEventsCmd.Flags().IntVarP(&readLimit, "limit", "l", 100, "maximum number of events to print, 0 for all")
}

type eventLine struct {
	Position  int64           `json:"position"`
	Version   int             `json:"version"`
	Published bool            `json:"published"`
	Event     json.RawMessage `json:"event"`
}

func runReadEvents(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	a := &app{cfg: cfg}
	if err := a.openStore(); err != nil {
		return err
	}
	defer a.close(context.Background())

	var (
		stored []eventstore.StoredEvent
		err    error
	)
	switch {
	case readAggregateID != "":
		stored, err = a.store.GetEvents(ctx, readAggregateID, int(readFrom))
		if err == nil && readLimit > 0 && len(stored) > readLimit {
			stored = stored[:readLimit]
		}
	case readEventType != "":
		stored, err = a.store.GetEventsByType(ctx, readEventType, readFrom, readLimit)
	default:
		stored, err = a.store.GetAllEvents(ctx, readFrom, readLimit)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, se := range stored {
		raw, err := json.Marshal(se.Event)
		if err != nil {
			return err
		}
		if err := enc.Encode(eventLine{
			Position:  se.ID,
			Version:   se.Version,
			Published: se.Published,
			Event:     raw,
		}); err != nil {
			return err
		}
	}

	cmd.PrintErrf("%d events, next position %d\n", len(stored), eventstore.LastPosition(stored, readFrom))
	return nil
}
