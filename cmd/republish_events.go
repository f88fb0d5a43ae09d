package cmd

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/commerce/internal/eventstore"
	"example.com/commerce/internal/relay"
)

var (
	republishFrom    int64
	republishType    string
	republishLimit   int
	republishPending bool
)

var republishEventsCmd = &cobra.Command{
	Use:   "republish-events",
	Short: "Republish stored events to the bus",
	Long: `Replay stored events from a store position onto the bus in store order.

Consumers are idempotent, so republishing already delivered events is safe.
With --pending only events never marked published are sent.`,
	RunE: runRepublishEvents,
}

func init() {
	republishEventsCmd.Flags().Int64VarP(&republishFrom, "from", "f", 0, "store position to start after")
	republishEventsCmd.Flags().StringVarP(&republishType, "type", "t", "", "only republish events of this type")
	republishEventsCmd.Flags().IntVarP(&republishLimit, "limit", "l", 0, "maximum number of events to republish, 0 for all")
	republishEventsCmd.Flags().BoolVar(&republishPending, "pending", false, "only republish events never marked published")
}

func runRepublishEvents(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if republishPending {
		count, err := relay.New(a.store, a.bus, cfg.Worker.RelayBatchSize, 0, a.metrics).Drain(ctx)
		log.Info().Int("count", count).Msg("Republished pending events")
		return err
	}

	const page = 500
	position := republishFrom
	count := 0
	for republishLimit == 0 || count < republishLimit {
		size := page
		if republishLimit > 0 {
			size = min(page, republishLimit-count)
		}

		var stored []eventstore.StoredEvent
		if republishType != "" {
			stored, err = a.store.GetEventsByType(ctx, republishType, position, size)
		} else {
			stored, err = a.store.GetAllEvents(ctx, position, size)
		}
		if err != nil {
			return errors.Wrap(err, "failed to load events")
		}
		if len(stored) == 0 {
			break
		}

		for _, se := range stored {
			if err := a.bus.Publish(ctx, se.Event); err != nil {
				return errors.Wrapf(err, "failed to republish event at position %d, resume with --from %d", se.ID, position)
			}
			position = se.ID
			count++
		}
	}

	log.Info().Int("count", count).Int64("lastPosition", position).Msg("Republished events")
	return nil
}
