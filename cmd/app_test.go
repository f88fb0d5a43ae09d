package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"example.com/commerce/config"
	"example.com/commerce/internal/eventbus"
	"example.com/commerce/internal/handlers"
	"example.com/commerce/internal/messaging"
)

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("COMMERCE_BUS_DRIVER", config.BusDriverMemory)

	c, err := config.LoadConfig(t.TempDir(), "")
	require.NoError(t, err)
	c.Database.DSN = ""
	c.Redis.Enabled = false
	return c
}

func TestMemoryAppRunsCommandsEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := newApp(ctx, memoryConfig(t))
	require.NoError(t, err)
	defer a.close(context.Background())

	require.Nil(t, a.db)
	require.Nil(t, a.redis)
	require.IsType(t, &eventbus.MemoryDeduplicator{}, a.deduplicator())

	processor := messaging.NewProcessor(a.handlers)
	cmd, err := eventbus.NewCommand(messaging.CreateInventory, handlers.CreateInventoryCommand{
		InventoryID:  "inv-1",
		ProductID:    "p1",
		SKU:          "S1",
		InitialStock: 5,
	})
	require.NoError(t, err)
	require.NoError(t, processor.ProcessCommand(ctx, cmd))

	inv, ok, err := a.handlers.Inventory.GetInventory(ctx, "inv-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 5, inv.CurrentStock())

	entries, err := a.bus.Stream().Read(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "committed events reach the real-time stream")
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())

	setupLogging(config.LoggingConfig{Level: "warn"})
	require.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	setupLogging(config.LoggingConfig{Level: "bogus"})
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
