package syncqueue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"wecare-supplier-api-server/config"
	"wecare-supplier-api-server/internal/crm"
	"wecare-supplier-api-server/internal/database"
	"wecare-supplier-api-server/internal/logger"
	"wecare-supplier-api-server/internal/models"
)

func setupMongo(t *testing.T) config.MongoConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB integration test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("MongoDB container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	return config.MongoConfig{
		URI:    fmt.Sprintf("mongodb://%s:%s", host, port.Port()),
		DBName: "supplier_portal_test",
	}
}

func TestMongoJournal(t *testing.T) {
	cfg := setupMongo(t)
	ctx := context.Background()

	client, db, err := database.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(context.Background()) })
	require.NoError(t, database.EnsureIndexes(ctx, db, logger.Discard()))

	journal := NewMongoJournal(db)
	base := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	later := Job{
		ID:            "j-later",
		SupplierCode:  "NCC01",
		OrderID:       "o-2",
		State:         StateQueued,
		Update:        confirmUpdate("o-2"),
		NextAttemptAt: base.Add(time.Minute),
	}
	sooner := Job{
		ID:            "j-sooner",
		SupplierCode:  "NCC01",
		OrderID:       "o-1",
		State:         StateQueued,
		Update:        crmRejectUpdate("o-1"),
		NextAttemptAt: base,
	}
	abandoned := Job{ID: "j-abandoned", SupplierCode: "NCC01", OrderID: "o-3", State: StateAbandoned, NextAttemptAt: base}

	for _, j := range []Job{later, sooner, abandoned} {
		require.NoError(t, journal.Save(ctx, j))
	}

	pending, err := journal.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "j-sooner", pending[0].ID)
	assert.Equal(t, "j-later", pending[1].ID)
	assert.Equal(t, models.StatusRejected, pending[0].Update.Status)
	require.NotNil(t, pending[0].Update.DeliveryDate)
	assert.Equal(t, "2025-05-03", pending[0].Update.DeliveryDate.String())
	require.NotNil(t, pending[1].Update.ConfirmedQuantity)
	assert.Equal(t, 10, *pending[1].Update.ConfirmedQuantity)

	require.NoError(t, journal.Save(ctx, Job{ID: "j-other", SupplierCode: "NCC02", OrderID: "o-9", State: StateQueued, CreatedAt: base}))
	outstanding, err := journal.Outstanding(ctx, "NCC01")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"j-later", "j-sooner", "j-abandoned"}, jobIDs(outstanding))
	require.NoError(t, journal.Delete(ctx, "j-other"))

	// Save lần nữa là upsert.
	later.Attempts = 2
	later.State = StateAbandoned
	require.NoError(t, journal.Save(ctx, later))
	require.NoError(t, journal.Delete(ctx, "j-sooner"))

	pending, err = journal.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func crmRejectUpdate(id string) crm.StatusUpdate {
	zero := 0
	return crm.StatusUpdate{
		OrderID:           id,
		Status:            models.StatusRejected,
		ConfirmedQuantity: &zero,
		OriginalQuantity:  &zero,
		Notes:             "hết hàng",
		DeliveryDate:      &models.Date{Year: 2025, Month: time.May, Day: 3},
	}
}

func jobIDs(jobs []Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}
