package inventory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-ticketing-checkout/internal/models"
)

const sampleCatalog = `{
  "ticket_types": [
    {"id": "ga", "event_id": "evt-1", "name": "General Admission", "capacity": 100, "price": 2500}
  ],
  "seats": [
    {"id": "A1", "event_id": "evt-1", "category_id": "floor", "price": 9000},
    {"id": "A2", "event_id": "evt-1", "category_id": "floor", "price": 9000}
  ]
}`

func TestLoadCatalog(t *testing.T) {
	forEachLedger(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		catalog, err := LoadCatalog(ctx, store, strings.NewReader(sampleCatalog))
		require.NoError(t, err)
		assert.Len(t, catalog.TicketTypes, 1)
		assert.Len(t, catalog.Seats, 2)

		av := availability(t, store, models.TicketTypeRef("ga"))
		assert.Equal(t, 100, av.Available)

		av = availability(t, store, models.SeatRef("A2"))
		assert.Equal(t, 1, av.Available)
	})
}

func TestLoadCatalog_Malformed(t *testing.T) {
	ledger := NewMemoryLedger()

	_, err := LoadCatalog(context.Background(), ledger, strings.NewReader(`{"ticket_types": [`))
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = LoadCatalog(context.Background(), ledger, strings.NewReader(`{"events": []}`))
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o600))

	ledger := NewMemoryLedger()
	_, err := LoadCatalogFile(context.Background(), ledger, path)
	require.NoError(t, err)

	_, err = LoadCatalogFile(context.Background(), ledger, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
