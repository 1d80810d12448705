package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"event-ticketing-checkout/internal/models"
)

// CatalogFile is the JSON shape accepted by LoadCatalog
type CatalogFile struct {
	TicketTypes []models.TicketType `json:"ticket_types"`
	Seats       []models.Seat       `json:"seats"`
}

// LoadCatalog registers every ticket type and seat in r with the loader.
// Loading the same catalog twice updates prices and capacity but keeps
// held and sold counts.
func LoadCatalog(ctx context.Context, loader Loader, r io.Reader) (*CatalogFile, error) {
	var catalog CatalogFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&catalog); err != nil {
		return nil, fmt.Errorf("%w: malformed catalog: %v", models.ErrInvalidInput, err)
	}

	for _, tt := range catalog.TicketTypes {
		if err := loader.AddTicketType(ctx, tt); err != nil {
			return nil, fmt.Errorf("failed to load ticket type %s: %w", tt.ID, err)
		}
	}
	for _, seat := range catalog.Seats {
		if err := loader.AddSeat(ctx, seat); err != nil {
			return nil, fmt.Errorf("failed to load seat %s: %w", seat.ID, err)
		}
	}
	return &catalog, nil
}

// LoadCatalogFile is LoadCatalog for a file path
func LoadCatalogFile(ctx context.Context, loader Loader, path string) (*CatalogFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(ctx, loader, f)
}
