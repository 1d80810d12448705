package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"event-ticketing-checkout/internal/config"
	"event-ticketing-checkout/internal/inventory"
	"event-ticketing-checkout/internal/models"

	"github.com/redis/go-redis/v9"
)

func main() {
	file := flag.String("file", "", "Catalog JSON file (defaults to CATALOG_FILE)")
	flag.Parse()

	fmt.Println("🌱 Seeding inventory catalog")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	path := *file
	if path == "" {
		path = cfg.Inventory.CatalogFile
	}
	if path == "" {
		fmt.Println("Usage:")
		fmt.Println("  go run cmd/seed-catalog/main.go -file catalog.example.json")
		os.Exit(1)
	}

	if cfg.Inventory.Backend != config.InventoryBackendRedis {
		log.Fatalf("INVENTORY_BACKEND is %q; the in-memory ledger is seeded by the server from CATALOG_FILE", cfg.Inventory.Backend)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis at %s: %v", cfg.Redis.Addr, err)
	}

	ledger := inventory.NewRedisLedger(client)
	catalog, err := inventory.LoadCatalogFile(ctx, ledger, path)
	if err != nil {
		log.Fatal("Failed to seed catalog:", err)
	}

	for _, tt := range catalog.TicketTypes {
		av, err := ledger.Availability(ctx, models.TicketTypeRef(tt.ID))
		if err != nil {
			log.Printf("Failed to read availability for %s: %v", tt.ID, err)
			continue
		}
		fmt.Printf("✅ %-20s %-30s capacity=%d held=%d sold=%d\n", av.Unit, tt.Name, av.Capacity, av.Held, av.Sold)
	}
	for _, seat := range catalog.Seats {
		fmt.Printf("✅ %-20s category=%s price=%d\n", models.SeatRef(seat.ID), seat.CategoryID, seat.Price)
	}

	fmt.Printf("\n🎉 Seeded %d ticket types and %d seats\n", len(catalog.TicketTypes), len(catalog.Seats))
}
