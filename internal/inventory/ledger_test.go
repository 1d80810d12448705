package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-ticketing-checkout/internal/models"
)

var (
	t0      = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	holdTTL = 15 * time.Minute
)

// forEachLedger runs the same behaviour against every ledger backend.
func forEachLedger(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryLedger())
	})
	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		fn(t, NewRedisLedger(client, WithKeyPrefix("test")))
	})
}

func seed(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.AddTicketType(ctx, models.TicketType{ID: "ga", EventID: "evt-1", Name: "General", Capacity: 10, Price: 2500}))
	require.NoError(t, store.AddTicketType(ctx, models.TicketType{ID: "vip", EventID: "evt-1", Name: "VIP", Capacity: 2, Price: 9000, MaxPerPerson: 2}))
	for _, id := range []string{"S1", "S2", "S3"} {
		require.NoError(t, store.AddSeat(ctx, models.Seat{ID: id, EventID: "evt-1", CategoryID: "floor", Price: 5000}))
	}
}

func reserve(ctx context.Context, store Store, sessionID string, units ...models.UnitRequest) (*models.HoldReceipt, error) {
	return store.Reserve(ctx, sessionID, "evt-1", units, t0, t0.Add(holdTTL))
}

func ga(qty int) models.UnitRequest {
	return models.UnitRequest{Unit: models.TicketTypeRef("ga"), Quantity: qty}
}

func seat(id string) models.UnitRequest {
	return models.UnitRequest{Unit: models.SeatRef(id), Quantity: 1}
}

func availability(t *testing.T, store Store, ref models.UnitRef) *models.UnitAvailability {
	t.Helper()
	av, err := store.Availability(context.Background(), ref)
	require.NoError(t, err)
	return av
}

func TestLedger_SoldOutKeepsFirstHold(t *testing.T) {
	forEachLedger(t, func(t *testing.T, store Store) {
		seed(t, store)
		ctx := context.Background()

		_, err := reserve(ctx, store, "session-1", ga(3))
		require.NoError(t, err)

		_, err = reserve(ctx, store, "session-2", ga(8))
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrSoldOut))

		av := availability(t, store, models.TicketTypeRef("ga"))
		assert.Equal(t, 3, av.Held)
		assert.Equal(t, 0, av.Sold)
		assert.Equal(t, 7, av.Available)

		_, err = store.Session(ctx, "session-2")
		assert.True(t, errors.Is(err, models.ErrSessionNotFound))
	})
}

func TestLedger_SeatReleasedOnCancel(t *testing.T) {
	forEachLedger(t, func(t *testing.T, store Store) {
		seed(t, store)
		ctx := context.Background()

		_, err := reserve(ctx, store, "session-a", seat("S1"))
		require.NoError(t, err)

		_, err = reserve(ctx, store, "session-b", seat("S1"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrSeatUnavailable))

		require.NoError(t, store.Release(ctx, "session-a"))
		assert.Equal(t, models.SeatAvailable, availability(t, store, models.SeatRef("S1")).Status)

		_, err = reserve(ctx, store, "session-b", seat("S1"))
		require.NoError(t, err)
		assert.Equal(t, models.SeatHeld, availability(t, store, models.SeatRef("S1")).Status)
	})
}

func TestLedger_OversizedQuantityCannotOversell(t *testing.T) {
	forEachLedger(t, func(t *testing.T, store Store) {
		seed(t, store)
		ctx := context.Background()

		_, err := reserve(ctx, store, "session-1", ga(1))
		require.NoError(t, err)

		_, err = reserve(ctx, store, "session-2", ga(math.MaxInt64))
		assert.ErrorIs(t, err, models.ErrInvalidInput)
		_, err = reserve(ctx, store, "session-3", ga(math.MaxInt64), ga(2))
		assert.ErrorIs(t, err, models.ErrInvalidInput)
		_, err = reserve(ctx, store, "session-4", ga(models.MaxUnitsPerRequest+1))
		assert.ErrorIs(t, err, models.ErrInvalidInput)

		av := availability(t, store, models.TicketTypeRef("ga"))
		assert.Equal(t, 1, av.Held)
		assert.Equal(t, 9, av.Available)

		for i := 0; i < 9; i++ {
			_, err = reserve(ctx, store, fmt.Sprintf("buyer-%d", i), ga(1))
			require.NoError(t, err)
		}
		_, err = reserve(ctx, store, "buyer-late", ga(1))
		assert.ErrorIs(t, err, models.ErrSoldOut)
		assert.Equal(t, 10, availability(t, store, models.TicketTypeRef("ga")).Held)
	})
}

func TestMemoryLedger_PrunesFinishedSessions(t *testing.T) {
	store := NewMemoryLedger(WithMemorySessionRetention(time.Hour))
	seed(t, store)
	ctx := context.Background()

	_, err := reserve(ctx, store, "sold", ga(2))
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, "sold"))
	_, err = reserve(ctx, store, "released", seat("S1"))
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "released"))
	_, err = reserve(ctx, store, "expired", seat("S2"))
	require.NoError(t, err)
	_, err = store.Expire(ctx, "expired", t0.Add(holdTTL))
	require.NoError(t, err)
	_, err = store.Reserve(ctx, "active", "evt-1", []models.UnitRequest{ga(1)}, t0, t0.Add(48*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 4, store.SessionCount())

	_, err = store.ExpiredSessions(ctx, t0.Add(holdTTL+30*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 4, store.SessionCount(), "still inside the retention window")

	due, err := store.ExpiredSessions(ctx, t0.Add(holdTTL+2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	assert.Equal(t, 1, store.SessionCount())

	_, err = store.Session(ctx, "sold")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	session, err := store.Session(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, models.HoldActive, session.State)

	av := availability(t, store, models.TicketTypeRef("ga"))
	assert.Equal(t, 2, av.Sold)
	assert.Equal(t, 1, av.Held)
}

func TestLedger_ReserveIsAllOrNothing(t *testing.T) {
	forEachLedger(t, func(t *testing.T, store Store) {
		seed(t, store)
		ctx := context.Background()

		_, err := reserve(ctx, store, "holder", seat("S2"))
		require.NoError(t, err)

		_, err = reserve(ctx, store, "greedy", ga(4), seat("S1"), seat("S2"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrSeatUnavailable))

		assert.Equal(t, 0, availability(t, store, models.TicketTypeRef("ga")).Held)
		assert.Equal(t, models.SeatAvailable, availability(t, store, models.SeatRef("S1")).Status)
	})
}

func TestLedger_ReserveIsReentrant(t *testing.T) {
	forEachLedger(t, func(t *testing.T, store Store) {
		seed(t, store)
		ctx := context.Background()

		first, err := reserve(ctx, store, "session-1", ga(2), seat("S1"))
		require.NoError(t, err)

		again, err := reserve(ctx, store, "session-1", seat("S1"), ga(1), ga(1))
		require.NoError(t, err)
		assert.Equal(t, first.SessionID, again.SessionID)
		assert.Equal(t, first.ExpiresAt, again.ExpiresAt)
		assert.Equal(t, 2, availability(t, store, models.TicketTypeRef("ga")).Held)

		_, err = reserve(ctx, store, "session-1", ga(3))
		assert.ErrorIs(t, err, models.ErrHoldConflict)
	})
}

func TestLedger_CommitMovesHeldToSold(t *testing.T) {
	forEachLedger(t, func(t *testing.T, store Store) {
		seed(t, store)
		ctx := context.Background()

		_, err := reserve(ctx, store, "session-1", ga(3), seat("S3"))
		require.NoError(t, err)
		require.NoError(t, store.Commit(ctx, "session-1"))
		require.NoError(t, store.Commit(ctx, "session-1"), "commit is idempotent")

		av := availability(t, store, models.TicketTypeRef("ga"))
		assert.Equal(t, 0, av.Held)
		assert.Equal(t, 3, av.Sold)
		assert.Equal(t, models.SeatSold, availability(t, store, models.SeatRef("S3")).Status)

		// release after commit is a no-op
		require.NoError(t, store.Release(ctx, "session-1"))
		assert.Equal(t, 3, availability(t, store, models.TicketTypeRef("ga")).Sold)

		session, err := store.Session(ctx, "session-1")
		require.NoError(t, err)
		assert.Equal(t, models.HoldFinalized, session.State)
	})
}

func TestLedger_ReleaseIsIdempotent(t *testing.T) {
	forEachLedger(t, func(t *testing.T, store Store) {
		seed(t, store)
		ctx := context.Background()

		_, err := reserve(ctx, store, "session-1", ga(4))
		require.NoError(t, err)

		require.NoError(t, store.Release(ctx, "session-1"))
		require.NoError(t, store.Release(ctx, "session-1"))
		require.NoError(t, store.Release(ctx, "never-existed"))

		av := availability(t, store, models.TicketTypeRef("ga"))
		assert.Equal(t, 0, av.Held)
		assert.Equal(t, 10, av.Available)

		err = store.Commit(ctx, "session-1")
		assert.True(t, errors.Is(err, models.ErrSessionExpired))
	})
}

func TestLedger_ExpiryReleasesExactlyOnce(t *testing.T) {
	forEachLedger(t, func(t *testing.T, store Store) {
		seed(t, store)
		ctx := context.Background()

		_, err := reserve(ctx, store, "session-1", ga(5), seat("S1"))
		require.NoError(t, err)

		released, err := store.Expire(ctx, "session-1", t0.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, released, "not due yet")

		due, err := store.ExpiredSessions(ctx, t0.Add(holdTTL), 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"session-1"}, due)

		released, err = store.Expire(ctx, "session-1", t0.Add(holdTTL))
		require.NoError(t, err)
		assert.True(t, released)

		released, err = store.Expire(ctx, "session-1", t0.Add(holdTTL))
		require.NoError(t, err)
		assert.False(t, released)

		assert.Equal(t, 0, availability(t, store, models.TicketTypeRef("ga")).Held)
		assert.Equal(t, models.SeatAvailable, availability(t, store, models.SeatRef("S1")).Status)

		_, err = reserve(ctx, store, "session-2", ga(10), seat("S1"))
		require.NoError(t, err)

		session, err := store.Session(ctx, "session-1")
		require.NoError(t, err)
		assert.Equal(t, models.HoldExpired, session.State)
	})
}

func TestLedger_ExtendMovesExpiry(t *testing.T) {
	forEachLedger(t, func(t *testing.T, store Store) {
		seed(t, store)
		ctx := context.Background()

		_, err := reserve(ctx, store, "session-1", ga(1))
		require.NoError(t, err)
		require.NoError(t, store.Extend(ctx, "session-1", t0.Add(30*time.Minute)))

		due, err := store.ExpiredSessions(ctx, t0.Add(holdTTL), 10)
		require.NoError(t, err)
		assert.Empty(t, due)

		session, err := store.Session(ctx, "session-1")
		require.NoError(t, err)
		assert.True(t, session.ExpiresAt.Equal(t0.Add(30*time.Minute)))

		assert.True(t, errors.Is(store.Extend(ctx, "missing", t0), models.ErrSessionNotFound))
	})
}

func TestLedger_MaxPerPerson(t *testing.T) {
	forEachLedger(t, func(t *testing.T, store Store) {
		seed(t, store)
		_, err := reserve(context.Background(), store, "session-1",
			models.UnitRequest{Unit: models.TicketTypeRef("vip"), Quantity: 3})
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})
}

func TestLedger_UnknownUnit(t *testing.T) {
	forEachLedger(t, func(t *testing.T, store Store) {
		seed(t, store)
		_, err := reserve(context.Background(), store, "session-1", seat("Z99"))
		assert.ErrorIs(t, err, models.ErrUnitNotFound)
	})
}

func TestLedger_NoDoubleSaleUnderContention(t *testing.T) {
	forEachLedger(t, func(t *testing.T, store Store) {
		seed(t, store)
		ctx := context.Background()

		const racers = 20
		var (
			wg          sync.WaitGroup
			mu          sync.Mutex
			successes   int
			unavailable int
		)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := reserve(ctx, store, fmt.Sprintf("racer-%d", i), seat("S1"))
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes++
				} else if errors.Is(err, models.ErrSeatUnavailable) {
					unavailable++
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, racers-1, unavailable)
	})
}

func TestLedger_CapacityInvariantUnderContention(t *testing.T) {
	forEachLedger(t, func(t *testing.T, store Store) {
		seed(t, store)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 15; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("buyer-%d", i)
				if _, err := reserve(ctx, store, id, ga(1+i%3)); err != nil {
					return
				}
				if i%2 == 0 {
					_ = store.Commit(ctx, id)
				} else {
					_ = store.Release(ctx, id)
				}
			}(i)
		}
		wg.Wait()

		av := availability(t, store, models.TicketTypeRef("ga"))
		assert.LessOrEqual(t, av.Sold+av.Held, av.Capacity)
		assert.Equal(t, 0, av.Held)
	})
}

func TestLedger_CommitAndExpiryAreExclusive(t *testing.T) {
	forEachLedger(t, func(t *testing.T, store Store) {
		seed(t, store)
		ctx := context.Background()

		for i := 0; i < 10; i++ {
			id := fmt.Sprintf("session-%d", i)
			_, err := reserve(ctx, store, id, ga(1))
			require.NoError(t, err)

			var (
				wg        sync.WaitGroup
				commitErr error
				expired   bool
			)
			wg.Add(2)
			go func() {
				defer wg.Done()
				commitErr = store.Commit(ctx, id)
			}()
			go func() {
				defer wg.Done()
				expired, _ = store.Expire(ctx, id, t0.Add(holdTTL))
			}()
			wg.Wait()

			assert.True(t, (commitErr == nil) != expired, "exactly one of commit or expiry must win")
		}

		av := availability(t, store, models.TicketTypeRef("ga"))
		assert.Equal(t, 0, av.Held)
		assert.LessOrEqual(t, av.Sold, 10)
	})
}

func TestLedger_AddTicketTypeKeepsCounts(t *testing.T) {
	forEachLedger(t, func(t *testing.T, store Store) {
		seed(t, store)
		ctx := context.Background()

		_, err := reserve(ctx, store, "session-1", ga(4))
		require.NoError(t, err)

		err = store.AddTicketType(ctx, models.TicketType{ID: "ga", EventID: "evt-1", Capacity: 3, Price: 2500})
		assert.ErrorIs(t, err, models.ErrInvalidInput)

		require.NoError(t, store.AddTicketType(ctx, models.TicketType{ID: "ga", EventID: "evt-1", Capacity: 20, Price: 3000}))
		tt, err := store.TicketType(ctx, "ga")
		require.NoError(t, err)
		assert.Equal(t, 20, tt.Capacity)
		assert.Equal(t, 4, tt.HeldCount)
		assert.Equal(t, int64(3000), tt.Price)
	})
}

func TestLedger_CatalogEarlyBird(t *testing.T) {
	forEachLedger(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		early := int64(1500)
		until := t0.Add(24 * time.Hour)
		require.NoError(t, store.AddTicketType(ctx, models.TicketType{
			ID: "early", EventID: "evt-1", Capacity: 5, Price: 2000,
			EarlyBirdPrice: &early, EarlyBirdUntil: &until,
		}))

		tt, err := store.TicketType(ctx, "early")
		require.NoError(t, err)
		assert.Equal(t, int64(1500), tt.PriceAt(t0))
		assert.Equal(t, int64(2000), tt.PriceAt(until.Add(time.Second)))
	})
}
