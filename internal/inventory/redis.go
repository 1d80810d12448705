package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"event-ticketing-checkout/internal/models"
)

// Finished sessions are kept this long for auditing before Redis drops them.
const defaultSessionRetention = 24 * time.Hour

// reserveScript checks every unit first and only then applies the holds, so
// a failure leaves no partial reservation behind.
var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return {'exists'}
end
local n = #KEYS - 3
for i = 1, n do
  local key = KEYS[i + 3]
  local ref = ARGV[3 + i * 2]
  local qty = tonumber(ARGV[4 + i * 2])
  if redis.call('EXISTS', key) == 0 then
    return {'err', 'not_found', ref}
  end
  local ev = redis.call('HGET', key, 'event_id')
  if ARGV[2] ~= '' and ev and ev ~= '' and ev ~= ARGV[2] then
    return {'err', 'wrong_event', ref}
  end
  if redis.call('HGET', key, 'kind') == 'seat' then
    if redis.call('HGET', key, 'status') ~= 'available' then
      return {'err', 'seat_unavailable', ref}
    end
  else
    local cap = tonumber(redis.call('HGET', key, 'capacity') or '0')
    local sold = tonumber(redis.call('HGET', key, 'sold') or '0')
    local held = tonumber(redis.call('HGET', key, 'held') or '0')
    local maxpp = tonumber(redis.call('HGET', key, 'max_per_person') or '0')
    if maxpp > 0 and qty > maxpp then
      return {'err', 'max_per_person', ref}
    end
    if qty > cap - sold - held then
      return {'err', 'sold_out', ref}
    end
  end
end
for i = 1, n do
  local key = KEYS[i + 3]
  local ref = ARGV[3 + i * 2]
  local qty = tonumber(ARGV[4 + i * 2])
  if redis.call('HGET', key, 'kind') == 'seat' then
    redis.call('HSET', key, 'status', 'held', 'session', ARGV[1])
  else
    redis.call('HINCRBY', key, 'held', qty)
  end
  redis.call('HSET', KEYS[2], ref, qty)
end
redis.call('HSET', KEYS[1], 'state', 'active', 'event_id', ARGV[2], 'created_at', ARGV[3], 'expires_at', ARGV[4])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
return {'ok'}
`)

var commitScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
  return 'not_found'
end
if state == 'finalized' then
  return 'ok'
end
if state ~= 'active' then
  return state
end
local units = redis.call('HGETALL', KEYS[2])
for i = 1, #units, 2 do
  local key = ARGV[1] .. units[i]
  local qty = tonumber(units[i + 1])
  if redis.call('HGET', key, 'kind') == 'seat' then
    redis.call('HSET', key, 'status', 'sold')
  else
    redis.call('HINCRBY', key, 'held', -qty)
    redis.call('HINCRBY', key, 'sold', qty)
  end
end
redis.call('HSET', KEYS[1], 'state', 'finalized')
redis.call('ZREM', KEYS[3], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('PEXPIRE', KEYS[2], ARGV[3])
return 'ok'
`)

// releaseScript returns 1 when it released the session. When ARGV[4] is set
// the session is only released if it has expired by that instant.
var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= 'active' then
  return 0
end
if ARGV[4] ~= '' then
  local exp = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
  if exp > tonumber(ARGV[4]) then
    return 0
  end
end
local units = redis.call('HGETALL', KEYS[2])
for i = 1, #units, 2 do
  local key = ARGV[1] .. units[i]
  local qty = tonumber(units[i + 1])
  if redis.call('HGET', key, 'kind') == 'seat' then
    if redis.call('HGET', key, 'session') == ARGV[2] and redis.call('HGET', key, 'status') == 'held' then
      redis.call('HSET', key, 'status', 'available')
      redis.call('HDEL', key, 'session')
    end
  else
    redis.call('HINCRBY', key, 'held', -qty)
  end
end
redis.call('HSET', KEYS[1], 'state', ARGV[3])
redis.call('ZREM', KEYS[3], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
redis.call('PEXPIRE', KEYS[2], ARGV[5])
return 1
`)

var extendScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
  return 'not_found'
end
if state ~= 'active' then
  return state
end
redis.call('HSET', KEYS[1], 'expires_at', ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
return 'ok'
`)

var upsertTicketTypeScript = redis.NewScript(`
local sold = tonumber(redis.call('HGET', KEYS[1], 'sold') or '0')
local held = tonumber(redis.call('HGET', KEYS[1], 'held') or '0')
if tonumber(ARGV[1]) < sold + held then
  return 0
end
redis.call('HSET', KEYS[1], 'kind', 'ticket_type', 'capacity', ARGV[1], 'sold', sold, 'held', held)
for i = 2, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

// RedisLedger keeps the ledger in Redis so several service instances share
// one view of inventory. Each operation is a single Lua script, which Redis
// runs atomically.
type RedisLedger struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

type RedisOption func(*RedisLedger)

// WithKeyPrefix namespaces every key written by the ledger
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLedger) { l.prefix = prefix }
}

// WithSessionRetention sets how long finished sessions stay readable
func WithSessionRetention(d time.Duration) RedisOption {
	return func(l *RedisLedger) { l.retention = d }
}

func NewRedisLedger(client redis.UniversalClient, opts ...RedisOption) *RedisLedger {
	l := &RedisLedger{client: client, prefix: "ledger", retention: defaultSessionRetention}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLedger) unitPrefix() string { return l.prefix + ":unit:" }

func (l *RedisLedger) unitKey(ref models.UnitRef) string { return l.unitPrefix() + ref.String() }

func (l *RedisLedger) sessionKey(id string) string { return l.prefix + ":session:" + id }

func (l *RedisLedger) sessionUnitsKey(id string) string { return l.prefix + ":session:" + id + ":units" }

func (l *RedisLedger) expiryKey() string { return l.prefix + ":expiry" }

// AddTicketType registers a ticket type, keeping existing held and sold counts
func (l *RedisLedger) AddTicketType(ctx context.Context, tt models.TicketType) error {
	if err := tt.Validate(); err != nil {
		return err
	}
	args := []interface{}{
		tt.Capacity,
		"event_id", tt.EventID,
		"name", tt.Name,
		"price", tt.Price,
		"max_per_person", tt.MaxPerPerson,
		"early_bird_price", "",
		"early_bird_until", "",
	}
	if tt.EarlyBirdPrice != nil && tt.EarlyBirdUntil != nil {
		args[10] = *tt.EarlyBirdPrice
		args[12] = tt.EarlyBirdUntil.UnixMilli()
	}

	ok, err := upsertTicketTypeScript.Run(ctx, l.client, []string{l.unitKey(models.TicketTypeRef(tt.ID))}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to store ticket type %s: %w", tt.ID, err)
	}
	if ok == 0 {
		return fmt.Errorf("%w: capacity %d is below sold+held for %s", models.ErrInvalidInput, tt.Capacity, tt.ID)
	}
	return nil
}

// AddSeat registers a seat; an existing seat keeps its status
func (l *RedisLedger) AddSeat(ctx context.Context, seat models.Seat) error {
	if err := seat.Validate(); err != nil {
		return err
	}
	key := l.unitKey(models.SeatRef(seat.ID))
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "status", string(models.SeatAvailable))
		pipe.HSet(ctx, key,
			"kind", string(models.UnitSeat),
			"event_id", seat.EventID,
			"category_id", seat.CategoryID,
			"table_id", seat.TableID,
			"label", seat.Label,
			"price", seat.Price,
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store seat %s: %w", seat.ID, err)
	}
	return nil
}

func (l *RedisLedger) TicketType(ctx context.Context, id string) (*models.TicketType, error) {
	fields, err := l.client.HGetAll(ctx, l.unitKey(models.TicketTypeRef(id))).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket type %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: ticket type %s", models.ErrUnitNotFound, id)
	}

	tt := &models.TicketType{
		ID:           id,
		EventID:      fields["event_id"],
		Name:         fields["name"],
		Capacity:     atoi(fields["capacity"]),
		SoldCount:    atoi(fields["sold"]),
		HeldCount:    atoi(fields["held"]),
		Price:        atoi64(fields["price"]),
		MaxPerPerson: atoi(fields["max_per_person"]),
	}
	if fields["early_bird_price"] != "" && fields["early_bird_until"] != "" {
		price := atoi64(fields["early_bird_price"])
		until := time.UnixMilli(atoi64(fields["early_bird_until"])).UTC()
		tt.EarlyBirdPrice = &price
		tt.EarlyBirdUntil = &until
	}
	return tt, nil
}

func (l *RedisLedger) Seat(ctx context.Context, id string) (*models.Seat, error) {
	fields, err := l.client.HGetAll(ctx, l.unitKey(models.SeatRef(id))).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load seat %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: seat %s", models.ErrUnitNotFound, id)
	}
	return &models.Seat{
		ID:         id,
		EventID:    fields["event_id"],
		CategoryID: fields["category_id"],
		TableID:    fields["table_id"],
		Label:      fields["label"],
		Price:      atoi64(fields["price"]),
		Status:     models.SeatStatus(fields["status"]),
		SessionID:  fields["session"],
	}, nil
}

func (l *RedisLedger) Reserve(ctx context.Context, sessionID, eventID string, units []models.UnitRequest, createdAt, expiresAt time.Time) (*models.HoldReceipt, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", models.ErrInvalidInput)
	}
	normalized, err := models.NormalizeUnits(units)
	if err != nil {
		return nil, err
	}

	keys := []string{l.sessionKey(sessionID), l.sessionUnitsKey(sessionID), l.expiryKey()}
	args := []interface{}{sessionID, eventID, createdAt.UnixMilli(), expiresAt.UnixMilli()}
	for _, u := range normalized {
		keys = append(keys, l.unitKey(u.Unit))
		args = append(args, u.Unit.String(), u.Quantity)
	}

	res, err := reserveScript.Run(ctx, l.client, keys, args...).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve units: %w", err)
	}

	switch res[0] {
	case "ok":
		return &models.HoldReceipt{
			SessionID: sessionID,
			EventID:   eventID,
			Units:     normalized,
			CreatedAt: time.UnixMilli(createdAt.UnixMilli()).UTC(),
			ExpiresAt: time.UnixMilli(expiresAt.UnixMilli()).UTC(),
		}, nil
	case "exists":
		session, err := l.Session(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if session.State != models.HoldActive {
			return nil, &models.InventoryError{Code: models.InventorySessionExpired, Message: sessionID}
		}
		if !models.SameUnits(session.Units, normalized) {
			return nil, models.ErrHoldConflict
		}
		return models.ReceiptFor(session), nil
	}

	return nil, reserveFailure(res)
}

func reserveFailure(res []string) error {
	if len(res) < 3 {
		return fmt.Errorf("unexpected reserve result %v", res)
	}
	ref, _ := models.ParseUnitRef(res[2])
	switch res[1] {
	case "sold_out":
		return &models.InventoryError{Code: models.InventorySoldOut, UnitRef: ref}
	case "seat_unavailable":
		return &models.InventoryError{Code: models.InventorySeatUnavailable, UnitRef: ref}
	case "not_found":
		return fmt.Errorf("%w: %s", models.ErrUnitNotFound, res[2])
	case "wrong_event":
		return fmt.Errorf("%w: %s belongs to another event", models.ErrInvalidInput, res[2])
	case "max_per_person":
		return fmt.Errorf("%w: per person limit exceeded for %s", models.ErrInvalidInput, res[2])
	default:
		return fmt.Errorf("unexpected reserve failure %q", res[1])
	}
}

func (l *RedisLedger) Commit(ctx context.Context, sessionID string) error {
	keys := []string{l.sessionKey(sessionID), l.sessionUnitsKey(sessionID), l.expiryKey()}
	res, err := commitScript.Run(ctx, l.client, keys, l.unitPrefix(), sessionID, l.retention.Milliseconds()).Text()
	if err != nil {
		return fmt.Errorf("failed to commit session %s: %w", sessionID, err)
	}
	switch res {
	case "ok":
		return nil
	case "not_found":
		return sessionNotFound(sessionID)
	default:
		return &models.InventoryError{Code: models.InventorySessionExpired, Message: sessionID + " is " + res}
	}
}

func (l *RedisLedger) Release(ctx context.Context, sessionID string) error {
	_, err := l.release(ctx, sessionID, models.HoldReleased, "")
	return err
}

func (l *RedisLedger) Expire(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	return l.release(ctx, sessionID, models.HoldExpired, strconv.FormatInt(now.UnixMilli(), 10))
}

func (l *RedisLedger) release(ctx context.Context, sessionID string, final models.HoldState, notAfter string) (bool, error) {
	keys := []string{l.sessionKey(sessionID), l.sessionUnitsKey(sessionID), l.expiryKey()}
	n, err := releaseScript.Run(ctx, l.client, keys,
		l.unitPrefix(), sessionID, string(final), notAfter, l.retention.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release session %s: %w", sessionID, err)
	}
	return n == 1, nil
}

func (l *RedisLedger) Extend(ctx context.Context, sessionID string, expiresAt time.Time) error {
	keys := []string{l.sessionKey(sessionID), l.expiryKey()}
	res, err := extendScript.Run(ctx, l.client, keys, expiresAt.UnixMilli(), sessionID).Text()
	if err != nil {
		return fmt.Errorf("failed to extend session %s: %w", sessionID, err)
	}
	switch res {
	case "ok":
		return nil
	case "not_found":
		return sessionNotFound(sessionID)
	default:
		return &models.InventoryError{Code: models.InventorySessionExpired, Message: sessionID}
	}
}

func (l *RedisLedger) Session(ctx context.Context, sessionID string) (*models.HoldSession, error) {
	fields, err := l.client.HGetAll(ctx, l.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if len(fields) == 0 {
		return nil, sessionNotFound(sessionID)
	}
	rawUnits, err := l.client.HGetAll(ctx, l.sessionUnitsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session units %s: %w", sessionID, err)
	}

	units := make([]models.UnitRequest, 0, len(rawUnits))
	for raw, qty := range rawUnits {
		ref, err := models.ParseUnitRef(raw)
		if err != nil {
			return nil, err
		}
		units = append(units, models.UnitRequest{Unit: ref, Quantity: atoi(qty)})
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Unit.String() < units[j].Unit.String() })

	return &models.HoldSession{
		SessionID: sessionID,
		EventID:   fields["event_id"],
		Units:     units,
		CreatedAt: time.UnixMilli(atoi64(fields["created_at"])).UTC(),
		ExpiresAt: time.UnixMilli(atoi64(fields["expires_at"])).UTC(),
		State:     models.HoldState(fields["state"]),
	}, nil
}

func (l *RedisLedger) ExpiredSessions(ctx context.Context, now time.Time, limit int) ([]string, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10)}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := l.client.ZRangeByScore(ctx, l.expiryKey(), by).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	return ids, nil
}

func (l *RedisLedger) Availability(ctx context.Context, ref models.UnitRef) (*models.UnitAvailability, error) {
	fields, err := l.client.HGetAll(ctx, l.unitKey(ref)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", ref, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrUnitNotFound, ref)
	}

	if fields["kind"] == string(models.UnitSeat) {
		status := models.SeatStatus(fields["status"])
		av := &models.UnitAvailability{Unit: ref, Capacity: 1, Status: status}
		switch status {
		case models.SeatHeld:
			av.Held = 1
		case models.SeatSold:
			av.Sold = 1
		default:
			av.Available = 1
		}
		return av, nil
	}

	tt := models.TicketType{Capacity: atoi(fields["capacity"]), SoldCount: atoi(fields["sold"]), HeldCount: atoi(fields["held"])}
	return &models.UnitAvailability{
		Unit:      ref,
		Capacity:  tt.Capacity,
		Held:      tt.HeldCount,
		Sold:      tt.SoldCount,
		Available: tt.Available(),
	}, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
