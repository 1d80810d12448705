package inventory

import (
	"context"
	"log"
	"sync"
	"time"

	"event-ticketing-checkout/internal/clock"
)

const (
	// DefaultSweepInterval is how often the background sweep runs
	DefaultSweepInterval = 30 * time.Second

	defaultSweepBatch = 500
)

// Task is extra periodic work run after each hold sweep.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Sweeper expires holds past their expiry and runs follow-up tasks on a ticker.
type Sweeper struct {
	ledger   Ledger
	clock    clock.Clock
	interval time.Duration
	batch    int
	tasks    []Task

	stopSweep chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewSweeper(ledger Ledger, clk clock.Clock, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		ledger:    ledger,
		clock:     clk,
		interval:  interval,
		batch:     defaultSweepBatch,
		stopSweep: make(chan struct{}),
	}
}

// AddTask registers work to run after every sweep. Call before Start.
func (s *Sweeper) AddTask(name string, run func(ctx context.Context) error) {
	s.tasks = append(s.tasks, Task{Name: name, Run: run})
}

// Start runs the sweep loop in the background until Close is called
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.sweepLoop()
}

func (s *Sweeper) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			s.Tick(ctx)
			cancel()
		case <-s.stopSweep:
			return
		}
	}
}

// Tick performs one sweep followed by every registered task.
func (s *Sweeper) Tick(ctx context.Context) {
	if n, err := s.SweepOnce(ctx); err != nil {
		log.Printf("sweeper: hold sweep failed after %d expirations: %v", n, err)
	} else if n > 0 {
		log.Printf("sweeper: expired %d holds", n)
	}

	for _, task := range s.tasks {
		if err := task.Run(ctx); err != nil {
			log.Printf("sweeper: task %s failed: %v", task.Name, err)
		}
	}
}

// SweepOnce expires every hold that is due and returns how many this call
// released. Holds released concurrently by a commit or cancel are skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock.Now()
	expired := 0
	for {
		ids, err := s.ledger.ExpiredSessions(ctx, now, s.batch)
		if err != nil {
			return expired, err
		}
		released := 0
		for _, id := range ids {
			ok, err := s.ledger.Expire(ctx, id, now)
			if err != nil {
				return expired, err
			}
			if ok {
				released++
			}
		}
		expired += released
		if len(ids) < s.batch || released == 0 {
			return expired, nil
		}
	}
}

// Close stops the background sweep and waits for it to finish
func (s *Sweeper) Close() error {
	s.stopOnce.Do(func() { close(s.stopSweep) })
	s.wg.Wait()
	return nil
}
