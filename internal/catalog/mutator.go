package catalog

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hatssoftware/bookstore-sync/internal/db"
)

// MutatorConfig holds every probability and range the mutator draws from,
// so simulations can be tuned and tests can pin behaviors with a seeded
// random source.
type MutatorConfig struct {
	PriceChangeProb  float64 // chance a selected book gets a price change
	StockChangeProb  float64 // chance a selected book gets a stock change
	RatingChangeProb float64 // chance a selected book gets a rating change

	PriceMinPercent float64 // relative price change bounds
	PriceMaxPercent float64
	PriceFloor      float64
	PriceCeil       float64

	SaleProb   float64 // chance a stock change is a sale rather than a restock
	SaleMax    int32   // units sold per change, 1..SaleMax
	RestockMin int32   // units added per restock
	RestockMax int32

	RatingMaxDelta float64 // rating drift bounds per change
	RatingFloor    float64
	RatingCeil     float64

	DefaultCount int // books per batch when the caller does not say
	MaxCount     int // hard cap on books per batch
}

// DefaultMutatorConfig mirrors typical e-commerce churn: prices move often,
// stock a bit less, ratings rarely
func DefaultMutatorConfig() MutatorConfig {
	return MutatorConfig{
		PriceChangeProb:  0.8,
		StockChangeProb:  0.6,
		RatingChangeProb: 0.2,
		PriceMinPercent:  0.05,
		PriceMaxPercent:  0.15,
		PriceFloor:       5.0,
		PriceCeil:        100.0,
		SaleProb:         0.7,
		SaleMax:          10,
		RestockMin:       5,
		RestockMax:       20,
		RatingMaxDelta:   0.3,
		RatingFloor:      1.0,
		RatingCeil:       5.0,
		DefaultCount:     50,
		MaxCount:         500,
	}
}

// MutationSummary reports what one batch actually touched
type MutationSummary struct {
	Selected      int `json:"selected"`
	Modified      int `json:"modified"`
	PriceChanges  int `json:"price_changes"`
	StockChanges  int `json:"stock_changes"`
	RatingChanges int `json:"rating_changes"`
}

// Mutator randomly perturbs catalog rows the way storefront activity would,
// stamping the change marker on every row it touches
type Mutator struct {
	pool db.PgxIface
	cfg  MutatorConfig

	// rng only seeds a per-batch child source; Mutate runs from both the
	// ticker loop and HTTP handlers, so every access is guarded by mu
	mu  sync.Mutex
	rng *rand.Rand
}

// NewMutator creates a mutator. Pass a seeded rng for deterministic runs;
// nil gets a time-seeded source.
func NewMutator(pool db.PgxIface, cfg MutatorConfig, rng *rand.Rand) *Mutator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Mutator{pool: pool, cfg: cfg, rng: rng}
}

// Mutate selects up to count random books and applies 0-3 independent field
// mutations to each. The whole batch runs in one transaction: a failure
// rolls back the batch, leaving no half-stamped rows behind.
func (m *Mutator) Mutate(ctx context.Context, count int) (*MutationSummary, error) {
	if count <= 0 {
		count = m.cfg.DefaultCount
	}
	if count > m.cfg.MaxCount {
		count = m.cfg.MaxCount
	}

	m.mu.Lock()
	rng := rand.New(rand.NewSource(m.rng.Int63()))
	m.mu.Unlock()

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin mutation batch: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	rows, err := tx.Query(ctx,
		`SELECT id, price, stock_quantity, average_rating FROM books ORDER BY random() LIMIT $1`, count)
	if err != nil {
		return nil, fmt.Errorf("failed to select books for mutation: %w", err)
	}

	type candidate struct {
		id     int64
		price  float64
		stock  int32
		rating *float64
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.price, &c.stock, &c.rating); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning mutation candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mutation candidates: %w", err)
	}

	summary := &MutationSummary{Selected: len(candidates)}
	for _, c := range candidates {
		var patch FieldPatch

		if rng.Float64() < m.cfg.PriceChangeProb {
			price := m.cfg.NextPrice(rng, c.price)
			patch.Price = &price
			summary.PriceChanges++
		}
		if rng.Float64() < m.cfg.StockChangeProb {
			stock := m.cfg.NextStock(rng, c.stock)
			patch.StockQuantity = &stock
			summary.StockChanges++
		}
		if rng.Float64() < m.cfg.RatingChangeProb {
			rating := m.cfg.NextRating(rng, c.rating)
			patch.AverageRating = &rating
			summary.RatingChanges++
		}

		// all gates missed: the row stays untouched, marker included
		if patch.IsEmpty() {
			continue
		}

		if err := UpdateBookFields(ctx, tx, c.id, patch); err != nil {
			return nil, fmt.Errorf("failed to mutate book %d: %w", c.id, err)
		}
		summary.Modified++
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit mutation batch: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"selected": summary.Selected,
		"modified": summary.Modified,
		"prices":   summary.PriceChanges,
		"stocks":   summary.StockChanges,
		"ratings":  summary.RatingChanges,
	}).Info("Mutation batch completed")

	return summary, nil
}

// RunPeriodic runs mutation batches on a fixed interval until the context is
// canceled. Batch failures are logged and the loop keeps going; only
// cancellation stops it.
func (m *Mutator) RunPeriodic(ctx context.Context, interval time.Duration, count int) error {
	logrus.WithField("interval", interval).Info("Starting periodic mutation loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Mutation loop stopped due to context cancellation")
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Mutate(ctx, count); err != nil {
				logrus.WithError(err).Error("Failed to run mutation batch")
			}
		}
	}
}

// NextPrice applies a relative change of PriceMinPercent..PriceMaxPercent in
// a random direction and clamps the result to [PriceFloor, PriceCeil]
func (c MutatorConfig) NextPrice(rng *rand.Rand, current float64) float64 {
	percent := c.PriceMinPercent + rng.Float64()*(c.PriceMaxPercent-c.PriceMinPercent)
	direction := 1.0
	if rng.Intn(2) == 0 {
		direction = -1.0
	}
	price := round2(current * (1 + direction*percent))
	return clamp(price, c.PriceFloor, c.PriceCeil)
}

// NextStock simulates a sale with probability SaleProb, otherwise a restock,
// flooring the result at zero
func (c MutatorConfig) NextStock(rng *rand.Rand, current int32) int32 {
	var delta int32
	if rng.Float64() < c.SaleProb {
		delta = -(1 + rng.Int31n(c.SaleMax))
	} else {
		delta = c.RestockMin + rng.Int31n(c.RestockMax-c.RestockMin+1)
	}
	stock := current + delta
	if stock < 0 {
		stock = 0
	}
	return stock
}

// NextRating drifts an existing rating by at most RatingMaxDelta in either
// direction, clamped to [RatingFloor, RatingCeil]. An unrated book is given
// a fresh middling rating instead.
func (c MutatorConfig) NextRating(rng *rand.Rand, current *float64) float64 {
	if current == nil {
		return round2(3.0 + rng.Float64()*1.5)
	}
	delta := (rng.Float64()*2 - 1) * c.RatingMaxDelta
	return clamp(round2(*current+delta), c.RatingFloor, c.RatingCeil)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
