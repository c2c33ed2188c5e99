// Package ledger is the system of record for recommenders, token
// performance, recommendations, trades, transactions and airdrops.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tokentrust/internal/models"
	"tokentrust/pkg/utils"
)

// Models lists every table owned by the ledger, parents first.
func Models() []interface{} {
	return []interface{}{
		&models.Recommender{},
		&models.RecommenderMetrics{},
		&models.RecommenderMetricsHistory{},
		&models.TokenPerformance{},
		&models.TokenRecommendation{},
		&models.Trade{},
		&models.SimulationTrade{},
		&models.Transaction{},
		&models.Airdrop{},
	}
}

// AutoMigrate creates the schema through gorm. Postgres deployments use the
// SQL files under migrations/ instead.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

type Ledger struct {
	db    *gorm.DB
	clock utils.Clock
	// writeMu serialises writers inside this process; row locks cover
	// other processes on Postgres.
	writeMu sync.Mutex
}

// New wraps db. The handle must be opened with gorm.Config.TranslateError
// set, as config.OpenDatabase does, so constraint violations map onto the
// ledger's errors.
func New(db *gorm.DB, clock utils.Clock) *Ledger {
	if clock == nil {
		clock = utils.SystemClock()
	}
	return &Ledger{
		db:    db.Session(&gorm.Session{}),
		clock: clock,
	}
}

func (l *Ledger) DB() *gorm.DB {
	return l.db
}

func (l *Ledger) now() time.Time {
	return normalize(l.clock.Now())
}

// normalize drops the monotonic reading and sub-microsecond precision so
// timestamps round-trip through either database unchanged.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func (l *Ledger) read(ctx context.Context) *gorm.DB {
	return l.db.WithContext(ctx)
}

// write runs fn in one database transaction.
func (l *Ledger) write(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	err := l.db.WithContext(ctx).Transaction(fn)
	if err == nil {
		return nil
	}
	err = translate(op, err)
	entry := log.WithFields(log.Fields{"op": op, "error": err})
	if errors.Is(err, ErrIntegrity) || errors.Is(err, ErrNoOpenTrade) || errors.Is(err, ErrDuplicate) {
		entry.Warn("ledger integrity check failed")
	} else if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidInput) && !errors.Is(err, ErrInvalidTransition) {
		entry.Error("ledger write failed")
	}
	return err
}
