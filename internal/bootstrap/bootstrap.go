// Package bootstrap assembles the long-lived components shared by the api
// and worker processes.
package bootstrap

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tokentrust/internal/ledger"
	"tokentrust/pkg/config"
	"tokentrust/pkg/marketdata"
	"tokentrust/pkg/simulation"
	"tokentrust/pkg/trust"
	"tokentrust/pkg/utils"
)

// OpenLedger connects to the database and brings the schema up to date:
// SQL migrations on postgres, gorm AutoMigrate on sqlite.
func OpenLedger(s *config.Settings, clock utils.Clock) (*ledger.Ledger, *gorm.DB, error) {
	db, err := config.OpenDatabase(s.Database)
	if err != nil {
		return nil, nil, err
	}
	switch s.Database.Driver {
	case "postgres":
		err = config.ExecuteMigrations(db, s.Database.MigrationsPath)
	default:
		err = ledger.AutoMigrate(db)
	}
	if err != nil {
		config.CloseDatabase(db)
		return nil, nil, fmt.Errorf("prepare schema: %w", err)
	}
	log.WithField("driver", s.Database.Driver).Info("ledger ready")
	return ledger.New(db, clock), db, nil
}

// Decision bundles the read-only decision layer.
type Decision struct {
	Cache     *marketdata.Cache
	Scorer    *trust.Scorer
	Simulator *simulation.Simulator
}

// NewDecision wires the market data cache, scorer and simulator.
func NewDecision(s *config.Settings, clock utils.Clock) (*Decision, error) {
	cache := marketdata.NewCache(marketdata.Config{
		BaseURL:          s.DexScreenerURL,
		ChainID:          s.ChainID,
		TTL:              s.MarketDataTTL,
		RateLimitRetries: s.RateLimitRetries,
		Clock:            clock,
	})
	scorer, err := trust.NewScorer(s.Trust, cache)
	if err != nil {
		return nil, fmt.Errorf("create scorer: %w", err)
	}
	return &Decision{
		Cache:     cache,
		Scorer:    scorer,
		Simulator: simulation.NewSimulator(scorer),
	}, nil
}
