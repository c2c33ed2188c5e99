package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"tokentrust/pkg/config"
)

// HandleRecommendationMessage decodes one queued recommendation and runs it
// through the pipeline. Malformed or invalid messages are rejected so they
// are not redelivered, as are messages whose buy landed but was not recorded.
func (p *Pipeline) HandleRecommendationMessage(ctx context.Context, body []byte) error {
	var rec Recommendation
	if err := json.Unmarshal(body, &rec); err != nil {
		return fmt.Errorf("%w: decode recommendation: %v", config.ErrRejectMessage, err)
	}
	res, err := p.ProcessRecommendation(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrInvalidRecommendation) || errors.Is(err, ErrUnrecorded) {
			return fmt.Errorf("%w: %w", config.ErrRejectMessage, err)
		}
		return err
	}
	log.WithFields(log.Fields{
		"token":       rec.Token,
		"recommender": res.RecommenderID,
		"outcome":     res.Outcome,
		"reason":      res.Reason,
	}).Info("recommendation processed")
	return nil
}
