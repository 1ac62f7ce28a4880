package strategies

import (
	"github.com/rustyeddy/bullion/signal"
)

// NewCollaborators wires the reference detectors and scorers for the
// signal processor.
func NewCollaborators(cfg Config) (signal.Collaborators, error) {
	tf, err := ByName(cfg.TrendSet, cfg)
	if err != nil {
		return signal.Collaborators{}, err
	}
	return signal.Collaborators{
		TrendFollowing: tf,
		MeanReversion:  NewMeanReversion(cfg),
		Validator:      NewRules(cfg),
		Quality:        Grader{},
		Confluence:     Confluence{},
		Momentum:       Momentum{},
	}, nil
}
