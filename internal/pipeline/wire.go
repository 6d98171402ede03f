package pipeline

import (
	"log/slog"

	"github.com/couchcryptid/wildfire-fusion/internal/cluster"
	"github.com/couchcryptid/wildfire-fusion/internal/config"
	"github.com/couchcryptid/wildfire-fusion/internal/domain"
	"github.com/couchcryptid/wildfire-fusion/internal/scoring"
	"github.com/couchcryptid/wildfire-fusion/internal/spread"
	"github.com/couchcryptid/wildfire-fusion/internal/store"
)

// ComponentsFromConfig builds the engine stages from service configuration.
// Weather is left for the caller to set.
func ComponentsFromConfig(cfg *config.Config, logger *slog.Logger, opts ...store.Option) Components {
	sc := scoring.DefaultConfig()
	sc.Weights = scoring.Weights{
		Satellite: cfg.WeightSatellite,
		Reports:   cfg.WeightReports,
		Diversity: cfg.WeightDiversity,
	}
	sc.RecencyHalfLife = cfg.RecencyHalfLife
	scorer := scoring.New(sc)

	stc := store.DefaultConfig()
	stc.MergeRadiusMeters = cfg.MergeRadiusMeters
	stc.CoolAfter = cfg.CoolAfter
	stc.ExpireAfter = cfg.ExpireAfter

	pc := spread.DefaultConfig()
	pc.Horizon = cfg.PredictionHorizon

	return Components{
		Normalizer:     domain.NewNormalizer(cfg.ClockSkew, domain.DefaultReportTrust),
		Clusterer:      cluster.New(cluster.Config{RadiusMeters: cfg.ClusterRadiusMeters, Window: cfg.ClusterWindow}),
		Scorer:         scorer,
		Store:          store.New(stc, scorer, logger, opts...),
		Predictor:      spread.New(pc),
		WeatherTimeout: cfg.WeatherTimeout,
		Workers:        cfg.Workers,
	}
}
