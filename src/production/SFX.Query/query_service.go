package query

import (
	"context"

	logger "gitlab.com/safex/safex.telemetry/src/production/SFX.Logger"
	metrics "gitlab.com/safex/safex.telemetry/src/production/SFX.Metrics"
	sfxmodels "gitlab.com/safex/safex.telemetry/src/production/SFX.Models"
	interfaces "gitlab.com/safex/safex.telemetry/src/production/SFX.Repository/Interfaces"
)

// Service answers "what is the newest reading". It holds no state of its own
// and is safe for concurrent use.
type Service struct {
	store  interfaces.ReadingStore
	logger *logger.Logger
}

func NewService(store interfaces.ReadingStore, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		logger: log.WithComponent("query"),
	}
}

// Latest never returns a zero-valued reading: a missing record is
// QueryNotFound and a store failure is QueryUnavailable.
func (s *Service) Latest(ctx context.Context) sfxmodels.LatestResult {
	reading, err := s.store.Latest(ctx)
	if err != nil {
		s.logger.Logger.Error().Err(err).Msg("Failed to read latest reading")
		metrics.QueryRequests.WithLabelValues(string(sfxmodels.QueryUnavailable)).Inc()
		return sfxmodels.LatestResult{
			Status: sfxmodels.QueryUnavailable,
			Error:  "Reading store unavailable",
		}
	}

	if reading == nil {
		metrics.QueryRequests.WithLabelValues(string(sfxmodels.QueryNotFound)).Inc()
		return sfxmodels.LatestResult{
			Status: sfxmodels.QueryNotFound,
			Error:  "No data found",
		}
	}

	metrics.QueryRequests.WithLabelValues(string(sfxmodels.QueryFound)).Inc()
	return sfxmodels.LatestResult{
		Status:  sfxmodels.QueryFound,
		Reading: reading,
	}
}

// Ready reports whether the backing store answers.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}
