package features

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/teamaccess/team-access-manager/internal/shared"
)

// Service implements catalog reads and admin mutations.
type Service struct {
	repo   Repository
	cache  *Cache
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service. cache may be nil.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger, now: time.Now}
}

// List returns the catalog. Concurrent misses share one database read.
func (s *Service) List(ctx context.Context) ([]Feature, error) {
	key, err := s.cache.BuildKey(ctx, "tam", "features", "catalog")
	if err != nil {
		s.logger.Warn("feature cache unavailable", slog.Any("error", err))
		return s.repo.List(ctx)
	}
	result, err, _ := s.group.Do(key, func() (any, error) {
		var features []Feature
		err := s.cache.FetchJSON(ctx, key, &features, func(ctx context.Context) (any, error) {
			return s.repo.List(ctx)
		})
		return features, err
	})
	if err != nil {
		return nil, err
	}
	return result.([]Feature), nil
}

// Warm pre-populates the catalog cache and returns the catalog size.
func (s *Service) Warm(ctx context.Context) (int, error) {
	features, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(features), nil
}

// Create adds a feature and gives every team a denied default for it.
func (s *Service) Create(ctx context.Context, actor shared.Principal, req CreateFeatureRequest) (Feature, error) {
	name := strings.TrimSpace(req.Name)
	now := s.now().UTC()
	var created Feature
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		f, err := tx.Create(ctx, name)
		if err != nil {
			return err
		}
		teams, err := tx.SeedTeams(ctx, f.ID)
		if err != nil {
			return fmt.Errorf("seed team defaults: %w", err)
		}
		entries := make([]shared.AuditEntry, 0, len(teams))
		for _, teamID := range teams {
			entries = append(entries, shared.AuditEntry{
				TeamID:      teamID,
				Description: fmt.Sprintf("Feature %s added with access Not Granted", f.Name),
				Actor:       actor.Label(),
				At:          now,
			})
		}
		if err := tx.RecordAudit(ctx, entries...); err != nil {
			return err
		}
		created = f
		return nil
	})
	if err != nil {
		return Feature{}, err
	}
	s.invalidate(ctx)
	return created, nil
}

// Delete removes a feature with its access rows. Pending requests on it are
// cancelled first; decided requests keep the feature name they were raised for.
func (s *Service) Delete(ctx context.Context, actor shared.Principal, id int64) error {
	now := s.now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		f, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		teams, err := tx.TeamsWithFeature(ctx, id)
		if err != nil {
			return err
		}
		users, err := tx.CancelPending(ctx, id, actor.Label(), now)
		if err != nil {
			return fmt.Errorf("cancel pending requests: %w", err)
		}
		entries := make([]shared.AuditEntry, 0, len(teams)+len(users))
		for _, teamID := range teams {
			entries = append(entries, shared.AuditEntry{
				TeamID:      teamID,
				Description: fmt.Sprintf("Feature %s removed", f.Name),
				Actor:       actor.Label(),
				At:          now,
			})
		}
		for _, userID := range users {
			entries = append(entries, shared.AuditEntry{
				UserID:      userID,
				Description: fmt.Sprintf("Pending request for %s cancelled because the feature was removed", f.Name),
				Actor:       actor.Label(),
				At:          now,
			})
		}
		if err := tx.RecordAudit(ctx, entries...); err != nil {
			return err
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump feature cache", slog.Any("error", err))
	}
}
