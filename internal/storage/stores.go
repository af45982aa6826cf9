package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stitts-dev/fpl-engine/internal/types"
)

// HistoryStore provides read access to per-player appearance history, ordered
// most recent first. It is the only data source the heuristic engine sees.
type HistoryStore struct {
	db *gorm.DB
}

func NewHistoryStore(db *gorm.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// RecentAppearances returns up to limit appearances for the player, any
// outcome, most recent kickoff first.
func (s *HistoryStore) RecentAppearances(ctx context.Context, playerID uint, limit int) ([]types.Appearance, error) {
	var appearances []types.Appearance
	err := s.db.WithContext(ctx).
		Where("player_id = ?", playerID).
		Order("kickoff DESC").
		Limit(limit).
		Find(&appearances).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load appearances for player %d: %w", playerID, err)
	}
	return appearances, nil
}

// RecentHealthyStarts returns up to limit healthy starts (started, no injury
// exit, no red card), most recent first.
func (s *HistoryStore) RecentHealthyStarts(ctx context.Context, playerID uint, limit int) ([]types.Appearance, error) {
	var appearances []types.Appearance
	err := s.db.WithContext(ctx).
		Where("player_id = ? AND started = ? AND injury_exit = ? AND red_card = ?", playerID, true, false, false).
		Order("kickoff DESC").
		Limit(limit).
		Find(&appearances).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load healthy starts for player %d: %w", playerID, err)
	}
	return appearances, nil
}

// UpsertAppearances writes a resync batch, last write wins on
// (player, gameweek, season).
func (s *HistoryStore) UpsertAppearances(ctx context.Context, appearances []types.Appearance) error {
	if len(appearances) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "player_id"}, {Name: "gameweek"}, {Name: "season"}},
		UpdateAll: true,
	}).Create(&appearances).Error
	if err != nil {
		return fmt.Errorf("failed to upsert appearances: %w", err)
	}
	return nil
}

// ProjectionStore is the persisted projection sink: upsert by
// (player, gameweek), last write for a key wins.
type ProjectionStore struct {
	db *gorm.DB
}

func NewProjectionStore(db *gorm.DB) *ProjectionStore {
	return &ProjectionStore{db: db}
}

// Upsert stores a single projection record.
func (s *ProjectionStore) Upsert(ctx context.Context, projection *types.WeeklyProjection) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "player_id"}, {Name: "gameweek"}},
		UpdateAll: true,
	}).Create(projection).Error
	if err != nil {
		return fmt.Errorf("failed to upsert projection for player %d gw %d: %w", projection.PlayerID, projection.Gameweek, err)
	}
	return nil
}

// BulkUpsert stores a multi-week generation run in one statement.
func (s *ProjectionStore) BulkUpsert(ctx context.Context, projections []types.WeeklyProjection) error {
	if len(projections) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "player_id"}, {Name: "gameweek"}},
		UpdateAll: true,
	}).CreateInBatches(&projections, 200).Error
	if err != nil {
		return fmt.Errorf("failed to bulk upsert %d projections: %w", len(projections), err)
	}
	return nil
}

// Get returns the stored projection for (player, gameweek), nil when absent.
func (s *ProjectionStore) Get(ctx context.Context, playerID uint, gameweek int) (*types.WeeklyProjection, error) {
	var projection types.WeeklyProjection
	err := s.db.WithContext(ctx).
		Where("player_id = ? AND gameweek = ?", playerID, gameweek).
		First(&projection).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load projection for player %d gw %d: %w", playerID, gameweek, err)
	}
	return &projection, nil
}

// FixtureStore looks up fixture difficulty by (team, gameweek).
type FixtureStore struct {
	db *gorm.DB
}

func NewFixtureStore(db *gorm.DB) *FixtureStore {
	return &FixtureStore{db: db}
}

// Difficulty returns the fixture for (team, gameweek), nil when no fixture is
// recorded for that week.
func (s *FixtureStore) Difficulty(ctx context.Context, team string, gameweek int) (*types.Fixture, error) {
	var fixture types.Fixture
	err := s.db.WithContext(ctx).
		Where("team = ? AND gameweek = ?", team, gameweek).
		First(&fixture).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load fixture for %s gw %d: %w", team, gameweek, err)
	}
	return &fixture, nil
}

// PlayerStore provides the roster reads the forecast pipeline needs.
type PlayerStore struct {
	db *gorm.DB
}

func NewPlayerStore(db *gorm.DB) *PlayerStore {
	return &PlayerStore{db: db}
}

func (s *PlayerStore) Get(ctx context.Context, playerID uint) (*types.Player, error) {
	var player types.Player
	err := s.db.WithContext(ctx).First(&player, playerID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load player %d: %w", playerID, err)
	}
	return &player, nil
}

func (s *PlayerStore) List(ctx context.Context, playerIDs []uint) ([]types.Player, error) {
	var players []types.Player
	err := s.db.WithContext(ctx).Where("id IN ?", playerIDs).Find(&players).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load players: %w", err)
	}
	return players, nil
}
