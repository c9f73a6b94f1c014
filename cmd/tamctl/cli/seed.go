package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/teamaccess/team-access-manager/internal/auth"
	"github.com/teamaccess/team-access-manager/internal/platform/db"
)

// SeedFile is the YAML document accepted by tamctl seed.
type SeedFile struct {
	Features []string   `yaml:"features"`
	Teams    []SeedTeam `yaml:"teams"`
	Admin    *SeedAdmin `yaml:"admin"`
}

// SeedTeam lists the features a team is granted by default.
type SeedTeam struct {
	Name   string   `yaml:"name"`
	Access []string `yaml:"access"`
}

// SeedAdmin describes the bootstrap platform admin.
type SeedAdmin struct {
	Name     string `yaml:"name"`
	EmpID    string `yaml:"empId"`
	Email    string `yaml:"email"`
	Team     string `yaml:"team"`
	Password string `yaml:"password"`
}

// ParseSeed decodes and checks a seed document. Every team grant must name a
// declared feature and the admin's team must be declared.
func ParseSeed(r io.Reader) (SeedFile, error) {
	var seed SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return SeedFile{}, fmt.Errorf("seed: decode: %w", err)
	}
	features := make(map[string]bool, len(seed.Features))
	for _, f := range seed.Features {
		f = strings.TrimSpace(f)
		if f == "" {
			return SeedFile{}, errors.New("seed: empty feature name")
		}
		if features[strings.ToLower(f)] {
			return SeedFile{}, fmt.Errorf("seed: feature %q declared twice", f)
		}
		features[strings.ToLower(f)] = true
	}
	teams := make(map[string]bool, len(seed.Teams))
	for _, t := range seed.Teams {
		if strings.TrimSpace(t.Name) == "" {
			return SeedFile{}, errors.New("seed: team without a name")
		}
		teams[strings.ToLower(t.Name)] = true
		for _, a := range t.Access {
			if !features[strings.ToLower(strings.TrimSpace(a))] {
				return SeedFile{}, fmt.Errorf("seed: team %q grants undeclared feature %q", t.Name, a)
			}
		}
	}
	if a := seed.Admin; a != nil {
		if a.Email == "" || a.EmpID == "" || a.Name == "" {
			return SeedFile{}, errors.New("seed: admin needs name, empId and email")
		}
		if a.Team != "" && !teams[strings.ToLower(a.Team)] {
			return SeedFile{}, fmt.Errorf("seed: admin team %q is not declared", a.Team)
		}
		if len(a.Password) < auth.MinPasswordLength {
			return SeedFile{}, fmt.Errorf("seed: admin password must be at least %d characters", auth.MinPasswordLength)
		}
	}
	return seed, nil
}

// SeedStore writes seed rows. Every method is an upsert so seeding twice is
// harmless.
type SeedStore interface {
	EnsureFeature(ctx context.Context, name string) (int64, error)
	EnsureTeam(ctx context.Context, name string, access map[int64]bool) (int64, error)
	EnsureAdmin(ctx context.Context, admin SeedAdmin, teamID int64, passwordHash string) (bool, error)
}

// SeedSummary reports what a seed run touched.
type SeedSummary struct {
	Features     int
	Teams        int
	AdminCreated bool
}

// Seed applies seed through store.
func Seed(ctx context.Context, seed SeedFile, store SeedStore) (SeedSummary, error) {
	var summary SeedSummary
	featureIDs := make(map[string]int64, len(seed.Features))
	for _, name := range seed.Features {
		name = strings.TrimSpace(name)
		id, err := store.EnsureFeature(ctx, name)
		if err != nil {
			return summary, fmt.Errorf("seed feature %q: %w", name, err)
		}
		featureIDs[strings.ToLower(name)] = id
		summary.Features++
	}
	teamIDs := make(map[string]int64, len(seed.Teams))
	for _, team := range seed.Teams {
		access := make(map[int64]bool, len(featureIDs))
		for _, id := range featureIDs {
			access[id] = false
		}
		for _, granted := range team.Access {
			access[featureIDs[strings.ToLower(strings.TrimSpace(granted))]] = true
		}
		id, err := store.EnsureTeam(ctx, strings.TrimSpace(team.Name), access)
		if err != nil {
			return summary, fmt.Errorf("seed team %q: %w", team.Name, err)
		}
		teamIDs[strings.ToLower(team.Name)] = id
		summary.Teams++
	}
	if seed.Admin != nil {
		hash, err := auth.HashPassword(seed.Admin.Password)
		if err != nil {
			return summary, err
		}
		created, err := store.EnsureAdmin(ctx, *seed.Admin, teamIDs[strings.ToLower(seed.Admin.Team)], hash)
		if err != nil {
			return summary, fmt.Errorf("seed admin: %w", err)
		}
		summary.AdminCreated = created
	}
	return summary, nil
}

// PGSeedStore writes seed rows with pgx.
type PGSeedStore struct {
	pool *pgxpool.Pool
}

// NewPGSeedStore constructs the store.
func NewPGSeedStore(pool *pgxpool.Pool) *PGSeedStore {
	return &PGSeedStore{pool: pool}
}

// EnsureFeature implements SeedStore.
func (s *PGSeedStore) EnsureFeature(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `INSERT INTO features (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id`, name).Scan(&id)
	return id, err
}

// EnsureTeam implements SeedStore. Existing team rows keep their grants; only
// missing feature rows are added.
func (s *PGSeedStore) EnsureTeam(ctx context.Context, name string, access map[int64]bool) (int64, error) {
	var id int64
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `INSERT INTO teams (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET active = TRUE RETURNING id`, name).Scan(&id); err != nil {
			return err
		}
		for featureID, granted := range access {
			if _, err := tx.Exec(ctx, `INSERT INTO team_access (team_id, feature_id, has_access) VALUES ($1, $2, $3)
ON CONFLICT (team_id, feature_id) DO NOTHING`, id, featureID, granted); err != nil {
				return err
			}
		}
		return nil
	})
	return id, err
}

// EnsureAdmin implements SeedStore. An existing account with the same email
// is left untouched.
func (s *PGSeedStore) EnsureAdmin(ctx context.Context, admin SeedAdmin, teamID int64, passwordHash string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO users (name, emp_id, email, role, platform_role, team_id, password_hash)
VALUES ($1, $2, lower($3), 'Administrator', 'PLATFORM_ADMIN', NULLIF($4, 0), $5)
ON CONFLICT (email) DO NOTHING`, admin.Name, admin.EmpID, admin.Email, teamID, passwordHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
