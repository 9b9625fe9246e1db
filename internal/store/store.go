package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/facegate/internal/landmark"
	"github.com/jackc/pgx/v5"
)

var ErrProfileNotFound = errors.New("profile not found")

// Store manages the PostgreSQL connection for registered profiles.
type Store struct {
	conn *pgx.Conn
}

// ProfileSummary is one row of ListProfiles.
type ProfileSummary struct {
	Name         string
	PointCount   int
	RegisteredAt time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS profiles (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			point_count INT NOT NULL,
			registered_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS profile_landmarks (
			profile_id INT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			pose TEXT NOT NULL,
			points JSONB NOT NULL,
			PRIMARY KEY (profile_id, pose)
		);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// SaveProfile stores p under name, replacing any earlier registration in full.
func (s *Store) SaveProfile(ctx context.Context, name string, p *landmark.Profile) error {
	if !p.Complete() {
		return fmt.Errorf("refusing to save incomplete profile %q", name)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var id int
	err = tx.QueryRow(ctx, `
		INSERT INTO profiles (name, point_count, registered_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET point_count = EXCLUDED.point_count, registered_at = NOW()
		RETURNING id
	`, name, p.PointCount()).Scan(&id)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "DELETE FROM profile_landmarks WHERE profile_id = $1", id); err != nil {
		return err
	}

	for _, pose := range landmark.Poses {
		points, err := json.Marshal(p.Set(pose).Triples())
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO profile_landmarks (profile_id, pose, points)
			VALUES ($1, $2, $3::jsonb)
		`, id, string(pose), string(points))
		if err != nil {
			return fmt.Errorf("insert %s landmarks: %w", pose, err)
		}
	}

	return tx.Commit(ctx)
}

// LoadProfile fetches the profile stored under name.
func (s *Store) LoadProfile(ctx context.Context, name string) (*landmark.Profile, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT pl.pose, pl.points::text
		FROM profile_landmarks pl
		JOIN profiles p ON p.id = pl.profile_id
		WHERE p.name = $1
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sets := make(map[landmark.Pose]landmark.LandmarkSet, len(landmark.Poses))
	for rows.Next() {
		var poseStr, pointsJSON string
		if err := rows.Scan(&poseStr, &pointsJSON); err != nil {
			return nil, err
		}
		pose, err := landmark.ParsePose(poseStr)
		if err != nil {
			return nil, err
		}
		var triples [][3]float64
		if err := json.Unmarshal([]byte(pointsJSON), &triples); err != nil {
			return nil, fmt.Errorf("decode %s landmarks: %w", pose, err)
		}
		sets[pose] = landmark.FromTriples(triples)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	return landmark.ProfileFromMap(sets), nil
}

// ListProfiles returns all stored profiles ordered by name.
func (s *Store) ListProfiles(ctx context.Context) ([]ProfileSummary, error) {
	rows, err := s.conn.Query(ctx, "SELECT name, point_count, registered_at FROM profiles ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProfileSummary
	for rows.Next() {
		var p ProfileSummary
		if err := rows.Scan(&p.Name, &p.PointCount, &p.RegisteredAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RenameProfile updates the name of a stored profile.
func (s *Store) RenameProfile(ctx context.Context, oldName, newName string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE profiles SET name = $1 WHERE name = $2", newName, oldName)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrProfileNotFound, oldName)
	}
	return nil
}

// DeleteProfile removes a profile and its landmarks.
func (s *Store) DeleteProfile(ctx context.Context, name string) error {
	tag, err := s.conn.Exec(ctx, "DELETE FROM profiles WHERE name = $1", name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// The schema is recreated on the next connection.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS profile_landmarks CASCADE;
		DROP TABLE IF EXISTS profiles CASCADE;
	`)
	return err
}
