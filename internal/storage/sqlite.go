package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/twin/internal/catalog"
	"github.com/kalambet/twin/internal/persona"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding profiles, custom questions, the chat
// log and the feedback log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "twin.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Profiles ---

// Profiles are stored as JSON documents. The listing columns are duplicated
// out of the document so ListDeployedProfiles does not decode every row.

// GetProfile returns the profile with id, or ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, id string) (persona.Profile, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM profiles WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return persona.Profile{}, ErrNotFound
	}
	if err != nil {
		return persona.Profile{}, err
	}
	var p persona.Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return persona.Profile{}, fmt.Errorf("decoding profile %s: %w", id, err)
	}
	return p, nil
}

// PutProfile inserts or replaces p.
func (s *Store) PutProfile(ctx context.Context, p persona.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding profile %s: %w", p.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, user_ref, bio, deployed, training_progress, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_ref = excluded.user_ref,
			bio = excluded.bio,
			deployed = excluded.deployed,
			training_progress = excluded.training_progress,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		p.ID, p.UserRef, p.Bio, p.Deployed, p.TrainingProgress, string(data),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	return err
}

// ListProfileIDs returns every profile ID in ascending order.
func (s *Store) ListProfileIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM profiles ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListDeployedProfiles returns the deployed twins, most trained first.
func (s *Store) ListDeployedProfiles(ctx context.Context) ([]DeployedProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bio, training_progress FROM profiles
		WHERE deployed = 1
		ORDER BY training_progress DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []DeployedProfile{}
	for rows.Next() {
		var d DeployedProfile
		if err := rows.Scan(&d.ID, &d.Bio, &d.TrainingProgress); err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// MaxMemoryID returns the largest memory ID across all profiles, or 0.
func (s *Store) MaxMemoryID(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(json_extract(m.value, '$.id'))
		FROM profiles, json_each(profiles.data, '$.memories') AS m`,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("scanning memory ids: %w", err)
	}
	return max.Int64, nil
}

// --- Questions ---

// SaveQuestion persists a custom catalog question.
func (s *Store) SaveQuestion(q catalog.Question) error {
	triggers, err := json.Marshal(nonNil(q.Triggers))
	if err != nil {
		return err
	}
	options, err := json.Marshal(nonNil(q.Options))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO questions (id, text, category, importance, triggers, options, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.Text, q.Category, q.Importance, string(triggers), string(options),
		formatTime(time.Now()),
	)
	return err
}

// ListQuestions returns the custom questions in ID order.
func (s *Store) ListQuestions(ctx context.Context) ([]catalog.Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, category, importance, triggers, options
		FROM questions ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []catalog.Question
	for rows.Next() {
		var q catalog.Question
		var triggers, options string
		if err := rows.Scan(&q.ID, &q.Text, &q.Category, &q.Importance, &triggers, &options); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(triggers), &q.Triggers); err != nil {
			return nil, fmt.Errorf("decoding triggers of question %d: %w", q.ID, err)
		}
		if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
			return nil, fmt.Errorf("decoding options of question %d: %w", q.ID, err)
		}
		results = append(results, q)
	}
	return results, rows.Err()
}

// --- Interactions ---

func (s *Store) SaveInteraction(ctx context.Context, i Interaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (id, profile_id, speaker_id, message, reply, matched, score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.ProfileID, i.SpeakerID, i.Message, i.Reply, i.Matched, i.Score, formatTime(i.CreatedAt),
	)
	return err
}

// ListInteractions returns up to limit chat turns of a profile, newest first.
func (s *Store) ListInteractions(ctx context.Context, profileID string, limit int) ([]Interaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, speaker_id, message, reply, matched, score, created_at
		FROM interactions WHERE profile_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, profileID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Interaction{}
	for rows.Next() {
		var i Interaction
		var createdAt string
		if err := rows.Scan(&i.ID, &i.ProfileID, &i.SpeakerID, &i.Message, &i.Reply, &i.Matched, &i.Score, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		i.CreatedAt = t
		results = append(results, i)
	}
	return results, rows.Err()
}

// --- Feedback ---

func (s *Store) SaveFeedback(ctx context.Context, f FeedbackRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (id, profile_id, question_id, memory_id, score, comments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ProfileID, f.QuestionID, f.MemoryID, f.Score, f.Comments, formatTime(f.CreatedAt),
	)
	return err
}

// ListFeedback returns a profile's feedback log in insertion order.
func (s *Store) ListFeedback(ctx context.Context, profileID string) ([]FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, question_id, memory_id, score, comments, created_at
		FROM feedback WHERE profile_id = ? ORDER BY rowid ASC`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FeedbackRecord
	for rows.Next() {
		var f FeedbackRecord
		var qid, mid sql.NullInt64
		var createdAt string
		if err := rows.Scan(&f.ID, &f.ProfileID, &qid, &mid, &f.Score, &f.Comments, &createdAt); err != nil {
			return nil, err
		}
		if qid.Valid {
			v := int(qid.Int64)
			f.QuestionID = &v
		}
		if mid.Valid {
			v := mid.Int64
			f.MemoryID = &v
		}
		if f.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, f)
	}
	return results, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
