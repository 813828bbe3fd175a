// Package modelstore holds the current predictor and at least one rollback
// version; versioned artifacts and their training metrics accumulate on
// disk, with atomic promote/rollback of the current/backup pointers.
package modelstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kg90-eg/alloc-sentinel/internal/database"
)

// Metrics holds held-out validation metrics for one trained candidate.
type Metrics struct {
	F1        float64 `msgpack:"f1"`
	Accuracy  float64 `msgpack:"accuracy"`
	Precision float64 `msgpack:"precision"`
	Recall    float64 `msgpack:"recall"`
	ROCAUC    float64 `msgpack:"roc_auc"`
}

// Artifact is a serialized predictor plus its metadata record.
type Artifact struct {
	VersionID    string    `msgpack:"version_id"`
	Weights      []byte    `msgpack:"weights"` // opaque serialized predictor payload
	FeatureList  []string  `msgpack:"feature_list"`
	SampleCount  int       `msgpack:"sample_count"`
	Metrics      Metrics   `msgpack:"metrics"`
	TrainedAt    time.Time `msgpack:"trained_at"`
}

// ErrNoCurrentModel is returned when current() is called before any artifact
// has ever been promoted.
var ErrNoCurrentModel = fmt.Errorf("modelstore: no current model artifact")

// ErrNoBackup is returned by Backup() when no backup slot exists yet.
var ErrNoBackup = fmt.Errorf("modelstore: no backup artifact")

// Store manages artifact files on disk plus a sqlite metadata ledger and
// current/backup slot pointers.
type Store struct {
	db      *database.DB
	dataDir string
	log     zerolog.Logger
}

// New opens (and migrates) the model store database rooted at dataDir/models.
func New(db *database.DB, dataDir string, log zerolog.Logger) (*Store, error) {
	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("modelstore: migrate: %w", err)
	}
	modelsDir := filepath.Join(dataDir, "models")
	if err := os.MkdirAll(modelsDir, 0755); err != nil {
		return nil, fmt.Errorf("modelstore: create models dir: %w", err)
	}
	return &Store{db: db, dataDir: modelsDir, log: log.With().Str("component", "modelstore").Logger()}, nil
}

// Current returns the current artifact, or ErrNoCurrentModel if none has
// ever been promoted.
func (s *Store) Current() (*Artifact, error) {
	return s.loadSlot("current")
}

// Backup returns the backup artifact, or ErrNoBackup if none exists.
func (s *Store) Backup() (*Artifact, error) {
	a, err := s.loadSlot("backup")
	if err != nil {
		if err == ErrNoCurrentModel {
			return nil, ErrNoBackup
		}
		return nil, err
	}
	return a, nil
}

// Load returns the artifact for a specific version id, regardless of slot.
func (s *Store) Load(versionID string) (*Artifact, error) {
	row := s.db.QueryRow(`SELECT artifact_path FROM model_artifacts WHERE version_id = ?`, versionID)
	var path string
	if err := row.Scan(&path); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("modelstore: version %s not found", versionID)
		}
		return nil, err
	}
	return s.readArtifact(path)
}

// Promote atomically: (a) writes the new artifact to a versioned path,
// (b) moves the previous current to the backup slot, (c) updates the
// current pointer.
func (s *Store) Promote(a *Artifact) error {
	if a.VersionID == "" {
		a.VersionID = uuid.NewString()
	}

	path := filepath.Join(s.dataDir, a.VersionID+".bin")
	if err := s.writeArtifact(path, a); err != nil {
		return fmt.Errorf("modelstore: write artifact: %w", err)
	}

	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		featureListJSON, err := marshalStrings(a.FeatureList)
		if err != nil {
			return err
		}
		metricsJSON, err := marshalMetrics(a.Metrics)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(
			`INSERT INTO model_artifacts (version_id, artifact_path, feature_list, sample_count, metrics_json, trained_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.VersionID, path, featureListJSON, a.SampleCount, metricsJSON, a.TrainedAt.Format(time.RFC3339), time.Now().Format(time.RFC3339),
		); err != nil {
			return err
		}

		var currentVersion string
		row := tx.QueryRow(`SELECT version_id FROM model_slots WHERE slot = 'current'`)
		hadCurrent := row.Scan(&currentVersion) == nil

		if hadCurrent {
			if _, err := tx.Exec(
				`INSERT INTO model_slots (slot, version_id, updated_at) VALUES ('backup', ?, ?)
				 ON CONFLICT(slot) DO UPDATE SET version_id = excluded.version_id, updated_at = excluded.updated_at`,
				currentVersion, time.Now().Format(time.RFC3339),
			); err != nil {
				return err
			}
		}

		_, err = tx.Exec(
			`INSERT INTO model_slots (slot, version_id, updated_at) VALUES ('current', ?, ?)
			 ON CONFLICT(slot) DO UPDATE SET version_id = excluded.version_id, updated_at = excluded.updated_at`,
			a.VersionID, time.Now().Format(time.RFC3339),
		)
		return err
	})
}

// Rollback swaps the current and backup slot pointers atomically. Returns
// false if there is no backup to roll back to.
func (s *Store) Rollback() (bool, error) {
	var rolledBack bool
	err := database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		var currentVersion, backupVersion string
		if err := tx.QueryRow(`SELECT version_id FROM model_slots WHERE slot = 'current'`).Scan(&currentVersion); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		if err := tx.QueryRow(`SELECT version_id FROM model_slots WHERE slot = 'backup'`).Scan(&backupVersion); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}

		now := time.Now().Format(time.RFC3339)
		if _, err := tx.Exec(`UPDATE model_slots SET version_id = ?, updated_at = ? WHERE slot = 'current'`, backupVersion, now); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE model_slots SET version_id = ?, updated_at = ? WHERE slot = 'backup'`, currentVersion, now); err != nil {
			return err
		}
		rolledBack = true
		return nil
	})
	return rolledBack, err
}

func (s *Store) loadSlot(slot string) (*Artifact, error) {
	var versionID string
	row := s.db.QueryRow(`SELECT version_id FROM model_slots WHERE slot = ?`, slot)
	if err := row.Scan(&versionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoCurrentModel
		}
		return nil, err
	}
	return s.Load(versionID)
}

func (s *Store) writeArtifact(path string, a *Artifact) error {
	data, err := msgpack.Marshal(a)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (s *Store) readArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := msgpack.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func marshalStrings(ss []string) (string, error) {
	data, err := json.Marshal(ss)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func marshalMetrics(m Metrics) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
