package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"irisserve/serving"
)

const schema = `
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        request_id TEXT,
        sepal_length REAL NOT NULL,
        sepal_width REAL NOT NULL,
        petal_length REAL NOT NULL,
        petal_width REAL NOT NULL,
        species VARCHAR(20) NOT NULL,
        confidence REAL NOT NULL,
        p_setosa REAL NOT NULL,
        p_versicolor REAL NOT NULL,
        p_virginica REAL NOT NULL,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
    CREATE TABLE IF NOT EXISTS model_loads (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        path TEXT NOT NULL,
        state VARCHAR(20) NOT NULL,
        model_type VARCHAR(50),
        attempts INTEGER DEFAULT 0,
        duration_ms REAL DEFAULT 0,
        error TEXT,
        created_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_name VARCHAR(50),
        accuracy REAL,
        trained_at DATETIME,
        data_points INTEGER,
        artifact_path TEXT
    );
    `

var ErrClosed = errors.New("audit log closed")

// AuditLog records predictions, model loads and training runs in SQLite.
type AuditLog struct {
	db *sql.DB
}

type PredictionRecord struct {
	RequestID     string     `json:"request_id,omitempty"`
	Features      [4]float64 `json:"features"`
	Species       string     `json:"species"`
	Confidence    float64    `json:"confidence"`
	Probabilities [3]float64 `json:"probabilities"`
	CreatedAt     time.Time  `json:"created_at"`
}

type ModelLoadRecord struct {
	Path       string    `json:"path"`
	State      string    `json:"state"`
	ModelType  string    `json:"model_type"`
	Attempts   int       `json:"attempts"`
	DurationMs float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type TrainingLog struct {
	ModelName    string    `json:"model_name"`
	Accuracy     float64   `json:"accuracy"`
	TrainedAt    time.Time `json:"trained_at"`
	DataPoints   int       `json:"data_points"`
	ArtifactPath string    `json:"artifact_path"`
}

// OpenAuditLog opens or creates the database at path.
func OpenAuditLog(path string) (*AuditLog, error) {
	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// One connection: sqlite has a single writer.
	database.SetMaxOpenConns(1)

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, err
	}
	return &AuditLog{db: database}, nil
}

func (a *AuditLog) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *AuditLog) RecordPrediction(ctx context.Context, rec PredictionRecord) error {
	if a == nil || a.db == nil {
		return ErrClosed
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := a.db.ExecContext(ctx, `
        INSERT INTO predictions (
            request_id, sepal_length, sepal_width, petal_length, petal_width,
            species, confidence, p_setosa, p_versicolor, p_virginica, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID,
		rec.Features[0], rec.Features[1], rec.Features[2], rec.Features[3],
		rec.Species, rec.Confidence,
		rec.Probabilities[0], rec.Probabilities[1], rec.Probabilities[2],
		rec.CreatedAt,
	)
	return err
}

// RecentPredictions returns up to limit predictions, newest first.
func (a *AuditLog) RecentPredictions(ctx context.Context, limit int) ([]PredictionRecord, error) {
	if a == nil || a.db == nil {
		return nil, ErrClosed
	}
	rows, err := a.db.QueryContext(ctx, `
        SELECT request_id, sepal_length, sepal_width, petal_length, petal_width,
               species, confidence, p_setosa, p_versicolor, p_virginica, created_at
        FROM predictions
        ORDER BY id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]PredictionRecord, 0)
	for rows.Next() {
		var rec PredictionRecord
		var requestID sql.NullString
		if err := rows.Scan(&requestID,
			&rec.Features[0], &rec.Features[1], &rec.Features[2], &rec.Features[3],
			&rec.Species, &rec.Confidence,
			&rec.Probabilities[0], &rec.Probabilities[1], &rec.Probabilities[2],
			&rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.RequestID = requestID.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (a *AuditLog) RecordModelLoad(ctx context.Context, rec ModelLoadRecord) error {
	if a == nil || a.db == nil {
		return ErrClosed
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := a.db.ExecContext(ctx, `
        INSERT INTO model_loads (path, state, model_type, attempts, duration_ms, error, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Path, rec.State, rec.ModelType, rec.Attempts, rec.DurationMs, rec.Error, rec.CreatedAt)
	return err
}

func (a *AuditLog) ModelLoads(ctx context.Context) ([]ModelLoadRecord, error) {
	if a == nil || a.db == nil {
		return nil, ErrClosed
	}
	rows, err := a.db.QueryContext(ctx, `
        SELECT path, state, model_type, attempts, duration_ms, error, created_at
        FROM model_loads
        ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]ModelLoadRecord, 0)
	for rows.Next() {
		var rec ModelLoadRecord
		var modelType, loadErr sql.NullString
		if err := rows.Scan(&rec.Path, &rec.State, &modelType, &rec.Attempts, &rec.DurationMs, &loadErr, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.ModelType = modelType.String
		rec.Error = loadErr.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// OnModelState implements serving.LoadObserver. Only terminal states are
// recorded.
func (a *AuditLog) OnModelState(event serving.LoadEvent) {
	if event.State != serving.StateReady && event.State != serving.StateFailed {
		return
	}
	rec := ModelLoadRecord{
		Path:       event.Path,
		State:      event.State.String(),
		ModelType:  event.ModelType,
		Attempts:   event.Attempts,
		DurationMs: float64(event.Duration.Microseconds()) / 1000,
	}
	if event.Err != nil {
		rec.Error = event.Err.Error()
	}
	_ = a.RecordModelLoad(context.Background(), rec)
}

func (a *AuditLog) SaveTrainingLog(ctx context.Context, log TrainingLog) error {
	if a == nil || a.db == nil {
		return ErrClosed
	}
	if log.TrainedAt.IsZero() {
		log.TrainedAt = time.Now().UTC()
	}
	_, err := a.db.ExecContext(ctx, `
        INSERT INTO training_log (model_name, accuracy, trained_at, data_points, artifact_path)
        VALUES (?, ?, ?, ?, ?)`,
		log.ModelName, log.Accuracy, log.TrainedAt, log.DataPoints, log.ArtifactPath)
	return err
}

func (a *AuditLog) LoadTrainingLog(ctx context.Context) ([]TrainingLog, error) {
	if a == nil || a.db == nil {
		return nil, ErrClosed
	}
	rows, err := a.db.QueryContext(ctx, `
        SELECT model_name, accuracy, trained_at, data_points, artifact_path
        FROM training_log
        ORDER BY trained_at DESC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		var artifactPath sql.NullString
		if err := rows.Scan(&log.ModelName, &log.Accuracy, &log.TrainedAt, &log.DataPoints, &artifactPath); err != nil {
			return nil, err
		}
		log.ArtifactPath = artifactPath.String
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
