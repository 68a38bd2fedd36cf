// Package journal persists routing decisions and their eventual rewards in
// SQLite. The journal is an audit trail and a context source: recent
// decision signals feed back into refinement as attention context.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	decision_id     TEXT PRIMARY KEY,
	task_id         TEXT NOT NULL,
	task_type       TEXT NOT NULL,
	provider        TEXT NOT NULL,
	model           TEXT NOT NULL,
	confidence      REAL NOT NULL,
	strategy        TEXT NOT NULL,
	collapse_policy TEXT NOT NULL,
	phase           TEXT NOT NULL,
	cache_hit       INTEGER NOT NULL DEFAULT 0,
	refine_steps    INTEGER NOT NULL DEFAULT 0,
	refine_conf     REAL NOT NULL DEFAULT 0,
	exec_time_ms    REAL NOT NULL DEFAULT 0,
	reward          REAL,
	reward_at       INTEGER,
	created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_task ON decisions(task_id);
CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at);
`

// Record is one journaled routing decision.
type Record struct {
	DecisionID     string
	TaskID         string
	TaskType       string
	Provider       string
	Model          string
	Confidence     float64
	Strategy       string
	CollapsePolicy string
	Phase          string
	CacheHit       bool
	RefineSteps    int
	RefineConf     float64
	ExecTimeMS     float64
	Reward         *float64
	CreatedAt      time.Time
}

// Journal manages the decision log in SQLite.
type Journal struct {
	db *sql.DB
}

// Open opens a SQLite database and runs migrations.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

// Append writes one decision record. A zero DecisionID gets a fresh UUID.
func (j *Journal) Append(rec *Record) error {
	if j == nil {
		return nil
	}
	if rec.DecisionID == "" {
		rec.DecisionID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := j.db.Exec(
		`INSERT INTO decisions (decision_id, task_id, task_type, provider, model,
			confidence, strategy, collapse_policy, phase, cache_hit,
			refine_steps, refine_conf, exec_time_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.DecisionID, rec.TaskID, rec.TaskType, rec.Provider, rec.Model,
		rec.Confidence, rec.Strategy, rec.CollapsePolicy, rec.Phase, boolToInt(rec.CacheHit),
		rec.RefineSteps, rec.RefineConf, rec.ExecTimeMS, rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// RecordReward backfills the shaped reward onto the task's latest decision.
func (j *Journal) RecordReward(taskID string, reward float64) error {
	if j == nil {
		return nil
	}
	res, err := j.db.Exec(
		`UPDATE decisions SET reward = ?, reward_at = ?
		 WHERE decision_id = (
			SELECT decision_id FROM decisions
			WHERE task_id = ? ORDER BY created_at DESC LIMIT 1
		 )`,
		reward, time.Now().UTC().UnixNano(), taskID,
	)
	if err != nil {
		return fmt.Errorf("update reward: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no decision found for task %q", taskID)
	}
	return nil
}

// Recent returns the newest n decisions, newest first.
func (j *Journal) Recent(n int) ([]Record, error) {
	if j == nil || n <= 0 {
		return nil, nil
	}
	rows, err := j.db.Query(
		`SELECT decision_id, task_id, task_type, provider, model,
			confidence, strategy, collapse_policy, phase, cache_hit,
			refine_steps, refine_conf, exec_time_ms, reward, created_at
		 FROM decisions ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var cacheHit int
		var reward sql.NullFloat64
		var createdNS int64
		if err := rows.Scan(&rec.DecisionID, &rec.TaskID, &rec.TaskType, &rec.Provider, &rec.Model,
			&rec.Confidence, &rec.Strategy, &rec.CollapsePolicy, &rec.Phase, &cacheHit,
			&rec.RefineSteps, &rec.RefineConf, &rec.ExecTimeMS, &reward, &createdNS); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		rec.CacheHit = cacheHit != 0
		if reward.Valid {
			v := reward.Float64
			rec.Reward = &v
		}
		rec.CreatedAt = time.Unix(0, createdNS).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentSignals flattens the newest n decisions into an interleaved
// confidence/reward signal vector for attention context. Unrewarded
// decisions contribute a neutral zero.
func (j *Journal) RecentSignals(n int) ([]float64, error) {
	recs, err := j.Recent(n)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(recs)*2)
	for _, rec := range recs {
		out = append(out, rec.Confidence)
		if rec.Reward != nil {
			out = append(out, *rec.Reward)
		} else {
			out = append(out, 0)
		}
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
