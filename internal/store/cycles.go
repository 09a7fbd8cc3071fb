package store

import (
	"context"
	"database/sql"
	"time"
)

type Cycle struct {
	ID               string    `json:"id"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt"`
	Cutoff           string    `json:"cutoff"`
	SeedMode         bool      `json:"seedMode"`
	Pages            int       `json:"pages"`
	Fetched          int       `json:"fetched"`
	Notified         int       `json:"notified"`
	Seeded           int       `json:"seeded"`
	Messages         int       `json:"messages"`
	DeliveryFailures int       `json:"deliveryFailures"`
	Status           string    `json:"status"` // ok | failed
	Error            string    `json:"error,omitempty"`
}

func RecordCycle(ctx context.Context, db *sql.DB, c Cycle) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO cycles(id, started_at, finished_at, cutoff, seed_mode, pages, fetched, notified, seeded, messages, delivery_failures, status, error)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  finished_at = excluded.finished_at,
  status = excluded.status,
  error = excluded.error;
`,
		c.ID,
		c.StartedAt.UTC().Format(time.RFC3339Nano),
		c.FinishedAt.UTC().Format(time.RFC3339Nano),
		c.Cutoff,
		boolInt(c.SeedMode),
		c.Pages, c.Fetched, c.Notified, c.Seeded, c.Messages, c.DeliveryFailures,
		c.Status, c.Error,
	)
	return err
}

// ListCycles returns the most recent cycles first.
func ListCycles(ctx context.Context, db *sql.DB, limit int) ([]Cycle, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
SELECT id, started_at, finished_at, cutoff, seed_mode, pages, fetched, notified, seeded, messages, delivery_failures, status, error
FROM cycles
ORDER BY started_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Cycle
	for rows.Next() {
		var c Cycle
		var started, finished string
		var seed int
		if err := rows.Scan(
			&c.ID,
			&started,
			&finished,
			&c.Cutoff,
			&seed,
			&c.Pages,
			&c.Fetched,
			&c.Notified,
			&c.Seeded,
			&c.Messages,
			&c.DeliveryFailures,
			&c.Status,
			&c.Error,
		); err != nil {
			return nil, err
		}
		c.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		c.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		c.SeedMode = seed != 0
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CycleLog adapts RecordCycle to the engine's history hook.
type CycleLog struct {
	DB *sql.DB
}

func (l CycleLog) Record(ctx context.Context, c Cycle) error {
	return RecordCycle(ctx, l.DB, c)
}
