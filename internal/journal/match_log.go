package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// InsertMatch stores one match record and returns its id
func (db *DB) InsertMatch(rec *MatchRecord) (int64, error) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	var id int64
	err := db.ExecTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			INSERT INTO match_log (
				session_id, template_id, operation, method, threshold,
				matched, score, x, y, match_count, duration_ms, recorded_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.SessionID, rec.TemplateID, rec.Operation, rec.Method, rec.Threshold,
			rec.Matched, rec.Score, rec.X, rec.Y, rec.Count,
			float64(rec.Duration)/float64(time.Millisecond), rec.RecordedAt)
		if err != nil {
			return fmt.Errorf("failed to insert match record: %w", err)
		}

		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}

	rec.ID = id
	return id, nil
}

// Recent returns up to limit records, newest first
func (db *DB) Recent(limit int) ([]*MatchRecord, error) {
	rows, err := db.conn.Query(`
		SELECT id, session_id, template_id, operation, method, threshold,
			matched, score, x, y, match_count, duration_ms, recorded_at
		FROM match_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent matches: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ForTemplate returns up to limit records for one template, newest first
func (db *DB) ForTemplate(templateID string, limit int) ([]*MatchRecord, error) {
	rows, err := db.conn.Query(`
		SELECT id, session_id, template_id, operation, method, threshold,
			matched, score, x, y, match_count, duration_ms, recorded_at
		FROM match_log
		WHERE template_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, templateID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches for %s: %w", templateID, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]*MatchRecord, error) {
	var records []*MatchRecord
	for rows.Next() {
		rec := &MatchRecord{}
		var score sql.NullFloat64
		var durationMs float64
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.TemplateID, &rec.Operation, &rec.Method,
			&rec.Threshold, &rec.Matched, &score, &rec.X, &rec.Y, &rec.Count,
			&durationMs, &rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan match record: %w", err)
		}
		if score.Valid {
			s := score.Float64
			rec.Score = &s
		}
		rec.Duration = time.Duration(durationMs * float64(time.Millisecond))
		records = append(records, rec)
	}
	return records, rows.Err()
}

// StatsByTemplate returns aggregates for every template in the journal, ordered by id
func (db *DB) StatsByTemplate() ([]TemplateStats, error) {
	rows, err := db.conn.Query(`
		SELECT template_id, calls, hits, avg_score, best_score, avg_duration_ms, last_seen
		FROM v_template_stats
		ORDER BY template_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query template stats: %w", err)
	}
	defer rows.Close()

	var stats []TemplateStats
	for rows.Next() {
		var s TemplateStats
		var avg, best sql.NullFloat64
		var lastSeen sql.NullString
		if err := rows.Scan(&s.TemplateID, &s.Calls, &s.Hits, &avg, &best, &s.AvgDurationMs, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan template stats: %w", err)
		}
		if avg.Valid {
			v := avg.Float64
			s.AvgScore = &v
		}
		if best.Valid {
			v := best.Float64
			s.BestScore = &v
		}
		if lastSeen.Valid {
			s.LastSeen = parseTimestamp(lastSeen.String)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// parseTimestamp reads a DATETIME value that came back untyped (aggregates lose the
// column type) using the driver's own layouts
func parseTimestamp(s string) time.Time {
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}
