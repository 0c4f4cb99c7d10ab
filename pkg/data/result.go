package data

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/x404xx/rescore/pkg/score"
)

const listLimitDefault = 50

// SaveResult appends one solve result to the history table.
func SaveResult(db *sql.DB, r *score.Result) error {
	if db == nil {
		return errors.New("database not initialized")
	}
	if r == nil {
		return errors.New("result is required")
	}

	var s sql.NullFloat64
	if r.Score != nil {
		s = sql.NullFloat64{Float64: *r.Score, Valid: true}
	}

	_, err := db.Exec(`INSERT INTO result
		(url, host, site_key, variant, action, token, score, raw_response, solved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.URL, r.Host, r.SiteKey, r.Variant, r.Action, r.Token, s,
		r.RawResponse, r.Solved.UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "failed to save result for: %s", r.URL)
	}
	return nil
}

// ListResults returns the most recent solve results, newest first.
func ListResults(db *sql.DB, limit int) ([]*score.Result, error) {
	if db == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = listLimitDefault
	}

	rows, err := db.Query(`SELECT url, host, site_key, variant, action, token, score, raw_response, solved
		FROM result ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query results")
	}
	defer rows.Close()

	list := make([]*score.Result, 0)
	for rows.Next() {
		var r score.Result
		var s sql.NullFloat64
		var solved string
		if err := rows.Scan(&r.URL, &r.Host, &r.SiteKey, &r.Variant, &r.Action,
			&r.Token, &s, &r.RawResponse, &solved); err != nil {
			return nil, errors.Wrap(err, "failed to scan result row")
		}
		if s.Valid {
			v := s.Float64
			r.Score = &v
		}
		if ts, err := time.Parse(time.RFC3339, solved); err == nil {
			r.Solved = ts
		}
		list = append(list, &r)
	}

	return list, rows.Err()
}
