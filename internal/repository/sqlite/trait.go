package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// GetTraits returns the user's profile; a user without one gets an empty map.
func (r *SQLiteRepo) GetTraits(ctx context.Context, userID int64) (map[string]float64, error) {
	return getTraits(ctx, r.conn.GetConn(), userID)
}

// SetTraits replaces the stored profile with traits.
func (r *SQLiteRepo) SetTraits(ctx context.Context, userID int64, traits map[string]float64) error {
	return setTraits(ctx, r.conn.GetConn(), userID, traits)
}

func getTraits(ctx context.Context, ex execer, userID int64) (map[string]float64, error) {
	var raw string
	err := ex.QueryRowContext(ctx, `SELECT traits_json FROM trait_profiles WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]float64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get traits: %w", err)
	}

	out := map[string]float64{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, fmt.Errorf("decode traits: %w", err)
		}
	}
	return out, nil
}

func setTraits(ctx context.Context, ex execer, userID int64, traits map[string]float64) error {
	if traits == nil {
		traits = map[string]float64{}
	}
	b, err := json.Marshal(traits)
	if err != nil {
		return fmt.Errorf("encode traits: %w", err)
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO trait_profiles (user_id, traits_json, updated) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET traits_json = excluded.traits_json, updated = excluded.updated`,
		userID, string(b), now())
	if err != nil {
		return fmt.Errorf("set traits: %w", err)
	}
	return nil
}
