package service

import (
	"context"
	"fmt"

	"github.com/garnizeh/mockprep/internal/traits"
)

// InitProfile gives a new user the neutral starting profile.
func (s *Service) InitProfile(ctx context.Context, userID int64) error {
	return s.store.SetTraits(ctx, userID, traits.Default(s.policy))
}

// Personality returns the user's trait profile.
func (s *Service) Personality(ctx context.Context, userID int64) (map[string]float64, error) {
	return s.store.GetTraits(ctx, userID)
}

// UpdatePersonality merges update into the stored profile. Invalid entries
// are reported as conflicts and skipped; if nothing valid remains the call
// fails with ErrInvalidInput.
func (s *Service) UpdatePersonality(ctx context.Context, userID int64, update map[string]float64) (traits.MergeResult, error) {
	current, err := s.store.GetTraits(ctx, userID)
	if err != nil {
		return traits.MergeResult{}, err
	}
	res := traits.Merge(current, update, s.policy.Max)
	if len(update) > 0 && len(res.Conflicts) == len(update) {
		return res, fmt.Errorf("%w: %v", ErrInvalidInput, res.Conflicts)
	}
	if len(res.Changes) == 0 {
		return res, nil
	}
	if err := s.store.SetTraits(ctx, userID, res.Merged); err != nil {
		return traits.MergeResult{}, err
	}
	s.logger.Info("personality updated", "user_id", userID, "changes", len(res.Changes))
	return res, nil
}
