package matchmaking

import "context"

// tierNames are the rank buckets of 100 points each; the last one is open ended.
var tierNames = []string{"BRONZE", "SILVER", "GOLD", "PLATINUM", "DIAMOND"}

// Tier is the display form of a rank.
type Tier struct {
	Name   string `json:"tier"`
	Points int    `json:"rank_points"`
}

// TierFor buckets points. The top tier reports absolute points, the others the progress
// inside their bucket.
func TierFor(points int) Tier {
	bucket := points / 100
	if points < 0 {
		bucket = 0
	}
	top := len(tierNames) - 1
	if bucket >= top {
		return Tier{Name: tierNames[top], Points: points}
	}
	return Tier{Name: tierNames[bucket], Points: points % 100}
}

// RankSource looks up the rank points of a user by e-mail.
type RankSource interface {
	Rank(ctx context.Context, email string) (int, error)
}

// StaticRanks is a fixed RankSource.
type StaticRanks map[string]int

func (s StaticRanks) Rank(_ context.Context, email string) (int, error) {
	points, ok := s[email]
	if !ok {
		return 0, ErrRankNotFound
	}
	return points, nil
}
