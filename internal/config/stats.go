package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Size is a width/height pair in map units.
type Size struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// GameStats holds the geometry and scoring rules shared by every match.
type GameStats struct {
	Map      Size    `yaml:"map"`
	Margin   float64 `yaml:"margin"`
	Ball     Size    `yaml:"ball"`
	Paddle   Size    `yaml:"paddle"`
	MaxScore int     `yaml:"maxScore"`
}

// DefaultGameStats returns the built-in geometry used when no stats file is configured.
func DefaultGameStats() GameStats {
	return GameStats{
		Map:      Size{Width: 800, Height: 600},
		Margin:   10,
		Ball:     Size{Width: 20, Height: 20},
		Paddle:   Size{Width: 20, Height: 100},
		MaxScore: 11,
	}
}

// LoadGameStats reads a YAML stats document, filling omitted fields from the defaults.
// An empty path yields the defaults.
func LoadGameStats(path string) (GameStats, error) {
	stats := DefaultGameStats()
	path = strings.TrimSpace(path)
	if path == "" {
		return stats, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return GameStats{}, fmt.Errorf("read game stats: %w", err)
	}
	//1.- Decode over the defaults so partial documents only override what they name.
	if err := yaml.Unmarshal(data, &stats); err != nil {
		return GameStats{}, fmt.Errorf("decode game stats: %w", err)
	}
	if err := stats.Validate(); err != nil {
		return GameStats{}, err
	}
	return stats, nil
}

// Validate rejects geometry the simulation cannot run with.
func (s GameStats) Validate() error {
	var problems []string
	if s.Map.Width <= 0 || s.Map.Height <= 0 {
		problems = append(problems, "map dimensions must be positive")
	}
	if s.Margin < 0 {
		problems = append(problems, "margin must be non-negative")
	}
	if s.Ball.Width <= 0 || s.Ball.Height <= 0 {
		problems = append(problems, "ball dimensions must be positive")
	}
	if s.Paddle.Width <= 0 || s.Paddle.Height <= 0 {
		problems = append(problems, "paddle dimensions must be positive")
	}
	if s.Paddle.Height+2*s.Margin >= s.Map.Height {
		problems = append(problems, "paddle does not fit between the margins")
	}
	if s.MaxScore <= 0 {
		problems = append(problems, "maxScore must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid game stats: %s", strings.Join(problems, "; "))
	}
	return nil
}
