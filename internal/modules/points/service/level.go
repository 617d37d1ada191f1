package service

import "math"

const (
	MinLevel       = 1
	MaxLevel       = 100
	pointsPerLevel = 100
)

// LevelStatus describes where a lifetime points total sits between two levels.
type LevelStatus struct {
	Level              int     `json:"level"`
	CurrentLevelPoints int64   `json:"currentLevelPoints"`
	NextLevelPoints    int64   `json:"nextLevelPoints"`
	Progress           float64 `json:"progress"` // Percentage toward the next level (0-100)
	MaxLevel           bool    `json:"maxLevel"`
}

// LevelFor maps lifetime points to a level: floor(sqrt(points/100)) + 1, clamped to [1, 100].
// Negative input is treated as zero.
func LevelFor(points int64) int {
	if points <= 0 {
		return MinLevel
	}
	level := isqrt(points/pointsPerLevel) + 1
	if level > MaxLevel {
		return MaxLevel
	}
	return int(level)
}

// PointsForLevel returns the minimum lifetime points needed to reach level.
func PointsForLevel(level int) int64 {
	if level <= MinLevel {
		return 0
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	steps := int64(level - 1)
	return steps * steps * pointsPerLevel
}

// LevelProgress reports the level for points and the progress toward the next one.
func LevelProgress(points int64) LevelStatus {
	if points < 0 {
		points = 0
	}
	level := LevelFor(points)
	status := LevelStatus{
		Level:              level,
		CurrentLevelPoints: PointsForLevel(level),
	}

	if level == MaxLevel {
		status.NextLevelPoints = status.CurrentLevelPoints
		status.Progress = 100
		status.MaxLevel = true
		return status
	}

	status.NextLevelPoints = PointsForLevel(level + 1)
	span := float64(status.NextLevelPoints - status.CurrentLevelPoints)
	status.Progress = float64(points-status.CurrentLevelPoints) / span * 100

	// Round progress to 2 decimal places
	status.Progress = math.Round(status.Progress*100) / 100

	return status
}

// isqrt is the integer floor square root, exact for the whole int64 range.
func isqrt(n int64) int64 {
	if n < 2 {
		return n
	}
	r := int64(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}
