// CLAUDE:SUMMARY Duration-tiered frame sampling plan: tier table, interval = max(base, duration/target), bounded frame count.
// Package frames samples still images from a muxed video at an interval
// chosen from the video's duration.
package frames

import (
	"math"
	"time"
)

// Tier is one row of the sampling table. A video falls in the first tier
// whose Below exceeds its duration; Below = 0 matches everything.
type Tier struct {
	Name     string        `yaml:"name" json:"name"`
	Below    time.Duration `yaml:"below" json:"below"`
	Interval time.Duration `yaml:"interval" json:"interval"`
	Target   int           `yaml:"target" json:"target"`
}

// DefaultTiers is the sampling table, shortest first.
var DefaultTiers = []Tier{
	{Name: "ultra_short", Below: 10 * time.Second, Interval: 1 * time.Second, Target: 10},
	{Name: "very_short", Below: 15 * time.Second, Interval: 2 * time.Second, Target: 10},
	{Name: "short", Below: 30 * time.Second, Interval: 3 * time.Second, Target: 15},
	{Name: "long", Below: 120 * time.Second, Interval: 4 * time.Second, Target: 30},
	{Name: "extended", Interval: 6 * time.Second, Target: 30},
}

// DefaultMaxFrames caps the target of every tier.
const DefaultMaxFrames = 30

// Strategy is the sampling plan for one video.
type Strategy struct {
	Tier     string        `json:"tier"`
	Duration time.Duration `json:"duration"`
	Interval time.Duration `json:"interval"`
	Target   int           `json:"target"`
	// Frames is the number of frames the plan extracts from t=0.
	Frames int `json:"frames"`
}

// Plan selects the tier of d and derives the final interval so that
// Frames never exceeds Target, even at tier edges.
func Plan(d time.Duration, tiers []Tier, maxFrames int) Strategy {
	if len(tiers) == 0 {
		tiers = DefaultTiers
	}
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	tier := tiers[len(tiers)-1]
	for _, t := range tiers {
		if t.Below == 0 || d < t.Below {
			tier = t
			break
		}
	}

	target := min(tier.Target, maxFrames)
	if target <= 0 {
		target = 1
	}
	interval := tier.Interval
	if d > 0 {
		// Rounded up so ceil(d/interval) stays within target.
		if spread := time.Duration(math.Ceil(float64(d) / float64(target))); spread > interval {
			interval = spread
		}
	}
	if interval <= 0 {
		interval = time.Second
	}

	return Strategy{
		Tier:     tier.Name,
		Duration: d,
		Interval: interval,
		Target:   target,
		Frames:   frameCount(d, interval, target),
	}
}

func frameCount(d, interval time.Duration, target int) int {
	if d <= 0 {
		return 1
	}
	n := int(math.Ceil(float64(d) / float64(interval)))
	return max(1, min(n, target))
}
