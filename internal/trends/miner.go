// Package trends mines aggregate statistics from the emergency event log:
// how often each alert level is entered, how long the system dwells there and
// which triggers drive the transitions.
package trends

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/sentinelstack/guardian/internal/eventlog"
	"github.com/sentinelstack/guardian/internal/models"
)

// LevelTrend aggregates the history of one alert level.
type LevelTrend struct {
	Level        models.AlertLevel `json:"level"`
	Entries      int               `json:"entries"`
	LastEntered  time.Time         `json:"last_entered,omitempty"`
	MeanDwell    time.Duration     `json:"mean_dwell"`
	Triggers     map[string]int    `json:"triggers"`
	TopActions   []string          `json:"top_actions,omitempty"`
	actionCounts map[string]int
	totalDwell   time.Duration
	closedDwells int
}

// Report is one mining pass over the event log.
type Report struct {
	GeneratedAt   time.Time    `json:"generated_at"`
	Since         time.Time    `json:"since,omitempty"`
	Transitions   int          `json:"transitions"`
	Escalations   int          `json:"escalations"`
	Deescalations int          `json:"deescalations"`
	Levels        []LevelTrend `json:"levels"`
}

// Miner derives trend reports from the append-only event log.
type Miner struct {
	logger *slog.Logger
	log    eventlog.Store
}

// NewMiner constructs a miner over the given event store.
func NewMiner(logger *slog.Logger, log eventlog.Store) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{logger: logger, log: log}
}

// Mine replays events at or after since and aggregates them per level. Dwell
// time for a level is measured from entering it to the next transition away;
// the currently active level contributes no dwell sample.
func (m *Miner) Mine(ctx context.Context, since time.Time) (*Report, error) {
	events, err := m.log.Replay(ctx, since)
	if err != nil {
		return nil, err
	}

	report := &Report{
		GeneratedAt: time.Now().UTC(),
		Since:       since,
		Transitions: len(events),
	}
	if len(events) == 0 {
		return report, nil
	}

	byLevel := make(map[models.AlertLevel]*LevelTrend)
	ensure := func(level models.AlertLevel) *LevelTrend {
		trend, ok := byLevel[level]
		if !ok {
			trend = &LevelTrend{
				Level:        level,
				Triggers:     make(map[string]int),
				actionCounts: make(map[string]int),
			}
			byLevel[level] = trend
		}
		return trend
	}

	for i, ev := range events {
		if ev.ToLevel > ev.FromLevel {
			report.Escalations++
		} else {
			report.Deescalations++
		}

		trend := ensure(ev.ToLevel)
		trend.Entries++
		if ev.Timestamp.After(trend.LastEntered) {
			trend.LastEntered = ev.Timestamp
		}
		trend.Triggers[string(ev.Trigger)]++
		for _, action := range ev.ActionsTaken {
			trend.actionCounts[action]++
		}

		// The next transition closes this level's dwell interval.
		if i+1 < len(events) {
			if dwell := events[i+1].Timestamp.Sub(ev.Timestamp); dwell > 0 {
				trend.totalDwell += dwell
				trend.closedDwells++
			}
		}
	}

	report.Levels = make([]LevelTrend, 0, len(byLevel))
	for _, trend := range byLevel {
		if trend.closedDwells > 0 {
			trend.MeanDwell = trend.totalDwell / time.Duration(trend.closedDwells)
		}
		trend.TopActions = topActions(trend.actionCounts, 3)
		report.Levels = append(report.Levels, *trend)
	}
	sort.Slice(report.Levels, func(i, j int) bool {
		return report.Levels[i].Level < report.Levels[j].Level
	})

	m.logger.Debug("trend report mined",
		slog.Int("transitions", report.Transitions),
		slog.Int("levels", len(report.Levels)),
	)
	return report, nil
}

func topActions(counts map[string]int, limit int) []string {
	actions := make([]string, 0, len(counts))
	for action := range counts {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool {
		if counts[actions[i]] != counts[actions[j]] {
			return counts[actions[i]] > counts[actions[j]]
		}
		return actions[i] < actions[j]
	})
	if len(actions) > limit {
		actions = actions[:limit]
	}
	return actions
}
