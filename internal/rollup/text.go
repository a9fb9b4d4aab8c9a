package rollup

import (
	"fmt"
	"strings"
	"time"
)

// TextOptions selects the optional rows of Lines.
type TextOptions struct {
	Total bool
	Stats bool
}

var titles = map[string]string{
	"massacre": "Massacre",
	"mining":   "Mining",
	"collect":  "Collect",
	"courier":  "Courier",
}

// Title returns the heading of a summary, e.g. "Massacre [3]".
func (s *Summary) Title() string {
	name, ok := titles[s.Kind]
	if !ok {
		name = s.Kind
	}
	return fmt.Sprintf("%s [%d]", name, s.Total.Missions)
}

// Lines renders s as plain text: the title, one row per group in key
// order, then the optional total and stats rows, then the warnings.
func (s *Summary) Lines(now time.Time, opts TextOptions) []string {
	lines := []string{s.Title()}
	for _, key := range s.Keys() {
		lines = append(lines, row(s.Groups[key]))
	}
	if s.Empty() {
		return append(lines, s.Warnings...)
	}
	if opts.Total {
		lines = append(lines, row(&s.Total))
	}
	if opts.Stats {
		all, shared := s.RewardRate()
		lines = append(lines,
			s.ExpiryText(now),
			fmt.Sprintf("Reward per unit: %.2fM (%.2fM shared)", all/1_000_000, shared/1_000_000),
		)
	}
	return append(lines, s.Warnings...)
}

func row(g *Group) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d/%d", g.Key, g.Progress, g.Target)
	if rem := g.Remaining(); rem > 0 {
		fmt.Fprintf(&b, " rem %d (%.0f%%)", rem, g.Percent())
	} else {
		b.WriteString(" done")
	}
	fmt.Fprintf(&b, " %sM (%sM)", FormatMillions(g.Reward), FormatMillions(g.ShareableReward))
	return b.String()
}
