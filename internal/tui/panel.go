package tui

import (
	"fmt"
	"strings"

	"fable/internal/tracker"
)

const heartMeterWidth = 20

// RenderStatePanel draws the tracker panel body for one message's state.
// A nil state renders a placeholder so the panel footprint stays stable.
func RenderStatePanel(state *tracker.State, affinity tracker.AffinityConfig, theme Theme) string {
	if state == nil {
		return theme.MutedStyle.Render("no tracker state")
	}

	var lines []string
	appendScalar := func(label, value string) {
		if value == "" {
			return
		}
		lines = append(lines, theme.PanelTitleStyle.Render(label)+" "+value)
	}
	appendScalar("time:", state.Time)
	appendScalar("location:", state.Location)
	appendScalar("weather:", state.Weather)

	if state.Heart != nil {
		lines = append(lines, theme.PanelTitleStyle.Render("heart:")+" "+renderHeartMeter(*state.Heart, affinity, theme))
	}

	for _, c := range state.Characters {
		lines = append(lines, theme.PanelTitleStyle.Render(c.Name))
		for _, pair := range [][2]string{
			{"outfit", c.Outfit},
			{"state", c.State},
			{"position", c.Position},
			{"description", c.Description},
		} {
			if pair[1] != "" {
				lines = append(lines, "  "+theme.MutedStyle.Render(pair[0]+":")+" "+pair[1])
			}
		}
	}

	if len(lines) == 0 {
		return theme.MutedStyle.Render("no tracker state")
	}
	return strings.Join(lines, "\n")
}

// renderHeartMeter draws the affinity value as a filled bar with the raw
// number alongside.
func renderHeartMeter(value int, affinity tracker.AffinityConfig, theme Theme) string {
	affinity = affinity.Normalize()
	if value < 0 {
		value = 0
	}
	if value > affinity.Max {
		value = affinity.Max
	}

	filled := 0
	if affinity.Max > 0 {
		filled = value * heartMeterWidth / affinity.Max
	}
	if filled > heartMeterWidth {
		filled = heartMeterWidth
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", heartMeterWidth-filled)
	return theme.HeartStyle.Render(bar) + fmt.Sprintf(" %d/%d", value, affinity.Max)
}
