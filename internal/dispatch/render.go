package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/rolecall/internal/catalog"
	"github.com/ashureev/rolecall/internal/roleplay"
)

var medals = []string{"1st", "2nd", "3rd"}

func renderUnknownMode(modes []catalog.Mode) string {
	var b strings.Builder
	b.WriteString("Unknown mode! Available modes:\n")
	for _, m := range modes {
		fmt.Fprintf(&b, "%s - %s\n", m.ID, m.Name)
	}
	b.WriteString("\nExample: /start_rp battle")
	return b.String()
}

func renderSelectorIntro(s roleplay.Session, window time.Duration) string {
	return fmt.Sprintf("The roleplay is starting!\n\nMode: %s\nTime to join: %d sec\n\nPick a character below:",
		s.Theme, remaining(window))
}

func renderSelectorProgress(s roleplay.Session, left time.Duration) string {
	return fmt.Sprintf("The roleplay is starting!\n\nMode: %s\nTime left: %d sec\nPlayers:\n%s\n\nPick a character below:",
		s.Theme, remaining(left), renderCast(s.Participants))
}

func renderCast(players []roleplay.Participant) string {
	if len(players) == 0 {
		return "- nobody yet"
	}
	lines := make([]string, 0, len(players))
	for _, p := range players {
		lines = append(lines, fmt.Sprintf("- %s (%s)", p.Character, p.Profile.DisplayName()))
	}
	return strings.Join(lines, "\n")
}

func renderStarted(headline string, s roleplay.Session, narration string) string {
	return fmt.Sprintf("%s\n\nPlayers:\n%s\n\nThe story begins:\n%s\n\nWrite your messages in character! A moderator ends the story with /stop_rp.",
		headline, renderCast(s.Participants), narration)
}

func renderSummary(s roleplay.Session, sum roleplay.Summary) string {
	var b strings.Builder
	b.WriteString("The roleplay is over!\n\nPlayers:\n")
	b.WriteString(renderCast(s.Participants))
	fmt.Fprintf(&b, "\n\nSession stats:\n- Players: %d\n- Messages: %d\n- Duration: %d min\n",
		sum.TotalPlayers, sum.TotalMessages, int(sum.Duration/time.Minute))
	if len(sum.TopPlayers) > 0 {
		b.WriteString("\nMost active:\n")
		for i, p := range sum.TopPlayers {
			fmt.Fprintf(&b, "%s %s (%s) - %d messages\n", medals[i], p.Character, p.Profile.DisplayName(), p.MessageCount)
		}
	}
	b.WriteString("\nThank you all for playing!")
	return b.String()
}
