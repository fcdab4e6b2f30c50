package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/VictorysHerald/RS-Event-score-counter-bot/internal/storage"
)

// Leaderboard column widths.
const (
	placeWidth  = 4
	nameWidth   = 25
	pointsWidth = 12
	runsWidth   = 4
)

// DefaultMaxMessageLength is the largest chunk Paginate produces unless configured otherwise.
const DefaultMaxMessageLength = 4000

const helpText = "/help                  Shows this message\n" +
	"/log_run               Takes RS LEVEL, STAR TYPE (rs|drs), POINTS and 1-4 PLAYERS to log the RS run\n" +
	"/leaderboard           Shows current leaderboard\n" +
	"/myscore               Shows your points and runs\n" +
	"/remove_run            Removes a RS run with a given ID\n" +
	"/remove_run_history    Removes every RS run and player\n"

// HelpText - static description of every command
func (s *LedgerService) HelpText() string {
	return helpText
}

// NameResolver maps a player id to a display name. ok is false when no name is known.
type NameResolver interface {
	DisplayName(ctx context.Context, playerID int64) (name string, ok bool)
}

// Placeholder is the name shown for a player whose name can't be resolved.
func Placeholder(playerID int64) string {
	return fmt.Sprintf("<@%d>", playerID)
}

// TruncateName cuts names wider than the name column and marks the cut with "...".
func TruncateName(name string) string {
	if utf8.RuneCountInString(name) <= nameWidth {
		return name
	}
	runes := []rune(name)
	return string(runes[:nameWidth-3]) + "..."
}

// FormatLeaderboard renders standings as a fixed-width table, one player per line.
// Places are consecutive even for tied players.
func FormatLeaderboard(ctx context.Context, standings []storage.Standing, names NameResolver) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-*s %-*s %-*s %-*s\n",
		placeWidth, "#", nameWidth, "Nickname", pointsWidth, "Points", runsWidth, "Runs")

	for i, st := range standings {
		name, ok := "", false
		if names != nil {
			name, ok = names.DisplayName(ctx, st.PlayerID)
		}
		if !ok || name == "" {
			name = Placeholder(st.PlayerID)
		}
		fmt.Fprintf(&b, "%-*s %-*s %-*.1f %-*d\n",
			placeWidth, fmt.Sprintf("%d.", i+1),
			nameWidth, TruncateName(name),
			pointsWidth, st.Points,
			runsWidth, st.RunCount)
	}
	return b.String()
}

// Paginate splits text into chunks of at most maxLen characters. It cuts
// purely by count, a chunk may end in the middle of a line.
func Paginate(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return []string{""}
	}

	parts := make([]string, 0, (len(runes)+maxLen-1)/maxLen)
	for i := 0; i < len(runes); i += maxLen {
		end := min(i+maxLen, len(runes))
		parts = append(parts, string(runes[i:end]))
	}
	return parts
}

// PaginateUTF16 is Paginate with the limit counted in UTF-16 code units, the
// unit Telegram measures messages in. A character outside the BMP counts as
// two and is never split across chunks.
func PaginateUTF16(text string, maxUnits int) []string {
	if maxUnits <= 0 {
		maxUnits = DefaultMaxMessageLength
	}
	if text == "" {
		return []string{""}
	}

	var parts []string
	start, units := 0, 0
	for i, r := range text {
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		if units > 0 && units+n > maxUnits {
			parts = append(parts, text[start:i])
			start, units = i, 0
		}
		units += n
	}
	return append(parts, text[start:])
}
