package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/VictorysHerald/RS-Event-score-counter-bot/internal/service"
	"github.com/VictorysHerald/RS-Event-score-counter-bot/internal/storage"
)

const (
	minLevel      = 2
	maxLevel      = 12
	maxRunPlayers = 4
)

// ErrUnknownCommand - the message isn't a command this bot serves
var ErrUnknownCommand = errors.New("unknown command")

// UsageError - the command was recognized but its arguments are malformed
type UsageError struct {
	Reason string
	Usage  string
}

func (e *UsageError) Error() string {
	return e.Reason + "\nUsage: " + e.Usage
}

// Command is one of the commands below. The set is closed.
type Command interface {
	command()
}

type HelpCommand struct{}

type LogRunCommand struct {
	Submission service.RunSubmission
}

type LeaderboardCommand struct{}

type RemoveRunCommand struct {
	RunID int
}

type ClearHistoryCommand struct{}

type MyScoreCommand struct {
	PlayerID int64
}

func (HelpCommand) command()         {}
func (LogRunCommand) command()       {}
func (LeaderboardCommand) command()  {}
func (RemoveRunCommand) command()    {}
func (ClearHistoryCommand) command() {}
func (MyScoreCommand) command()      {}

const (
	logRunUsage    = "/log_run <level 2-12> <rs|drs> <points> <player1> [player2] [player3] [player4]\nA player is a mention, a numeric user ID or \"me\"."
	removeRunUsage = "/remove_run <run id>"
)

// ParseCommand turns a message into a typed command.
func ParseCommand(msg *tgbotapi.Message) (Command, error) {
	if msg == nil || !msg.IsCommand() {
		return nil, ErrUnknownCommand
	}

	switch msg.Command() {
	case "start", "help":
		return HelpCommand{}, nil
	case "log_run":
		return parseLogRun(msg)
	case "leaderboard", "show_leaderboard":
		return LeaderboardCommand{}, nil
	case "remove_run":
		return parseRemoveRun(msg)
	case "remove_run_history":
		return ClearHistoryCommand{}, nil
	case "myscore":
		if msg.From == nil {
			return nil, ErrUnknownCommand
		}
		return MyScoreCommand{PlayerID: msg.From.ID}, nil
	}
	return nil, ErrUnknownCommand
}

func parseLogRun(msg *tgbotapi.Message) (Command, error) {
	args, err := argumentTokens(msg)
	if err != nil {
		return nil, err
	}
	usage := func(format string, a ...any) error {
		return &UsageError{Reason: fmt.Sprintf(format, a...), Usage: logRunUsage}
	}

	if len(args) < 4 {
		return nil, usage("Not enough arguments")
	}
	if len(args) > 3+maxRunPlayers {
		return nil, usage("A RS run can have at most %d players", maxRunPlayers)
	}

	level, err := strconv.Atoi(args[0])
	if err != nil || level < minLevel || level > maxLevel {
		return nil, usage("RS level must be a number from %d to %d", minLevel, maxLevel)
	}

	variant, ok := parseVariant(args[1])
	if !ok {
		return nil, usage("Star type must be rs or drs, got %q", args[1])
	}

	points, err := strconv.Atoi(args[2])
	if err != nil {
		return nil, usage("Points must be a whole number, got %q", args[2])
	}

	players := make([]int64, 0, len(args)-3)
	for _, tok := range args[3:] {
		id, ok := parsePlayer(tok, msg.From)
		if !ok {
			return nil, usage("Unknown player %q", tok)
		}
		players = append(players, id)
	}

	return LogRunCommand{Submission: service.RunSubmission{
		Level:        level,
		Variant:      variant,
		TotalPoints:  points,
		Participants: players,
	}}, nil
}

func parseRemoveRun(msg *tgbotapi.Message) (Command, error) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 1 {
		return nil, &UsageError{Reason: "Expected exactly one run ID", Usage: removeRunUsage}
	}
	runID, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, &UsageError{Reason: fmt.Sprintf("Run ID must be a number, got %q", args[0]), Usage: removeRunUsage}
	}
	return RemoveRunCommand{RunID: runID}, nil
}

func parseVariant(s string) (storage.Variant, bool) {
	switch strings.ToLower(s) {
	case "rs", "0":
		return storage.VariantStandard, true
	case "drs", "1":
		return storage.VariantDouble, true
	}
	return 0, false
}

func parsePlayer(tok string, sender *tgbotapi.User) (int64, bool) {
	if strings.EqualFold(tok, "me") {
		if sender == nil {
			return 0, false
		}
		return sender.ID, true
	}
	id, err := strconv.ParseInt(tok, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// argumentTokens splits the command arguments into fields, with every text
// mention replaced by the mentioned user's ID. Entity offsets are in UTF-16 units.
func argumentTokens(msg *tgbotapi.Message) ([]string, error) {
	text := utf16.Encode([]rune(msg.Text))

	var b strings.Builder
	pos := 0
	for _, e := range msg.Entities {
		if e.Offset < pos || e.Offset+e.Length > len(text) {
			continue
		}
		switch e.Type {
		case "text_mention":
			if e.User == nil {
				continue
			}
			b.WriteString(string(utf16.Decode(text[pos:e.Offset])))
			fmt.Fprintf(&b, " %d ", e.User.ID)
			pos = e.Offset + e.Length
		case "mention":
			name := string(utf16.Decode(text[e.Offset : e.Offset+e.Length]))
			return nil, &UsageError{
				Reason: fmt.Sprintf("Can't tell who %s is, pick the player from the mention list or use a numeric ID", name),
				Usage:  logRunUsage,
			}
		}
	}
	b.WriteString(string(utf16.Decode(text[pos:])))

	fields := strings.Fields(b.String())
	if len(fields) > 0 {
		// the command itself
		fields = fields[1:]
	}
	return fields, nil
}
