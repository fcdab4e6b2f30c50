package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/VictorysHerald/RS-Event-score-counter-bot/internal/service"
	"github.com/VictorysHerald/RS-Event-score-counter-bot/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockLedgerService is a mock of service.LedgerServiceInterface
type MockLedgerService struct {
	mock.Mock
}

func (m *MockLedgerService) SubmitRun(ctx context.Context, sub service.RunSubmission) (*service.RunRecord, error) {
	args := m.Called(sub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RunRecord), args.Error(1)
}

func (m *MockLedgerService) RemoveRun(ctx context.Context, runID int) (*service.RemovalSummary, error) {
	args := m.Called(runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RemovalSummary), args.Error(1)
}

func (m *MockLedgerService) BuildLeaderboard(ctx context.Context) ([]storage.Standing, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.Standing), args.Error(1)
}

func (m *MockLedgerService) ClearHistory(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockLedgerService) PlayerScore(ctx context.Context, playerID int64) (*storage.Standing, error) {
	args := m.Called(playerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Standing), args.Error(1)
}

func (m *MockLedgerService) HelpText() string {
	args := m.Called()
	return args.String(0)
}

// MockMessageSender is a mock of the MessageSender interface
type MockMessageSender struct {
	mock.Mock
}

func (m *MockMessageSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	if msg, ok := args.Get(0).(tgbotapi.Message); ok {
		return msg, args.Error(1)
	}
	return tgbotapi.Message{}, args.Error(1)
}

func (m *MockMessageSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	args := m.Called(c)
	return nil, args.Error(1)
}

func (m *MockMessageSender) GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	args := m.Called(config)
	if member, ok := args.Get(0).(tgbotapi.ChatMember); ok {
		return member, args.Error(1)
	}
	return tgbotapi.ChatMember{}, args.Error(1)
}

func memberConfig(chatID, userID int64) tgbotapi.GetChatMemberConfig {
	return tgbotapi.GetChatMemberConfig{ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID}}
}

func textContains(parts ...string) any {
	return mock.MatchedBy(func(c tgbotapi.MessageConfig) bool {
		for _, p := range parts {
			if !strings.Contains(c.Text, p) {
				return false
			}
		}
		return true
	})
}

const chatID = int64(456)

func newTestHandler(maxLen int) (*Handler, *MockLedgerService, *MockMessageSender) {
	svc := new(MockLedgerService)
	sender := new(MockMessageSender)
	return NewHandler(sender, svc, maxLen, nil), svc, sender
}

func TestHandleLogRun(t *testing.T) {
	sub := service.RunSubmission{Level: 9, Variant: storage.VariantDouble, TotalPoints: 10, Participants: []int64{1, 2}}

	t.Run("run logged", func(t *testing.T) {
		handler, svc, sender := newTestHandler(0)
		svc.On("SubmitRun", sub).Return(&service.RunRecord{
			RunID: 3, Level: 9, Variant: storage.VariantDouble, TotalPoints: 10, Share: 5, Participants: []int64{1, 2},
		}, nil).Once()
		sender.On("GetChatMember", memberConfig(chatID, 1)).
			Return(tgbotapi.ChatMember{User: &tgbotapi.User{ID: 1, FirstName: "Ann", LastName: "<Lee>"}}, nil).Once()
		sender.On("GetChatMember", memberConfig(chatID, 2)).
			Return(tgbotapi.ChatMember{}, errors.New("user not found")).Once()
		sender.On("Send", textContains(
			"RS run logged", "RS level: 9", "Run type: DRS", "Points: 10", "Points per player: 5.0", "Run ID: 3",
			`<a href="tg://user?id=1">Ann &lt;Lee&gt;</a>`,
			`<a href="tg://user?id=2">&lt;@2&gt;</a>`,
		)).Return(tgbotapi.Message{}, nil).Once()

		handler.HandleLogRun(context.Background(), chatID, LogRunCommand{Submission: sub})

		svc.AssertExpectations(t)
		sender.AssertExpectations(t)
	})

	t.Run("duplicate player", func(t *testing.T) {
		handler, svc, sender := newTestHandler(0)
		svc.On("SubmitRun", sub).Return(nil, service.ErrDuplicateParticipant).Once()
		expected := htmlMessage(chatID, "<b>RS run wasn't logged</b>\nA run can't have a single player added to it more than once")
		sender.On("Send", expected).Return(tgbotapi.Message{}, nil).Once()

		handler.HandleLogRun(context.Background(), chatID, LogRunCommand{Submission: sub})

		svc.AssertExpectations(t)
		sender.AssertExpectations(t)
	})

	t.Run("no points", func(t *testing.T) {
		handler, svc, sender := newTestHandler(0)
		svc.On("SubmitRun", sub).Return(nil, service.ErrNonPositivePoints).Once()
		sender.On("Send", textContains("wasn't logged", "0 or less points")).Return(tgbotapi.Message{}, nil).Once()

		handler.HandleLogRun(context.Background(), chatID, LogRunCommand{Submission: sub})

		sender.AssertExpectations(t)
	})

	t.Run("storage failure shows generic text", func(t *testing.T) {
		handler, svc, sender := newTestHandler(0)
		svc.On("SubmitRun", sub).Return(nil, &service.StorageError{Op: "insert run", Err: errors.New("conn reset")}).Once()
		sender.On("Send", tgbotapi.NewMessage(chatID, genericFailureText)).Return(tgbotapi.Message{}, nil).Once()

		handler.HandleLogRun(context.Background(), chatID, LogRunCommand{Submission: sub})

		sender.AssertExpectations(t)
	})
}

func TestHandleLeaderboard(t *testing.T) {
	standings := []storage.Standing{
		{PlayerID: 1, Points: 30, RunCount: 2},
		{PlayerID: 2, Points: 10, RunCount: 1},
	}

	t.Run("single part", func(t *testing.T) {
		handler, svc, sender := newTestHandler(0)
		svc.On("BuildLeaderboard").Return(standings, nil).Once()
		sender.On("GetChatMember", memberConfig(chatID, int64(1))).
			Return(tgbotapi.ChatMember{User: &tgbotapi.User{ID: 1, UserName: "alpha"}}, nil).Once()
		sender.On("GetChatMember", memberConfig(chatID, int64(2))).
			Return(tgbotapi.ChatMember{User: &tgbotapi.User{ID: 2, FirstName: "Beta"}}, nil).Once()
		sender.On("Send", textContains("RS Event Leaderboard (Part 1 of 1)\n#    Nickname", "1.   alpha", "2.   Beta", "30.0")).
			Return(tgbotapi.Message{}, nil).Once()

		handler.HandleLeaderboard(context.Background(), chatID)

		svc.AssertExpectations(t)
		sender.AssertExpectations(t)
	})

	t.Run("split into parts", func(t *testing.T) {
		handler, svc, sender := newTestHandler(50)
		svc.On("BuildLeaderboard").Return(standings, nil).Once()
		sender.On("GetChatMember", mock.Anything).Return(tgbotapi.ChatMember{}, errors.New("nope"))
		// header and two rows are 3*49 characters
		sender.On("Send", textContains("(Part 1 of 3)")).Return(tgbotapi.Message{}, nil).Once()
		sender.On("Send", textContains("(Part 2 of 3)")).Return(tgbotapi.Message{}, nil).Once()
		sender.On("Send", textContains("(Part 3 of 3)")).Return(tgbotapi.Message{}, nil).Once()

		handler.HandleLeaderboard(context.Background(), chatID)

		sender.AssertExpectations(t)
	})

	t.Run("emoji names stay within the message limit", func(t *testing.T) {
		many := make([]storage.Standing, 90)
		for i := range many {
			many[i] = storage.Standing{PlayerID: int64(i + 1), Points: float64(100 - i), RunCount: 1}
		}

		handler, svc, sender := newTestHandler(0)
		svc.On("BuildLeaderboard").Return(many, nil).Once()
		for i, st := range many {
			name := "player"
			if i%4 == 0 {
				name = strings.Repeat("🔥", 10)
			}
			sender.On("GetChatMember", memberConfig(chatID, st.PlayerID)).
				Return(tgbotapi.ChatMember{User: &tgbotapi.User{ID: st.PlayerID, FirstName: name}}, nil).Once()
		}
		var sent []tgbotapi.MessageConfig
		sender.On("Send", mock.Anything).Run(func(args mock.Arguments) {
			sent = append(sent, args.Get(0).(tgbotapi.MessageConfig))
		}).Return(tgbotapi.Message{}, nil)

		handler.HandleLeaderboard(context.Background(), chatID)

		require.Len(t, sent, 2)
		var content strings.Builder
		for _, msg := range sent {
			assert.LessOrEqual(t, utf16Len(msg.Text), telegramMessageLimit)
			_, body, _ := strings.Cut(msg.Text, "\n")
			content.WriteString(body)
		}
		assert.True(t, strings.HasPrefix(content.String(), "#    Nickname"))
		assert.Equal(t, 91, strings.Count(content.String(), "\n"))
	})

	t.Run("failed part is reported", func(t *testing.T) {
		handler, svc, sender := newTestHandler(0)
		svc.On("BuildLeaderboard").Return(standings, nil).Once()
		sender.On("GetChatMember", mock.Anything).Return(tgbotapi.ChatMember{}, errors.New("nope"))
		sender.On("Send", textContains("(Part 1 of 1)")).Return(tgbotapi.Message{}, errors.New("Bad Request: message is too long")).Once()
		sender.On("Send", tgbotapi.NewMessage(chatID, genericFailureText)).Return(tgbotapi.Message{}, nil).Once()

		handler.HandleLeaderboard(context.Background(), chatID)

		sender.AssertExpectations(t)
	})

	t.Run("storage failure", func(t *testing.T) {
		handler, svc, sender := newTestHandler(0)
		svc.On("BuildLeaderboard").Return(nil, &service.StorageError{Op: "load standings", Err: errors.New("down")}).Once()
		sender.On("Send", textContains("Couldn't load the leaderboard")).Return(tgbotapi.Message{}, nil).Once()

		handler.HandleLeaderboard(context.Background(), chatID)

		sender.AssertExpectations(t)
	})
}

func TestHandleRemoveRun(t *testing.T) {
	t.Run("removed", func(t *testing.T) {
		handler, svc, sender := newTestHandler(0)
		svc.On("RemoveRun", 4).Return(&service.RemovalSummary{
			RunID: 4, Variant: storage.VariantStandard, PointsToRemove: 10.0 / 3.0, Participants: []int64{1, 2, 3},
		}, nil).Once()
		sender.On("GetChatMember", mock.Anything).Return(tgbotapi.ChatMember{}, errors.New("gone"))
		sender.On("Send", textContains("RS run removed", "Run ID: 4", "Run type: RS", "Points removed from each player: 3.333", "tg://user?id=3")).
			Return(tgbotapi.Message{}, nil).Once()

		handler.HandleRemoveRun(context.Background(), chatID, RemoveRunCommand{RunID: 4})

		svc.AssertExpectations(t)
		sender.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		handler, svc, sender := newTestHandler(0)
		svc.On("RemoveRun", 99).Return(nil, service.ErrRunNotFound).Once()
		expected := htmlMessage(chatID, "<b>RS run wasn't removed</b>\nRS run with ID: 99 doesn't exist")
		sender.On("Send", expected).Return(tgbotapi.Message{}, nil).Once()

		handler.HandleRemoveRun(context.Background(), chatID, RemoveRunCommand{RunID: 99})

		sender.AssertExpectations(t)
	})

	t.Run("invariant violation is generic", func(t *testing.T) {
		handler, svc, sender := newTestHandler(0)
		svc.On("RemoveRun", 5).Return(nil, service.ErrInvariantViolation).Once()
		sender.On("Send", tgbotapi.NewMessage(chatID, genericFailureText)).Return(tgbotapi.Message{}, nil).Once()

		handler.HandleRemoveRun(context.Background(), chatID, RemoveRunCommand{RunID: 5})

		sender.AssertExpectations(t)
	})
}

func TestHandleClearHistory(t *testing.T) {
	t.Run("cleared", func(t *testing.T) {
		handler, svc, sender := newTestHandler(0)
		svc.On("ClearHistory").Return(nil).Once()
		sender.On("Send", tgbotapi.NewMessage(chatID, "All RS runs have been removed")).Return(tgbotapi.Message{}, nil).Once()

		handler.HandleClearHistory(context.Background(), chatID)

		sender.AssertExpectations(t)
	})

	t.Run("failed", func(t *testing.T) {
		handler, svc, sender := newTestHandler(0)
		svc.On("ClearHistory").Return(&service.StorageError{Op: "delete runs", Err: errors.New("fk")}).Once()
		sender.On("Send", tgbotapi.NewMessage(chatID, clearFailureText)).Return(tgbotapi.Message{}, nil).Once()

		handler.HandleClearHistory(context.Background(), chatID)

		sender.AssertExpectations(t)
	})
}

func TestHandleMyScore(t *testing.T) {
	handler, svc, sender := newTestHandler(0)
	svc.On("PlayerScore", int64(7)).Return(&storage.Standing{PlayerID: 7, Points: 12.5, RunCount: 3}, nil).Once()
	svc.On("PlayerScore", int64(8)).Return(nil, service.ErrPlayerNotFound).Once()
	sender.On("Send", tgbotapi.NewMessage(chatID, "You have 12.5 points from 3 runs")).Return(tgbotapi.Message{}, nil).Once()
	sender.On("Send", tgbotapi.NewMessage(chatID, "You haven't taken part in any RS run yet.")).Return(tgbotapi.Message{}, nil).Once()

	handler.HandleMyScore(context.Background(), chatID, MyScoreCommand{PlayerID: 7})
	handler.HandleMyScore(context.Background(), chatID, MyScoreCommand{PlayerID: 8})

	svc.AssertExpectations(t)
	sender.AssertExpectations(t)
}

func TestHandleMessage(t *testing.T) {
	t.Run("help", func(t *testing.T) {
		handler, svc, sender := newTestHandler(0)
		svc.On("HelpText").Return("/help  Shows this message\n").Once()
		expected := tgbotapi.NewMessage(chatID, "Help (Part 1 of 1)\n/help  Shows this message\n")
		expected.Entities = []tgbotapi.MessageEntity{
			{Type: "bold", Offset: 0, Length: 18},
			{Type: "pre", Offset: 19, Length: 26},
		}
		sender.On("Send", expected).Return(tgbotapi.Message{}, nil).Once()

		handler.HandleMessage(context.Background(), commandMessage("/help"))

		sender.AssertExpectations(t)
	})

	t.Run("usage error replies with usage", func(t *testing.T) {
		handler, svc, sender := newTestHandler(0)
		sender.On("Send", mock.MatchedBy(func(c tgbotapi.MessageConfig) bool {
			return c.ReplyToMessageID == 7 && strings.Contains(c.Text, "Usage: /remove_run")
		})).Return(tgbotapi.Message{}, nil).Once()

		handler.HandleMessage(context.Background(), commandMessage("/remove_run abc"))

		svc.AssertNotCalled(t, "RemoveRun", mock.Anything)
		sender.AssertExpectations(t)
	})

	t.Run("unknown command is ignored", func(t *testing.T) {
		handler, _, sender := newTestHandler(0)

		handler.HandleMessage(context.Background(), commandMessage("/weather"))
		handler.HandleMessage(context.Background(), &tgbotapi.Message{Text: "hello", Chat: &tgbotapi.Chat{ID: chatID}})

		sender.AssertNotCalled(t, "Send", mock.Anything)
	})

	t.Run("log run goes to the service", func(t *testing.T) {
		handler, svc, sender := newTestHandler(0)
		sub := service.RunSubmission{Level: 5, Variant: storage.VariantStandard, TotalPoints: 0, Participants: []int64{555}}
		svc.On("SubmitRun", sub).Return(nil, service.ErrNonPositivePoints).Once()
		sender.On("Send", textContains("0 or less points")).Return(tgbotapi.Message{}, nil).Once()

		handler.HandleMessage(context.Background(), commandMessage("/log_run 5 rs 0 me"))

		svc.AssertExpectations(t)
		sender.AssertExpectations(t)
	})
}

func TestPreMessage(t *testing.T) {
	msg := preMessage(chatID, "Title", "1.   <@5>   ёж\n")

	assert.Equal(t, "Title\n1.   <@5>   ёж\n", msg.Text)
	assert.Empty(t, msg.ParseMode)
	assert.Equal(t, []tgbotapi.MessageEntity{
		{Type: "bold", Offset: 0, Length: 5},
		{Type: "pre", Offset: 6, Length: 15},
	}, msg.Entities)
}

func TestFormatPoints(t *testing.T) {
	assert.Equal(t, "5", formatPoints(5))
	assert.Equal(t, "2.5", formatPoints(2.5))
	assert.Equal(t, "3.333", formatPoints(10.0/3.0))
	assert.Equal(t, "0.25", formatPoints(0.25))
}
