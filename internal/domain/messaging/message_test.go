package messaging

import (
	"errors"
	"strings"
	"testing"

	"github.com/campus/messaging/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestMessage_ToggleReaction(t *testing.T) {
	m := &Message{ID: 1}
	u1, u2 := uuid.New(), uuid.New()

	assert.True(t, m.ToggleReaction("👍", u1))
	assert.True(t, m.ToggleReaction("👍", u2))
	assert.Equal(t, []uuid.UUID{u1, u2}, m.Reactions["👍"])

	assert.False(t, m.ToggleReaction("👍", u1))
	assert.Equal(t, []uuid.UUID{u2}, m.Reactions["👍"])

	assert.False(t, m.ToggleReaction("👍", u2))
	assert.NotContains(t, m.Reactions, "👍")
}

func TestPageQuery_Normalize(t *testing.T) {
	zero := int64(0)
	before := int64(40)

	q := PageQuery{Limit: 1000, Offset: -1, Before: &zero}.Normalize(50, 100)
	assert.Equal(t, 100, q.Limit)
	assert.Equal(t, 0, q.Offset)
	assert.Nil(t, q.Before)

	q = PageQuery{Before: &before}.Normalize(50, 100)
	assert.Equal(t, 50, q.Limit)
	assert.Equal(t, "50:40:0", q.CacheKey())
	assert.Equal(t, "20:-:5", PageQuery{Limit: 20, Offset: 5}.CacheKey())
}

func TestMessagePage_NextBefore(t *testing.T) {
	page := &MessagePage{Messages: []Message{{ID: 9}, {ID: 7}}, HasMore: true}
	assert.Equal(t, int64(7), *page.NextBefore())

	page.HasMore = false
	assert.Nil(t, page.NextBefore())
}

func TestAppendCommand_Validate(t *testing.T) {
	conv, sender := uuid.New(), uuid.New()

	tests := []struct {
		name    string
		cmd     AppendCommand
		wantErr bool
		check   func(t *testing.T, cmd AppendCommand)
	}{
		{
			name: "text defaults type and trims",
			cmd:  AppendCommand{ConversationID: conv, SenderID: sender, Content: "  hi  "},
			check: func(t *testing.T, cmd AppendCommand) {
				assert.Equal(t, MessageText, cmd.Type)
				assert.Equal(t, "hi", cmd.Content)
			},
		},
		{
			name: "file without text",
			cmd:  AppendCommand{ConversationID: conv, SenderID: sender, Type: MessageFile, File: &FileRef{URL: "https://cdn/x.pdf", Name: "x.pdf"}},
		},
		{name: "empty body", cmd: AppendCommand{ConversationID: conv, SenderID: sender, Content: "   "}, wantErr: true},
		{name: "image without file", cmd: AppendCommand{ConversationID: conv, SenderID: sender, Type: MessageImage, Content: "look"}, wantErr: true},
		{name: "blank file url dropped", cmd: AppendCommand{ConversationID: conv, SenderID: sender, Type: MessageFile, File: &FileRef{URL: " "}}, wantErr: true},
		{name: "unknown type", cmd: AppendCommand{ConversationID: conv, SenderID: sender, Type: "video", Content: "x"}, wantErr: true},
		{name: "too long", cmd: AppendCommand{ConversationID: conv, SenderID: sender, Content: strings.Repeat("a", MaxContentLength+1)}, wantErr: true},
		{name: "missing sender", cmd: AppendCommand{ConversationID: conv, Content: "x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := tt.cmd
			err := cmd.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, shared.ErrValidation))
				return
			}
			assert.NoError(t, err)
			if tt.check != nil {
				tt.check(t, cmd)
			}
		})
	}
}

func TestOtherCommands_Validate(t *testing.T) {
	yes := true

	assert.Error(t, (&EditCommand{MessageID: 1, Content: " "}).Validate())
	assert.Error(t, (&EditCommand{Content: "x"}).Validate())
	assert.NoError(t, (&EditCommand{MessageID: 1, Content: "x"}).Validate())

	assert.Error(t, (&ConversationFlagsCommand{ConversationID: uuid.New()}).Validate())
	assert.NoError(t, (&ConversationFlagsCommand{ConversationID: uuid.New(), Pinned: &yes}).Validate())

	assert.Error(t, (&ReactCommand{MessageID: 1, Emoji: ""}).Validate())
	assert.NoError(t, (&ReactCommand{MessageID: 1, Emoji: "🎉"}).Validate())
}

func TestEventType_IsInbound(t *testing.T) {
	assert.True(t, EventSendMessage.IsInbound())
	assert.True(t, EventUserLogout.IsInbound())
	assert.False(t, EventNewMessage.IsInbound())
	assert.False(t, EventType("drop_tables").IsInbound())
}
