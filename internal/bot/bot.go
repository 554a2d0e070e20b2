package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/nick5616/batch-item-analyzer/internal/chat"
	"github.com/nick5616/batch-item-analyzer/internal/storage"
)

// BotAPI defines the interface for Telegram bot API operations.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Bot is the main Telegram bot handler.
type Bot struct {
	tg       BotAPI
	state    BotState
	store    storage.Store
	analyzer chat.Analyzer
}

// NewBot creates a new Bot instance.
func NewBot(tg BotAPI, store storage.Store, analyzer chat.Analyzer) *Bot {
	bot := &Bot{
		tg:       tg,
		store:    store,
		analyzer: analyzer,
	}
	bot.state = bot.NewBotState()
	return bot
}

// Shutdown stops all session workers gracefully.
func (b *Bot) Shutdown() {
	b.state.Shutdown()
}

// HandleUpdate is the main message router.
// It dispatches messages to the appropriate session worker for sequential processing.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, false)
}

// handleUpdateSync is like HandleUpdate but waits for message processing to complete.
// Used in tests where we need synchronous behavior.
func (b *Bot) handleUpdateSync(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, true)
}

// dispatchUpdate routes updates to the appropriate session worker.
// If sync is true, it waits for message processing to complete.
func (b *Bot) dispatchUpdate(ctx context.Context, update tgbotapi.Update, sync bool) {
	var userId int64

	if update.CallbackQuery != nil {
		userId = update.CallbackQuery.From.ID
	} else if update.Message != nil {
		userId = update.Message.From.ID
	} else {
		return
	}

	session := b.state.getUserSession(userId)

	send := func(msg SessionMessage) {
		if sync {
			session.SendSync(msg)
		} else {
			session.Send(msg)
		}
	}

	if update.CallbackQuery != nil {
		send(SessionMessage{
			Type:          "callback",
			Ctx:           ctx,
			CallbackQuery: update.CallbackQuery,
		})
		return
	}

	if update.Message != nil {
		log.Info().Str("text", update.Message.Text).Str("caption", update.Message.Caption).Msg("got message")

		if len(update.Message.Photo) > 0 {
			send(SessionMessage{
				Type:    "photo",
				Ctx:     ctx,
				Message: update.Message,
			})
		} else {
			send(SessionMessage{
				Type:    "text",
				Ctx:     ctx,
				Message: update.Message,
			})
		}
	}
}

// HandleSessionMessage implements MessageHandler interface.
// This is called by the session worker goroutine for sequential processing.
// No mutex locking is needed here since only one goroutine accesses session state.
func (b *Bot) HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage) {
	switch msg.Type {
	case "callback":
		b.handleCallbackQuery(ctx, session, msg.CallbackQuery)
	case "photo":
		b.handlePhotoMessage(ctx, session, msg.Message)
	case "text":
		b.handleTextMessage(ctx, session, msg.Message)
	case "album_timeout":
		b.handleAlbumTimeout(msg.Ctx, session, msg.AlbumBuffer)
	case "analysis_complete":
		b.handleAnalysisComplete(session, msg.Analysis)
	}
}

// handleTextMessage processes text messages. Anything that is not a command
// is treated as a question about the current selection.
// Called from session worker - no locking needed.
func (b *Bot) handleTextMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	if strings.HasPrefix(message.Text, "/") {
		b.handleCommand(ctx, session, message)
		return
	}
	b.handleQuestion(ctx, session, message.Text)
}

// handleCommand processes bot commands.
// Called from session worker - no locking needed.
func (b *Bot) handleCommand(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	command, args := parseCommand(message.Text)
	switch command {
	case "/start":
		session.reply(MsgStartPrompt)
	case "/key":
		b.handleKeyCommand(session, args)
	case "/clear":
		b.handleClearCommand(session)
	default:
		session.reply(MsgStartPrompt)
	}
}

// handleKeyCommand handles /key - view, set or delete the analysis API key.
func (b *Bot) handleKeyCommand(session *UserSession, args []string) {
	if len(args) == 0 {
		credential, err := b.store.GetCredential(session.userId)
		if err != nil {
			session.replyWithError(err)
			return
		}
		if credential != "" {
			session.reply(MsgCredentialSet)
		} else {
			session.reply(MsgCredentialUnset)
		}
		return
	}

	if len(args) == 1 && args[0] == "delete" {
		if err := b.store.DeleteCredential(session.userId); err != nil {
			session.replyWithError(err)
			return
		}
		session.reply(MsgCredentialDeleted)
		return
	}

	if err := b.store.SetCredential(session.userId, strings.Join(args, " ")); err != nil {
		session.replyWithError(err)
		return
	}
	session.reply(MsgCredentialSaved)
}

// handleClearCommand handles /clear - asks for confirmation before wiping
// the history.
func (b *Bot) handleClearCommand(session *UserSession) {
	if session.analyzing {
		session.reply(MsgBusyAnalyzing)
		return
	}
	if session.log.Len() == 0 {
		session.reply(MsgNothingToClear)
		return
	}

	msg := tgbotapi.MessageConfig{Text: MsgClearConfirm}
	msg.ReplyMarkup = makeClearConfirmKeyboard()
	sent := session.replyWithMessage(msg)
	session.clearConfirmMsgID = sent.MessageID
}

// handleCallbackQuery handles inline keyboard button presses.
// Called from session worker - no locking needed.
func (b *Bot) handleCallbackQuery(ctx context.Context, session *UserSession, query *tgbotapi.CallbackQuery) {
	// Answer the callback to remove the loading state
	callback := tgbotapi.NewCallback(query.ID, "")
	b.tg.Request(callback)

	if strings.HasPrefix(query.Data, "sel:") {
		b.handleToggleCallback(session, strings.TrimPrefix(query.Data, "sel:"))
	} else if strings.HasPrefix(query.Data, "clear:") {
		b.handleClearCallback(session, query)
	}
}

// handleClearCallback handles clear:yes / clear:no confirmation presses.
func (b *Bot) handleClearCallback(session *UserSession, query *tgbotapi.CallbackQuery) {
	if session.clearConfirmMsgID == 0 {
		// Stale confirmation, e.g. pressed twice
		return
	}
	if session.analyzing {
		session.reply(MsgBusyAnalyzing)
		return
	}

	// Remove the confirmation keyboard
	if query.Message != nil {
		edit := tgbotapi.NewEditMessageReplyMarkup(
			query.Message.Chat.ID,
			query.Message.MessageID,
			tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}},
		)
		b.tg.Request(edit)
	}
	session.clearConfirmMsgID = 0

	if query.Data != "clear:yes" {
		session.reply(MsgOk)
		return
	}

	session.log.Clear()
	session.selection.Clear()
	session.keyboardMsgIDs = make(map[string]int)
	session.replyAndRemoveCustomKeyboard(MsgHistoryCleared)
}
