package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/nick5616/batch-item-analyzer/internal/chat"
	"github.com/nick5616/batch-item-analyzer/internal/storage"
)

// SessionMessage represents a message to be processed by the session worker.
type SessionMessage struct {
	Type string
	Ctx  context.Context
	Done chan struct{} // Closed when processing is complete (for synchronous dispatch)

	// Message data (only one is set based on Type)
	Message       *tgbotapi.Message
	CallbackQuery *tgbotapi.CallbackQuery
	Text          string
	AlbumBuffer   *AlbumBuffer     // For album_timeout messages
	Analysis      *AnalysisOutcome // For analysis_complete messages
}

// AnalysisOutcome carries the result of a background question submission
// back into the session worker.
type AnalysisOutcome struct {
	Response *chat.Response
	Err      error
}

// MessageSender abstracts the ability to send Telegram messages.
// This interface decouples UserSession from the full Bot struct,
// improving testability.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// AlbumPhoto holds a photo from an album with its Telegram data.
type AlbumPhoto struct {
	FileID string
	Width  int
	Height int
}

// AlbumBuffer collects photos from a Telegram album (MediaGroup) before
// they are turned into one batch.
type AlbumBuffer struct {
	MediaGroupID  string
	Photos        []AlbumPhoto
	Timer         *time.Timer
	FirstReceived time.Time
}

// MessageHandler is the interface for processing session messages.
// This allows the session to dispatch to external handlers without circular dependencies.
type MessageHandler interface {
	HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage)
}

// UserSession represents a user's session with the bot.
//
// Threading model:
//   - Each session has a dedicated worker goroutine that processes messages sequentially
//   - Message handlers (HandlePhoto, HandleQuestion, etc.) are called only from the
//     worker and can access session state without locks
//   - Background analysis goroutines never touch session state directly; they report
//     back via an analysis_complete session message
type UserSession struct {
	userId int64
	sender MessageSender

	// Worker channel for sequential message processing
	inbox   chan SessionMessage
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	handler MessageHandler // Set after construction to avoid circular deps

	// Conversation state, owned by the worker goroutine
	kv        *storage.UserKV
	log       *chat.ConversationLog
	selection *chat.Selection
	pipeline  *chat.Pipeline

	// Album photos buffered until the album timeout fires
	albumBuffer *AlbumBuffer

	// True while a question is being analyzed in the background
	analyzing    bool
	cancelTyping context.CancelFunc

	// Message IDs of the selection keyboards, by batch id, so toggles can
	// refresh them in place
	keyboardMsgIDs map[string]int

	// Message ID of a pending /clear confirmation, 0 if none
	clearConfirmMsgID int
}

// bufferAlbumPhoto adds a photo to the album buffer and (re)schedules the
// timeout that turns the buffer into a batch. A photo from a different album
// flushes the current buffer first. Called from the session worker.
func (s *UserSession) bufferAlbumPhoto(ctx context.Context, photo AlbumPhoto, mediaGroupID string, onFlush func(ctx context.Context, photos []AlbumPhoto)) {
	buffer := s.albumBuffer

	if buffer == nil || buffer.MediaGroupID != mediaGroupID {
		// If there's an existing buffer with photos from a different album, flush it first
		if buffer != nil && len(buffer.Photos) > 0 {
			if buffer.Timer != nil {
				buffer.Timer.Stop()
			}
			onFlush(ctx, buffer.Photos)
		}
		buffer = &AlbumBuffer{
			MediaGroupID:  mediaGroupID,
			Photos:        []AlbumPhoto{},
			FirstReceived: time.Now(),
		}
		s.albumBuffer = buffer
	}

	if len(buffer.Photos) < maxBatchPhotos {
		buffer.Photos = append(buffer.Photos, photo)
	}

	if buffer.Timer != nil {
		buffer.Timer.Stop()
	}

	// Dispatch through the worker channel so processing stays sequential
	capturedBuffer := buffer
	buffer.Timer = time.AfterFunc(albumBufferTimeout, func() {
		s.Send(SessionMessage{
			Type:        "album_timeout",
			Ctx:         ctx,
			AlbumBuffer: capturedBuffer,
		})
	})
}

// takeAlbumBuffer validates that the timed-out buffer is still current,
// clears it and returns its photos. Returns nil if the buffer is stale or
// empty. Called from the session worker.
func (s *UserSession) takeAlbumBuffer(albumBuffer *AlbumBuffer) []AlbumPhoto {
	if s.albumBuffer != albumBuffer {
		return nil
	}

	photos := albumBuffer.Photos
	s.albumBuffer = nil

	if len(photos) == 0 {
		return nil
	}
	return photos
}

func (s *UserSession) replyWithError(err error) tgbotapi.Message {
	log.Error().Stack().Err(err).Send()
	return s._reply(formatReplyText(MsgUnexpectedErr, err), false)
}

// sendTypingAction sends a "typing" chat action to show the user that the bot is processing.
// The typing indicator automatically expires after ~5 seconds in Telegram.
func (s *UserSession) sendTypingAction() {
	action := tgbotapi.NewChatAction(s.userId, tgbotapi.ChatTyping)
	// Use Request instead of Send because sendChatAction returns a boolean, not a Message
	_, err := s.sender.Request(action)
	if err != nil {
		log.Debug().Err(err).Int64("userId", s.userId).Msg("failed to send typing action")
	}
}

// startTypingLoop sends a typing action every 4 seconds until the context is
// cancelled. This keeps the typing indicator visible while the analysis fan-out
// runs. Run this in a goroutine and cancel the context when done.
func (s *UserSession) startTypingLoop(ctx context.Context) {
	s.sendTypingAction()

	ticker := time.NewTicker(4 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendTypingAction()
		}
	}
}

func (s *UserSession) replyWithMessage(msg tgbotapi.MessageConfig) tgbotapi.Message {
	msg.ChatID = s.userId
	sent, err := s.sender.Send(msg)
	if err != nil {
		log.Error().Stack().
			Interface("msg", msg).
			Err(fmt.Errorf("failed to send reply message: %w", err)).Send()
	} else {
		log.Info().Interface("msg", msg).Interface("sent", sent).Msg("sent message")
	}

	return sent
}

func (s *UserSession) _reply(text string, removeReplyKeyboard bool) tgbotapi.Message {
	msg := tgbotapi.MessageConfig{
		Text:      text,
		ParseMode: tgbotapi.ModeMarkdown,
	}

	if removeReplyKeyboard {
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	}

	return s.replyWithMessage(msg)
}

func (s *UserSession) reply(text string, a ...any) tgbotapi.Message {
	return s._reply(formatReplyText(text, a...), false)
}

// replyAndRemoveCustomKeyboard sends a text as reply while removing any
// existing custom reply keyboard. In telegram, bot's custom keyboards will
// remain as long as a new one is sent or the current one is removed. If
// not removed manually, you will often see custom keyboards that are no
// longer valid in the context.
func (s *UserSession) replyAndRemoveCustomKeyboard(text string, a ...any) tgbotapi.Message {
	return s._reply(formatReplyText(text, a...), true)
}

// --- Worker methods ---

// StartWorker starts the session's message processing worker goroutine.
// Must be called after setting the handler.
func (s *UserSession) StartWorker() {
	s.wg.Add(1)
	go s.runWorker()
}

// SetHandler sets the message handler for this session.
func (s *UserSession) SetHandler(handler MessageHandler) {
	s.handler = handler
}

// runWorker is the main worker loop that processes messages sequentially.
func (s *UserSession) runWorker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			// Drain any remaining messages and signal completion
			for {
				select {
				case msg := <-s.inbox:
					if msg.Done != nil {
						close(msg.Done)
					}
				default:
					return
				}
			}
		case msg := <-s.inbox:
			s.processMessage(msg)
		}
	}
}

// processMessage handles a single message from the inbox.
func (s *UserSession) processMessage(msg SessionMessage) {
	defer func() {
		// Recover from any panics to keep the worker running
		if r := recover(); r != nil {
			log.Error().
				Int64("userId", s.userId).
				Interface("panic", r).
				Msg("recovered from panic in session worker")
		}
		if msg.Done != nil {
			close(msg.Done)
		}
	}()

	if s.handler == nil {
		log.Error().Int64("userId", s.userId).Msg("session handler not set")
		return
	}

	s.handler.HandleSessionMessage(msg.Ctx, s, msg)
}

// Send queues a message for processing by the worker.
// This is non-blocking - it returns immediately after queuing.
func (s *UserSession) Send(msg SessionMessage) {
	select {
	case s.inbox <- msg:
	case <-s.ctx.Done():
		if msg.Done != nil {
			close(msg.Done)
		}
	}
}

// SendSync queues a message and waits for it to be processed.
// Returns when the message has been fully processed by the worker.
func (s *UserSession) SendSync(msg SessionMessage) {
	msg.Done = make(chan struct{})
	s.Send(msg)
	<-msg.Done
}

// Stop stops the worker and waits for it to finish.
func (s *UserSession) Stop() {
	s.cancel()
	s.wg.Wait()
}
