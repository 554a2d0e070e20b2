package bot

import (
	"context"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/nick5616/batch-item-analyzer/internal/chat"
)

const (
	// maxBatchPhotos caps how many images one batch can hold. Telegram albums
	// can carry up to ten photos, the analysis fan-out keeps batches smaller.
	maxBatchPhotos = 4

	// albumBufferTimeout is how long to wait for more photos of the same
	// album before turning the buffer into a batch. Telegram delivers album
	// photos as separate messages with a shared media group id.
	albumBufferTimeout = 1500 * time.Millisecond
)

// handlePhotoMessage processes photo messages. A single photo becomes a
// one-image batch right away, album photos are buffered until the album
// timeout fires. Called from session worker - no locking needed.
func (b *Bot) handlePhotoMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	if session.analyzing {
		session.reply(MsgBusyAnalyzing)
		return
	}

	// Pick the largest available size of the photo
	photoSize := message.Photo[len(message.Photo)-1]
	photo := AlbumPhoto{
		FileID: photoSize.FileID,
		Width:  photoSize.Width,
		Height: photoSize.Height,
	}

	if message.MediaGroupID != "" {
		session.bufferAlbumPhoto(ctx, photo, message.MediaGroupID, func(ctx context.Context, photos []AlbumPhoto) {
			b.processUpload(ctx, session, photos)
		})
		return
	}

	b.processUpload(ctx, session, []AlbumPhoto{photo})
}

// handleAlbumTimeout fires when no more photos of an album arrived in time.
// Called from session worker - no locking needed.
func (b *Bot) handleAlbumTimeout(ctx context.Context, session *UserSession, albumBuffer *AlbumBuffer) {
	photos := session.takeAlbumBuffer(albumBuffer)
	if photos == nil {
		return
	}
	if session.analyzing {
		session.reply(MsgBusyAnalyzing)
		return
	}
	b.processUpload(ctx, session, photos)
}

// processUpload downloads the photos, records them as one batch and selects
// the whole batch, replacing whatever was selected before.
// Called from session worker - no locking needed.
func (b *Bot) processUpload(ctx context.Context, session *UserSession, photos []AlbumPhoto) {
	truncated := len(photos) > maxBatchPhotos
	if truncated {
		photos = photos[:maxBatchPhotos]
	}

	batchID := chat.NewBatchID()
	assets := make([]chat.Asset, 0, len(photos))
	for _, photo := range photos {
		data, err := downloadFileID(b.tg.GetFileDirectURL, photo.FileID)
		if err != nil {
			log.Warn().Err(err).Str("fileID", photo.FileID).Msg("failed to download photo")
			continue
		}
		assets = append(assets, chat.NewAsset(data, http.DetectContentType(data), batchID))
	}

	if len(assets) == 0 {
		session.reply(MsgImageDownloadFail)
		return
	}

	upload := &chat.Upload{
		BatchID:   batchID,
		Assets:    assets,
		Timestamp: time.Now(),
	}
	session.log.Append(upload)

	assetIDs := make([]string, len(assets))
	for i, asset := range assets {
		assetIDs[i] = asset.ID
	}
	session.selection.OnUpload(batchID, assetIDs)

	if truncated {
		session.reply(MsgAlbumTruncated, maxBatchPhotos)
	}

	// Summary message with the per-image selection keyboard
	msg := tgbotapi.MessageConfig{
		Text: formatReplyText(MsgBatchUploaded, len(assets), pluralize("image", len(assets))),
	}
	msg.ReplyMarkup = makeSelectionKeyboard(upload, session.selection)
	sent := session.replyWithMessage(msg)
	session.keyboardMsgIDs[batchID] = sent.MessageID

	// Separate prompt carrying the suggested question reply keyboard, a
	// message can only hold one kind of keyboard
	prompt := tgbotapi.MessageConfig{Text: MsgAskAboutSelection}
	prompt.ReplyMarkup = makeSuggestedQuestionsKeyboard()
	session.replyWithMessage(prompt)

	log.Info().
		Int64("userId", session.userId).
		Str("batchId", batchID).
		Int("images", len(assets)).
		Msg("batch uploaded")
}

// handleToggleCallback flips one image in or out of the selection and
// refreshes the affected selection keyboards.
// Called from session worker - no locking needed.
func (b *Bot) handleToggleCallback(session *UserSession, assetID string) {
	if session.analyzing {
		session.reply(MsgBusyAnalyzing)
		return
	}

	assetsByID, _ := session.log.AllAssets()
	asset, ok := assetsByID[assetID]
	if !ok {
		session.reply(MsgUnknownImage)
		return
	}

	previousBatch := session.selection.ActiveBatch()
	session.selection.Toggle(assetID, asset.BatchID)

	b.refreshSelectionKeyboard(session, asset.BatchID)
	if previousBatch != "" && previousBatch != asset.BatchID {
		// Crossing batches dropped the old selection, clear its checkmarks
		b.refreshSelectionKeyboard(session, previousBatch)
	}
}

// refreshSelectionKeyboard re-renders the selection keyboard under the
// upload message of the given batch.
func (b *Bot) refreshSelectionKeyboard(session *UserSession, batchID string) {
	msgID, ok := session.keyboardMsgIDs[batchID]
	if !ok {
		return
	}
	upload := session.log.FindUpload(batchID)
	if upload == nil {
		return
	}

	edit := tgbotapi.NewEditMessageReplyMarkup(
		session.userId,
		msgID,
		makeSelectionKeyboard(upload, session.selection),
	)
	if _, err := b.tg.Request(edit); err != nil {
		log.Warn().Err(err).Str("batchId", batchID).Msg("failed to refresh selection keyboard")
	}
}
