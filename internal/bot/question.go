package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/nick5616/batch-item-analyzer/internal/chat"
)

// handleQuestion runs a free-text question against the current selection.
// The cheap preconditions are checked inline so the user gets an immediate
// reply, the fan-out itself runs in a background goroutine and reports back
// through an analysis_complete session message.
// Called from session worker - no locking needed.
func (b *Bot) handleQuestion(ctx context.Context, session *UserSession, text string) {
	if session.analyzing {
		session.reply(MsgBusyAnalyzing)
		return
	}

	question := strings.TrimSpace(text)
	if question == "" {
		return
	}

	if session.selection.Count() == 0 {
		session.reply(MsgSelectImagesFirst)
		return
	}

	credential, err := b.store.GetCredential(session.userId)
	if err != nil {
		session.replyWithError(err)
		return
	}
	if credential == "" {
		session.reply(MsgCredentialNeeded)
		return
	}

	session.analyzing = true
	typingCtx, cancelTyping := context.WithCancel(ctx)
	session.cancelTyping = cancelTyping
	go session.startTypingLoop(typingCtx)

	pipeline := session.pipeline
	go func() {
		response, err := pipeline.Submit(ctx, question, credential)
		session.Send(SessionMessage{
			Type:     "analysis_complete",
			Ctx:      ctx,
			Analysis: &AnalysisOutcome{Response: response, Err: err},
		})
	}()
}

// handleAnalysisComplete delivers the outcome of a background submission.
// Called from session worker - no locking needed.
func (b *Bot) handleAnalysisComplete(session *UserSession, outcome *AnalysisOutcome) {
	if session.cancelTyping != nil {
		session.cancelTyping()
		session.cancelTyping = nil
	}
	session.analyzing = false

	if outcome == nil {
		return
	}
	if outcome.Err != nil {
		session.reply(submissionErrorMessage(outcome.Err))
		return
	}

	session.reply(formatResponse(session.log, outcome.Response))

	// The pipeline signals settled submissions on a one-shot channel, the
	// celebration rides on that signal
	select {
	case <-session.pipeline.Completions():
		session.reply(MsgCelebration)
	default:
	}

	log.Info().
		Int64("userId", session.userId).
		Int("results", len(outcome.Response.Results)).
		Msg("analysis complete")
}

// submissionErrorMessage maps pipeline errors to user-facing replies.
func submissionErrorMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrSubmissionInFlight):
		return MsgBusyAnalyzing
	case errors.Is(err, chat.ErrNoSelection), errors.Is(err, chat.ErrEmptyQuestion):
		return MsgSelectImagesFirst
	case errors.Is(err, chat.ErrMissingCredential):
		return MsgCredentialNeeded
	default:
		return MsgAnalysisFailed
	}
}

// formatResponse renders the per-image results as one reply, in the order
// the images were uploaded.
func formatResponse(conversationLog *chat.ConversationLog, response *chat.Response) string {
	var sb strings.Builder
	for i, result := range response.Results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		marker := "✅"
		if result.Outcome == chat.OutcomeError {
			marker = "⚠️"
		}
		fmt.Fprintf(&sb, "%s *%s*\n%s", marker, imageLabel(conversationLog, result.ImageID), result.Answer)
	}
	return sb.String()
}

// imageLabel names an image by its position within its upload batch.
func imageLabel(conversationLog *chat.ConversationLog, imageID string) string {
	for _, entry := range conversationLog.Entries() {
		upload, ok := entry.(*chat.Upload)
		if !ok {
			continue
		}
		for i, asset := range upload.Assets {
			if asset.ID == imageID {
				return fmt.Sprintf("Image %d", i+1)
			}
		}
	}
	return "Image"
}
