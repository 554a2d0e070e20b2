package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nick5616/batch-item-analyzer/internal/chat"
)

// makeSelectionKeyboard builds the per-image toggle keyboard shown under an
// upload message. Selected images carry a checkmark. Buttons are laid out
// two per row.
func makeSelectionKeyboard(upload *chat.Upload, selection *chat.Selection) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton

	for i, asset := range upload.Assets {
		label := fmt.Sprintf("Image %d", i+1)
		if selection.IsSelected(asset.ID) {
			label = "✅ " + label
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, "sel:"+asset.ID))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// makeSuggestedQuestionsKeyboard builds the reply keyboard of canned
// questions offered after an upload.
func makeSuggestedQuestionsKeyboard() tgbotapi.ReplyKeyboardMarkup {
	rows := make([][]tgbotapi.KeyboardButton, len(suggestedQuestions))
	for i, question := range suggestedQuestions {
		rows[i] = tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(question))
	}
	keyboard := tgbotapi.NewReplyKeyboard(rows...)
	keyboard.ResizeKeyboard = true
	return keyboard
}

// makeClearConfirmKeyboard builds the yes/no confirmation for /clear.
func makeClearConfirmKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(BtnClearYes, "clear:yes"),
			tgbotapi.NewInlineKeyboardButtonData(BtnClearNo, "clear:no"),
		),
	)
}
