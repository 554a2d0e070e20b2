package bot

// =============================================================================
// General messages
// =============================================================================

const (
	MsgOk            = `Ok!`
	MsgUnexpectedErr = `Unexpected error: %s`
	MsgStartPrompt   = `
		Send a photo or an album to start a batch.
		Tap the buttons under an upload to pick images, then type a question about them.

		/key - manage your analysis API key
		/clear - clear the chat history`
	MsgBusyAnalyzing = "Still analyzing the previous question, hold on."
)

// =============================================================================
// Upload messages
// =============================================================================

const (
	MsgBatchUploaded     = "Uploaded %d %s. The whole batch is selected."
	MsgAskAboutSelection = "Ask a question about the selected images, or pick one below."
	MsgImageDownloadFail = "Couldn't download any of the images. Try again."
	MsgAlbumTruncated    = "Only the first %d images of the album were kept."
	MsgUnknownImage      = "That image is no longer in the history."
)

// =============================================================================
// Question flow messages
// =============================================================================

const (
	MsgSelectImagesFirst = "Select at least one image first. Send a photo to start a batch."
	MsgCredentialNeeded  = "No API key configured. Set one with `/key <your-api-key>` first."
	MsgAnalysisFailed    = "Analysis failed and the question was left unanswered. Try again."
	MsgCelebration       = "🎉"
)

// =============================================================================
// Credential messages
// =============================================================================

const (
	MsgCredentialSet = `
		An API key is configured.

		/key <your-api-key> - replace the key
		/key delete - remove the stored key`
	MsgCredentialUnset = `
		No API key configured.

		/key <your-api-key> - store a key`
	MsgCredentialSaved   = "API key saved."
	MsgCredentialDeleted = "API key removed."
)

// =============================================================================
// Clear history messages
// =============================================================================

const (
	MsgNothingToClear = "History is already empty."
	MsgClearConfirm   = "Clear the whole chat history? This removes every uploaded image and answer."
	MsgHistoryCleared = "History cleared."
)

// Button labels for the clear confirmation
const (
	BtnClearYes = "Clear"
	BtnClearNo  = "Cancel"
)

// suggestedQuestions are offered as a reply keyboard after each upload.
var suggestedQuestions = []string{
	"Are the products new?",
	"Are any of the products green?",
	"How many products are there?",
	"Are there any products in the image?",
}
