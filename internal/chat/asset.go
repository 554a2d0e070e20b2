package chat

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Asset is one uploaded image in its durable, self-contained form. The
// image bytes are kept as a base64 data URL so a persisted log can be
// reloaded without any external blob references. Assets are never mutated
// after creation; later entries reference them by ID only.
type Asset struct {
	ID         string `json:"id"`
	InlineData string `json:"inlineData"`
	BatchID    string `json:"batchId"`
}

// NewBatchID generates an identifier for a batch of images uploaded together.
func NewBatchID() string {
	return uuid.New().String()
}

// NewAsset encodes raw image bytes into an Asset belonging to the given batch.
func NewAsset(data []byte, mimeType, batchID string) Asset {
	return Asset{
		ID:         uuid.New().String(),
		InlineData: EncodeInline(data, mimeType),
		BatchID:    batchID,
	}
}

// EncodeInline encodes image bytes as a base64 data URL.
func EncodeInline(data []byte, mimeType string) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

// DecodeInline splits a data URL back into raw bytes and a MIME type.
func DecodeInline(inline string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(inline, "data:")
	if !ok {
		return nil, "", fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data URL: missing payload")
	}
	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, "", fmt.Errorf("malformed data URL: not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode data URL payload: %w", err)
	}
	return data, mimeType, nil
}
