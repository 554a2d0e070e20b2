package chat

import (
	"github.com/rs/zerolog/log"
)

// KV is the persistent key-value store the log is saved to. Implementations
// must tolerate absent keys; Get reports absence with ok=false.
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// historyKey is the store key the serialized log lives under.
const historyKey = "chat_history"

// ConversationLog is the append-only sequence of entries that makes up a
// user's conversation. Append order is display order; entries are never
// reordered or mutated. The full log is persisted after every mutation so
// it survives restarts.
//
// The log is mutated from a single goroutine at a time; it does its own
// locking nowhere and relies on the caller's threading model.
type ConversationLog struct {
	store   KV
	entries []Entry
}

// NewConversationLog creates an empty log backed by the given store.
func NewConversationLog(store KV) *ConversationLog {
	return &ConversationLog{store: store}
}

// Load reconstructs the log from persisted storage. A missing or corrupt
// snapshot yields an empty log; Load never fails.
func (l *ConversationLog) Load() {
	l.entries = nil
	raw, ok, err := l.store.Get(historyKey)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read persisted log, starting empty")
		return
	}
	if !ok || raw == "" {
		return
	}
	entries, err := unmarshalEntries([]byte(raw))
	if err != nil {
		log.Warn().Err(err).Msg("persisted log is malformed, starting empty")
		return
	}
	l.entries = entries
}

// Append adds an entry to the end of the log and persists the whole log.
// A persistence failure is logged but never raised: the in-memory log
// remains authoritative for the session.
func (l *ConversationLog) Append(entry Entry) {
	l.entries = append(l.entries, entry)
	l.persist()
}

// Clear empties the log and erases the persisted snapshot. The surrounding
// UI owns the confirmation step for this destructive action.
func (l *ConversationLog) Clear() {
	l.entries = nil
	if err := l.store.Delete(historyKey); err != nil {
		log.Warn().Err(err).Msg("failed to erase persisted log")
	}
}

// Entries returns the log's entries in append order. The returned slice is
// shared; callers must not modify it.
func (l *ConversationLog) Entries() []Entry {
	return l.entries
}

// Len returns the number of entries.
func (l *ConversationLog) Len() int {
	return len(l.entries)
}

// AllAssets flattens every upload's assets, in append order, into a lookup
// table keyed by asset ID plus the matching ordered ID list. It is
// recomputed on demand; the log is small by construction.
func (l *ConversationLog) AllAssets() (map[string]Asset, []string) {
	byID := make(map[string]Asset)
	var order []string
	for _, entry := range l.entries {
		upload, ok := entry.(*Upload)
		if !ok {
			continue
		}
		for _, asset := range upload.Assets {
			byID[asset.ID] = asset
			order = append(order, asset.ID)
		}
	}
	return byID, order
}

// FindUpload returns the upload entry for a batch, or nil.
func (l *ConversationLog) FindUpload(batchID string) *Upload {
	for _, entry := range l.entries {
		if upload, ok := entry.(*Upload); ok && upload.BatchID == batchID {
			return upload
		}
	}
	return nil
}

func (l *ConversationLog) persist() {
	data, err := marshalEntries(l.entries)
	if err != nil {
		log.Error().Err(err).Msg("failed to serialize log")
		return
	}
	if err := l.store.Set(historyKey, string(data)); err != nil {
		log.Warn().Err(err).Msg("failed to persist log, in-memory state kept")
	}
}
