package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryKV is an in-memory KV store for tests. Individual operations can be
// made to fail to exercise persistence failure handling.
type memoryKV struct {
	data    map[string]string
	setErr  error
	getErr  error
	deleted []string
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: make(map[string]string)}
}

func (m *memoryKV) Get(key string) (string, bool, error) {
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryKV) Set(key, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

func (m *memoryKV) Delete(key string) error {
	m.deleted = append(m.deleted, key)
	delete(m.data, key)
	return nil
}

func makeTestUpload(batchID string, assetIDs ...string) *Upload {
	assets := make([]Asset, len(assetIDs))
	for i, id := range assetIDs {
		assets[i] = Asset{ID: id, InlineData: EncodeInline([]byte("img-"+id), "image/jpeg"), BatchID: batchID}
	}
	return &Upload{BatchID: batchID, Assets: assets, Timestamp: time.Now().UTC().Truncate(time.Second)}
}

func TestConversationLog_AppendPersists(t *testing.T) {
	kv := newMemoryKV()
	l := NewConversationLog(kv)

	l.Append(makeTestUpload("b1", "i1", "i2"))

	raw, ok := kv.data[historyKey]
	require.True(t, ok)
	assert.Contains(t, raw, `"type":"upload"`)
	assert.Contains(t, raw, `"batchId":"b1"`)
}

func TestConversationLog_RoundTrip(t *testing.T) {
	kv := newMemoryKV()
	l := NewConversationLog(kv)

	upload := makeTestUpload("b1", "i1", "i2")
	question := &Question{
		Text:               "Is it green?",
		ReferencedImageIDs: []string{"i1", "i2"},
		Timestamp:          time.Now().UTC().Truncate(time.Second),
	}
	response := &Response{
		BatchID:            "b1",
		ReferencedImageIDs: []string{"i1", "i2"},
		Results: []Result{
			{ImageID: "i1", Answer: "Yes", Outcome: OutcomeSuccess},
			{ImageID: "i2", Answer: "Failed to analyze image.", Outcome: OutcomeError},
		},
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
	l.Append(upload)
	l.Append(question)
	l.Append(response)

	// A reload must reconstruct an identical ordered sequence.
	reloaded := NewConversationLog(kv)
	reloaded.Load()

	require.Equal(t, 3, reloaded.Len())
	assert.Equal(t, upload, reloaded.Entries()[0])
	assert.Equal(t, question, reloaded.Entries()[1])
	assert.Equal(t, response, reloaded.Entries()[2])
}

func TestConversationLog_LoadMissingYieldsEmpty(t *testing.T) {
	l := NewConversationLog(newMemoryKV())
	l.Load()
	assert.Equal(t, 0, l.Len())
}

func TestConversationLog_LoadMalformedYieldsEmpty(t *testing.T) {
	kv := newMemoryKV()
	kv.data[historyKey] = "{not json"

	l := NewConversationLog(kv)
	l.Load()

	assert.Equal(t, 0, l.Len())
}

func TestConversationLog_LoadStoreErrorYieldsEmpty(t *testing.T) {
	kv := newMemoryKV()
	kv.getErr = errors.New("store unavailable")

	l := NewConversationLog(kv)
	l.Load()

	assert.Equal(t, 0, l.Len())
}

func TestConversationLog_PersistFailureKeepsMemoryState(t *testing.T) {
	kv := newMemoryKV()
	kv.setErr = errors.New("quota exceeded")

	l := NewConversationLog(kv)
	l.Append(makeTestUpload("b1", "i1"))

	// The failure is swallowed; the in-memory log stays authoritative.
	assert.Equal(t, 1, l.Len())
	assert.Empty(t, kv.data)
}

func TestConversationLog_ClearErasesPersistedState(t *testing.T) {
	kv := newMemoryKV()
	l := NewConversationLog(kv)
	l.Append(makeTestUpload("b1", "i1"))

	l.Clear()

	assert.Equal(t, 0, l.Len())
	assert.Contains(t, kv.deleted, historyKey)

	reloaded := NewConversationLog(kv)
	reloaded.Load()
	assert.Equal(t, 0, reloaded.Len())
}

func TestConversationLog_AllAssetsInAppendOrder(t *testing.T) {
	l := NewConversationLog(newMemoryKV())
	l.Append(makeTestUpload("b1", "i1", "i2"))
	l.Append(&Question{Text: "q", ReferencedImageIDs: []string{"i1"}, Timestamp: time.Now()})
	l.Append(makeTestUpload("b2", "i3"))

	byID, order := l.AllAssets()

	assert.Equal(t, []string{"i1", "i2", "i3"}, order)
	require.Len(t, byID, 3)
	assert.Equal(t, "b1", byID["i2"].BatchID)
	assert.Equal(t, "b2", byID["i3"].BatchID)
}

func TestConversationLog_FindUpload(t *testing.T) {
	l := NewConversationLog(newMemoryKV())
	u1 := makeTestUpload("b1", "i1")
	l.Append(u1)

	assert.Equal(t, u1, l.FindUpload("b1"))
	assert.Nil(t, l.FindUpload("b2"))
}

func TestDecodeInline_RoundTrip(t *testing.T) {
	inline := EncodeInline([]byte{0x89, 0x50, 0x4E, 0x47}, "image/png")

	data, mimeType, err := DecodeInline(inline)

	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 0x50, 0x4E, 0x47}, data)
	assert.Equal(t, "image/png", mimeType)
}

func TestDecodeInline_Malformed(t *testing.T) {
	for _, input := range []string{"", "http://example.com/a.png", "data:image/png,abc", "data:image/png;base64,!!!"} {
		_, _, err := DecodeInline(input)
		assert.Error(t, err, "input %q", input)
	}
}
