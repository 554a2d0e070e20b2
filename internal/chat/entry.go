package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntryKind discriminates the three log entry variants.
type EntryKind string

const (
	EntryUpload   EntryKind = "upload"
	EntryQuestion EntryKind = "question"
	EntryResponse EntryKind = "response"
)

// Entry is one item in the conversation log. The set of implementations is
// closed: Upload, Question and Response. Code interpreting entries should
// switch exhaustively on the concrete type.
type Entry interface {
	Kind() EntryKind
	EntryTime() time.Time
}

// Upload records one batch of images uploaded together. Created once at
// upload time and never mutated.
type Upload struct {
	BatchID   string    `json:"batchId"`
	Assets    []Asset   `json:"assets"`
	Timestamp time.Time `json:"timestamp"`
}

func (u *Upload) Kind() EntryKind { return EntryUpload }
func (u *Upload) EntryTime() time.Time { return u.Timestamp }

// Question records a user question together with a snapshot of the
// selection at submit time. The snapshot never changes afterwards, even if
// the live selection does.
type Question struct {
	Text               string    `json:"text"`
	ReferencedImageIDs []string  `json:"referencedImageIds"`
	Timestamp          time.Time `json:"timestamp"`
}

func (q *Question) Kind() EntryKind { return EntryQuestion }
func (q *Question) EntryTime() time.Time { return q.Timestamp }

// Outcome tells whether a single per-image analysis succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Result is the outcome of analyzing one image. On error the answer holds a
// human-readable explanation instead of a model response.
type Result struct {
	ImageID string  `json:"imageId"`
	Answer  string  `json:"answer"`
	Outcome Outcome `json:"outcome"`
}

// Response joins the per-image results of one question. BatchID is the
// active batch snapshotted at submit time, empty if none was active.
type Response struct {
	BatchID            string    `json:"batchId,omitempty"`
	ReferencedImageIDs []string  `json:"referencedImageIds"`
	Results            []Result  `json:"results"`
	Timestamp          time.Time `json:"timestamp"`
}

func (r *Response) Kind() EntryKind { return EntryResponse }
func (r *Response) EntryTime() time.Time { return r.Timestamp }

// entryEnvelope is the persisted form of an Entry: the variant's fields
// flattened next to a type tag.
type entryEnvelope struct {
	Type EntryKind `json:"type"`

	// Upload fields
	BatchID string  `json:"batchId,omitempty"`
	Assets  []Asset `json:"assets,omitempty"`

	// Question fields
	Text string `json:"text,omitempty"`

	// Shared by Question and Response
	ReferencedImageIDs []string `json:"referencedImageIds,omitempty"`

	// Response fields
	Results []Result `json:"results,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

func marshalEntries(entries []Entry) ([]byte, error) {
	envelopes := make([]entryEnvelope, 0, len(entries))
	for _, e := range entries {
		switch v := e.(type) {
		case *Upload:
			envelopes = append(envelopes, entryEnvelope{
				Type:      EntryUpload,
				BatchID:   v.BatchID,
				Assets:    v.Assets,
				Timestamp: v.Timestamp,
			})
		case *Question:
			envelopes = append(envelopes, entryEnvelope{
				Type:               EntryQuestion,
				Text:               v.Text,
				ReferencedImageIDs: v.ReferencedImageIDs,
				Timestamp:          v.Timestamp,
			})
		case *Response:
			envelopes = append(envelopes, entryEnvelope{
				Type:               EntryResponse,
				BatchID:            v.BatchID,
				ReferencedImageIDs: v.ReferencedImageIDs,
				Results:            v.Results,
				Timestamp:          v.Timestamp,
			})
		default:
			return nil, fmt.Errorf("unknown entry type %T", e)
		}
	}
	return json.Marshal(envelopes)
}

func unmarshalEntries(data []byte) ([]Entry, error) {
	var envelopes []entryEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal log: %w", err)
	}
	entries := make([]Entry, 0, len(envelopes))
	for _, env := range envelopes {
		switch env.Type {
		case EntryUpload:
			entries = append(entries, &Upload{
				BatchID:   env.BatchID,
				Assets:    env.Assets,
				Timestamp: env.Timestamp,
			})
		case EntryQuestion:
			entries = append(entries, &Question{
				Text:               env.Text,
				ReferencedImageIDs: env.ReferencedImageIDs,
				Timestamp:          env.Timestamp,
			})
		case EntryResponse:
			entries = append(entries, &Response{
				BatchID:            env.BatchID,
				ReferencedImageIDs: env.ReferencedImageIDs,
				Results:            env.Results,
				Timestamp:          env.Timestamp,
			})
		default:
			return nil, fmt.Errorf("unknown entry type %q", env.Type)
		}
	}
	return entries, nil
}
