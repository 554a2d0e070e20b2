package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Analyzer analyzes a single image against a question. It is stateless and
// must never fail past its boundary: transport, auth and parsing failures
// are converted into a Result with OutcomeError and a human-readable answer.
type Analyzer interface {
	Analyze(ctx context.Context, image Asset, question, credential string) Result
}

// Submission precondition failures. The caller turns these into prompts;
// nothing is appended to the log when Submit returns one of them.
var (
	ErrEmptyQuestion      = errors.New("question is empty")
	ErrNoSelection        = errors.New("no images selected")
	ErrMissingCredential  = errors.New("no credential configured")
	ErrSubmissionInFlight = errors.New("a submission is already in flight")
)

// ErrSubmissionFailed is returned when the fan-out join itself fails. The
// question entry has already been appended at that point and stays in the
// log without a matching response.
var ErrSubmissionFailed = errors.New("submission failed")

// State is the pipeline's submission state.
type State int

const (
	// Idle means no submission is in flight.
	Idle State = iota
	// Submitting means the question has been appended and per-image
	// requests are in flight.
	Submitting
	// Settling means all per-image results have returned and the response
	// entry is being joined and appended.
	Settling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case Settling:
		return "settling"
	}
	return "unknown"
}

// Pipeline fans a single user question out into one analysis request per
// selected image and joins the results back into one response entry.
//
// At most one submission is in flight at a time; Submit returns
// ErrSubmissionInFlight otherwise. The selection is left untouched by a
// completed submission.
type Pipeline struct {
	log       *ConversationLog
	selection *Selection
	analyzer  Analyzer

	mu    sync.Mutex
	state State

	// completions receives one signal per completed submission. It exists
	// for the surrounding UI's celebratory effect and is decoupled from the
	// submission's return value: the send never blocks and a missed signal
	// is dropped.
	completions chan struct{}
}

// NewPipeline creates a pipeline over the given log, selection and analyzer.
func NewPipeline(conversationLog *ConversationLog, selection *Selection, analyzer Analyzer) *Pipeline {
	return &Pipeline{
		log:         conversationLog,
		selection:   selection,
		analyzer:    analyzer,
		state:       Idle,
		completions: make(chan struct{}, 1),
	}
}

// State returns the current submission state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Completions returns the channel that receives a one-shot signal after
// each completed submission.
func (p *Pipeline) Completions() <-chan struct{} {
	return p.completions
}

// Submit runs one question against the current selection.
//
// The question, selection and active batch are snapshotted atomically at
// call time. A Question entry is appended synchronously, then one analysis
// request per selected image runs concurrently. Every request settles to a
// per-image result: a failing image is reported in its own result and never
// aborts its siblings, and no request is retried. Once all requests settle,
// a single Response entry joins the results in upload order.
//
// Submit blocks until the response entry has been appended. Precondition
// failures return before anything is recorded. ErrSubmissionFailed means
// the join itself failed after the question was appended.
func (p *Pipeline) Submit(ctx context.Context, question, credential string) (*Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if credential == "" {
		return nil, ErrMissingCredential
	}

	p.mu.Lock()
	if p.state != Idle {
		p.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}

	// Snapshot selection and active batch while holding the state lock so
	// the whole admission check is atomic.
	selected := p.selection.SelectedIDs()
	batchID := p.selection.ActiveBatch()
	if len(selected) == 0 {
		p.mu.Unlock()
		return nil, ErrNoSelection
	}
	p.state = Submitting
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.state = Idle
		p.mu.Unlock()
	}()

	// Resolve the selection against the log in upload order, not
	// selection-click order.
	byID, order := p.log.AllAssets()
	targets := make([]Asset, 0, len(selected))
	for _, id := range order {
		if _, ok := selected[id]; ok {
			targets = append(targets, byID[id])
		}
	}

	targetIDs := make([]string, len(targets))
	for i, asset := range targets {
		targetIDs[i] = asset.ID
	}

	p.log.Append(&Question{
		Text:               question,
		ReferencedImageIDs: targetIDs,
		Timestamp:          time.Now().UTC(),
	})

	results, err := p.fanOut(ctx, targets, question, credential)

	p.mu.Lock()
	p.state = Settling
	p.mu.Unlock()

	if err != nil {
		// The question stays in the log without a response. That dangling
		// state is visible to the user and accepted.
		log.Error().Err(err).Str("batchId", batchID).Msg("submission aborted, question left unanswered")
		return nil, ErrSubmissionFailed
	}

	response := &Response{
		BatchID:            batchID,
		ReferencedImageIDs: targetIDs,
		Results:            results,
		Timestamp:          time.Now().UTC(),
	}
	p.log.Append(response)

	// Fire-and-forget completion signal.
	select {
	case p.completions <- struct{}{}:
	default:
	}

	return response, nil
}

// fanOut invokes the analyzer once per target concurrently and waits for
// every invocation to settle. Each image always gets its own request; images
// are never batched into one upstream call.
func (p *Pipeline) fanOut(ctx context.Context, targets []Asset, question, credential string) ([]Result, error) {
	results := make([]Result, len(targets))

	var wg sync.WaitGroup
	var panicMu sync.Mutex
	var joinErr error

	for i, asset := range targets {
		wg.Add(1)
		go func(i int, asset Asset) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panicMu.Lock()
					joinErr = fmt.Errorf("analyzer panic: %v", r)
					panicMu.Unlock()
					log.Error().Interface("panic", r).Str("imageId", asset.ID).Msg("recovered analyzer panic")
				}
			}()
			results[i] = p.analyzer.Analyze(ctx, asset, question, credential)
		}(i, asset)
	}

	wg.Wait()
	return results, joinErr
}
