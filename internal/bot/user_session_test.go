package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// recordingHandler captures execution order and can simulate blocking/panics
type recordingHandler struct {
	mu           sync.Mutex
	executionLog []string
	blockCh      chan struct{} // Close this to unblock processing
	waitCh       chan struct{} // Closed when processing starts (for synchronization)
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		blockCh: make(chan struct{}),
		waitCh:  make(chan struct{}),
	}
}

func (h *recordingHandler) HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage) {
	h.mu.Lock()
	h.executionLog = append(h.executionLog, msg.Text)
	h.mu.Unlock()

	switch msg.Text {
	case "PANIC":
		panic("simulated worker panic")
	case "BLOCK":
		if h.waitCh != nil {
			close(h.waitCh) // Signal we are running
		}
		<-h.blockCh // Wait until allowed to proceed
	}
}

func (h *recordingHandler) getLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	result := make([]string, len(h.executionLog))
	copy(result, h.executionLog)
	return result
}

// newWorkerSession creates a bare session wired to a recording handler
func newWorkerSession(id int64, handler *recordingHandler) *UserSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &UserSession{
		userId:  id,
		inbox:   make(chan SessionMessage, 10),
		ctx:     ctx,
		cancel:  cancel,
		handler: handler,
	}
	s.StartWorker()
	return s
}

func TestWorker_SequentialProcessing(t *testing.T) {
	handler := newRecordingHandler()
	close(handler.blockCh)
	session := newWorkerSession(123, handler)
	defer session.Stop()

	for _, txt := range []string{"msg1", "msg2", "msg3"} {
		session.Send(SessionMessage{Text: txt})
	}

	// Use SendSync as a barrier to ensure previous async messages are done
	session.SendSync(SessionMessage{Text: "barrier"})

	assert.Equal(t, []string{"msg1", "msg2", "msg3", "barrier"}, handler.getLog())
}

func TestWorker_PanicRecovery(t *testing.T) {
	handler := newRecordingHandler()
	close(handler.blockCh)
	session := newWorkerSession(123, handler)
	defer session.Stop()

	session.SendSync(SessionMessage{Text: "PANIC"})

	// Worker should still be alive afterwards
	session.SendSync(SessionMessage{Text: "recovery"})

	assert.Equal(t, []string{"PANIC", "recovery"}, handler.getLog())
}

func TestWorker_GracefulShutdownDrainsQueue(t *testing.T) {
	// Handler never unblocks, so queued messages would block if processed
	handler := newRecordingHandler()
	session := newWorkerSession(999, handler)

	// Queue up messages with Done channels (simulating SendSync callers waiting)
	for i := 0; i < 5; i++ {
		session.inbox <- SessionMessage{Text: "pending", Done: make(chan struct{})}
	}

	stopDone := make(chan struct{})
	go func() {
		session.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
	case <-time.After(1 * time.Second):
		t.Fatal("Stop() timed out - potential deadlock")
	}
}

func TestWorker_SendSyncWaitsForCompletion(t *testing.T) {
	handler := newRecordingHandler()
	session := newWorkerSession(123, handler)
	defer session.Stop()

	sendDone := make(chan struct{})
	go func() {
		session.SendSync(SessionMessage{Text: "BLOCK"})
		close(sendDone)
	}()

	select {
	case <-handler.waitCh:
		// Handler is now processing
	case <-time.After(100 * time.Millisecond):
		t.Fatal("handler did not start")
	}

	select {
	case <-sendDone:
		t.Fatal("SendSync returned before handler completed")
	case <-time.After(50 * time.Millisecond):
		// Still waiting, as it should be
	}

	close(handler.blockCh)

	select {
	case <-sendDone:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("SendSync did not return after handler completed")
	}
}
