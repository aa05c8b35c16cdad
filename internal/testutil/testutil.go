// Package testutil provides common test doubles and helpers for GateChat tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/GateChat/internal/models"
)

// SentMessage is one message captured by RecordingSender.
type SentMessage struct {
	ConversationID int64
	Text           string
	Affordance     models.Affordance
}

// RecordingSender records every send. Sends to ids in FailFor report false.
type RecordingSender struct {
	mu      sync.Mutex
	Sent    []SentMessage
	FailFor map[int64]bool
}

// NewRecordingSender creates an empty RecordingSender.
func NewRecordingSender() *RecordingSender {
	return &RecordingSender{FailFor: make(map[int64]bool)}
}

func (r *RecordingSender) Send(ctx context.Context, conversationID int64, text string, affordance models.Affordance) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailFor[conversationID] {
		return false
	}
	r.Sent = append(r.Sent, SentMessage{ConversationID: conversationID, Text: text, Affordance: affordance})
	return true
}

// Messages returns a copy of the recorded messages.
func (r *RecordingSender) Messages() []SentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SentMessage, len(r.Sent))
	copy(out, r.Sent)
	return out
}

// To returns the messages recorded for one conversation.
func (r *RecordingSender) To(conversationID int64) []SentMessage {
	var out []SentMessage
	for _, m := range r.Messages() {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out
}

// ErrStubFailure is the default error returned by a failing StubCompleter.
var ErrStubFailure = errors.New("stub completion failure")

// StubCompleter is a scripted completion gateway. It records every request.
type StubCompleter struct {
	mu       sync.Mutex
	Reply    string
	Err      error
	Requests [][]models.ChatMessage
	// Block makes Complete wait for context cancellation.
	Block bool
}

func (s *StubCompleter) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	s.mu.Lock()
	cp := make([]models.ChatMessage, len(messages))
	copy(cp, messages)
	s.Requests = append(s.Requests, cp)
	reply, err, block := s.Reply, s.Err, s.Block
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return reply, err
}

// Calls returns the number of Complete invocations.
func (s *StubCompleter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

// LastRequest returns the most recent request, or nil.
func (s *StubCompleter) LastRequest() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Requests) == 0 {
		return nil
	}
	return s.Requests[len(s.Requests)-1]
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}
