package services

import (
	"context"
	"sync"

	"github.com/jwebster45206/gm-engine/pkg/chat"
)

// MockReply is one scripted result of a Chat call.
type MockReply struct {
	Message string
	Err     error
}

// MockLLMAPI is a mock implementation of LLMService for testing. Chat
// returns ChatFunc's result when set, otherwise the next scripted reply,
// otherwise DefaultMessage.
type MockLLMAPI struct {
	InitModelFunc func(ctx context.Context, modelName string) error
	ChatFunc      func(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error)

	DefaultMessage string

	// Track calls for testing
	InitModelCalls []string
	ChatCalls      []ChatCall

	script []MockReply
	mu     sync.Mutex // protects all fields above
}

// ChatCall is the context passed to one Chat call.
type ChatCall struct {
	Messages []chat.ChatMessage
}

// NewMockLLMAPI creates a new mock LLM service
func NewMockLLMAPI(replies ...string) *MockLLMAPI {
	m := &MockLLMAPI{DefaultMessage: "Mock response"}
	m.QueueResponses(replies...)
	return m
}

// InitModel mocks model initialization
func (m *MockLLMAPI) InitModel(ctx context.Context, modelName string) error {
	m.mu.Lock()
	m.InitModelCalls = append(m.InitModelCalls, modelName)
	fn := m.InitModelFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, modelName)
	}
	return nil
}

// Chat mocks response generation
func (m *MockLLMAPI) Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
	m.mu.Lock()
	recorded := make([]chat.ChatMessage, len(messages))
	copy(recorded, messages)
	m.ChatCalls = append(m.ChatCalls, ChatCall{Messages: recorded})

	fn := m.ChatFunc
	var reply *MockReply
	if fn == nil && len(m.script) > 0 {
		reply = &m.script[0]
		m.script = m.script[1:]
	}
	def := m.DefaultMessage
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, messages)
	}
	if reply != nil {
		if reply.Err != nil {
			return nil, reply.Err
		}
		return &chat.ChatResponse{Message: reply.Message}, nil
	}
	return &chat.ChatResponse{Message: def}, nil
}

// QueueResponses appends scripted replies, returned in order.
func (m *MockLLMAPI) QueueResponses(messages ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range messages {
		m.script = append(m.script, MockReply{Message: msg})
	}
}

// QueueError appends a scripted failure.
func (m *MockLLMAPI) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, MockReply{Err: err})
}

// Pending reports how many scripted replies have not been consumed.
func (m *MockLLMAPI) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.script)
}

// Reset clears all call tracking and scripted replies
func (m *MockLLMAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitModelCalls = nil
	m.ChatCalls = nil
	m.script = nil
}

// SetInitModelError sets up the mock to return an error on InitModel
func (m *MockLLMAPI) SetInitModelError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitModelFunc = func(ctx context.Context, modelName string) error {
		return err
	}
}

// SetChatError sets up the mock to fail every Chat call
func (m *MockLLMAPI) SetChatError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChatFunc = func(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
		return nil, err
	}
}

// GetCalls returns a copy of the call tracking data in a thread-safe way
func (m *MockLLMAPI) GetCalls() ([]string, []ChatCall) {
	m.mu.Lock()
	defer m.mu.Unlock()

	initCalls := make([]string, len(m.InitModelCalls))
	copy(initCalls, m.InitModelCalls)

	chatCalls := make([]ChatCall, len(m.ChatCalls))
	copy(chatCalls, m.ChatCalls)

	return initCalls, chatCalls
}

// ChatCallCount returns the number of Chat calls made so far.
func (m *MockLLMAPI) ChatCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ChatCalls)
}

// LastChatCall returns the most recent Chat call.
func (m *MockLLMAPI) LastChatCall() (ChatCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ChatCalls) == 0 {
		return ChatCall{}, false
	}
	return m.ChatCalls[len(m.ChatCalls)-1], true
}
