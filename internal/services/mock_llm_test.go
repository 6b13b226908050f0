package services

import (
	"context"
	"errors"
	"testing"

	"github.com/jwebster45206/gm-engine/pkg/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockLLMService(t *testing.T) {
	mockService := NewMockLLMAPI()

	err := mockService.InitModel(context.Background(), "test-model")
	require.NoError(t, err)
	assert.Equal(t, []string{"test-model"}, mockService.InitModelCalls)

	messages := []chat.ChatMessage{
		{Role: chat.ChatRoleUser, Content: "Hello"},
	}
	response, err := mockService.Chat(context.Background(), messages)
	require.NoError(t, err)
	assert.Equal(t, "Mock response", response.Message)

	_, chatCalls := mockService.GetCalls()
	require.Len(t, chatCalls, 1)
	assert.Equal(t, messages, chatCalls[0].Messages)
}

func TestMockLLMService_Script(t *testing.T) {
	boom := errors.New("upstream unavailable")
	mockService := NewMockLLMAPI("first", "second")
	mockService.QueueError(boom)
	assert.Equal(t, 3, mockService.Pending())

	ctx := context.Background()
	msgs := []chat.ChatMessage{{Role: chat.ChatRoleUser, Content: "go"}}

	resp, err := mockService.Chat(ctx, msgs)
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Message)

	resp, err = mockService.Chat(ctx, msgs)
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Message)

	_, err = mockService.Chat(ctx, msgs)
	assert.ErrorIs(t, err, boom)

	resp, err = mockService.Chat(ctx, msgs)
	require.NoError(t, err)
	assert.Equal(t, "Mock response", resp.Message)
	assert.Equal(t, 4, mockService.ChatCallCount())
}

func TestMockLLMService_RecordsCopy(t *testing.T) {
	mockService := NewMockLLMAPI()
	msgs := []chat.ChatMessage{{Role: chat.ChatRoleUser, Content: "original"}}

	_, err := mockService.Chat(context.Background(), msgs)
	require.NoError(t, err)
	msgs[0].Content = "mutated"

	last, ok := mockService.LastChatCall()
	require.True(t, ok)
	assert.Equal(t, "original", last.Messages[0].Content)
}

func TestMockLLMService_ErrorHandling(t *testing.T) {
	mockService := NewMockLLMAPI()

	expectedErr := errors.New("initialization failed")
	mockService.SetInitModelError(expectedErr)
	assert.Equal(t, expectedErr, mockService.InitModel(context.Background(), "test-model"))

	chatErr := errors.New("generation failed")
	mockService.SetChatError(chatErr)
	_, err := mockService.Chat(context.Background(), nil)
	assert.Equal(t, chatErr, err)

	mockService.Reset()
	initCalls, chatCalls := mockService.GetCalls()
	assert.Empty(t, initCalls)
	assert.Empty(t, chatCalls)
}

func TestMockLLMService_CancelledContext(t *testing.T) {
	mockService := NewMockLLMAPI("unused")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mockService.Chat(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
