package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestBuildContentsFoldsSystemAndMapsRoles(t *testing.T) {
	system, contents := buildContents([]Message{
		{Role: RoleSystem, Content: "be kind"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAI, Content: "hello"},
		{Role: RoleUser, Content: "how are you"},
	})

	assert.Equal(t, "be kind", system)
	require.Len(t, contents, 3)
	assert.Equal(t, string(genai.RoleUser), string(contents[0].Role))
	assert.Equal(t, string(genai.RoleModel), string(contents[1].Role))
	assert.Equal(t, "how are you", contents[2].Parts[0].Text)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(genai.APIError{Code: http.StatusTooManyRequests}))
	assert.True(t, isRetryable(genai.APIError{Code: http.StatusServiceUnavailable}))
	assert.False(t, isRetryable(genai.APIError{Code: http.StatusBadRequest}))
	assert.False(t, isRetryable(context.Canceled))
	assert.True(t, isRetryable(errors.New("connection reset by peer")))
}

func TestNewGeminiRequiresClient(t *testing.T) {
	_, err := NewGemini(nil, GeminiConfig{})
	require.Error(t, err)

	_, err = NewClient(context.Background(), "")
	require.Error(t, err)
}

func TestEchoRepliesWithLastUserMessage(t *testing.T) {
	reply, err := Echo{}.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "base\nRELEVANT MEMORIES FROM PAST:\n- a\n- b"},
		{Role: RoleUser, Content: "first"},
		{Role: RoleAI, Content: "ok"},
		{Role: RoleUser, Content: "second"},
	})
	require.NoError(t, err)
	assert.Equal(t, "You said: second (recalled 2 memories)", reply)

	_, err = Echo{}.Generate(context.Background(), []Message{{Role: RoleSystem, Content: "x"}})
	require.ErrorIs(t, err, ErrEmptyResponse)
}
