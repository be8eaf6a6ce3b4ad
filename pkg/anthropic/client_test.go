package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) Client {
	return NewClient("test-key", option.WithBaseURL(baseURL), option.WithMaxRetries(0))
}

func writeMessage(w http.ResponseWriter, id, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"id":   id,
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"model":       DefaultModel,
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":  10,
			"output_tokens": 5,
		},
	})
}

func TestSDKClient_CreateMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultModel, body["model"])
		assert.EqualValues(t, 2048, body["max_tokens"])

		writeMessage(w, "msg_test_001", "Hello from test")
	}))
	defer ts.Close()

	resp, err := newTestClient(ts.URL).CreateMessage(context.Background(), MessageRequest{
		Messages: []Message{{Role: "user", Content: "Hello"}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "msg_test_001", resp.ID)
	assert.Equal(t, DefaultModel, resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "Hello from test", resp.Text())
	assert.Equal(t, int64(10), resp.Usage.InputTokens)
	assert.Equal(t, int64(5), resp.Usage.OutputTokens)
}

func TestSDKClient_CreateMessage_WithSystemAndTemp(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		system, ok := body["system"].([]any)
		require.True(t, ok)
		require.Len(t, system, 1)
		assert.Equal(t, "Return JSON only.", system[0].(map[string]any)["text"])
		assert.EqualValues(t, 0, body["temperature"])

		writeMessage(w, "msg_sys", "{}")
	}))
	defer ts.Close()

	temp := 0.0
	resp, err := newTestClient(ts.URL).CreateMessage(context.Background(), MessageRequest{
		System:      "Return JSON only.",
		Messages:    []Message{{Role: "user", Content: "Hello"}},
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_sys", resp.ID)
	assert.Equal(t, "{}", resp.Text())
}

func TestSDKClient_CreateMessage_Error(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"type": "error",
			"error": map[string]any{
				"type":    "invalid_request_error",
				"message": "bad request",
			},
		})
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).CreateMessage(context.Background(), MessageRequest{
		Messages: []Message{{Role: "user", Content: "Hello"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
}

func TestToSDKMessages_Roles(t *testing.T) {
	out := toSDKMessages([]Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "system", Content: "c"},
	})
	require.Len(t, out, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, out[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, out[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, out[2].Role)
}

func TestMessageResponse_TextSkipsNonText(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "a"},
		{Type: "tool_use", Text: "ignored"},
		{Type: "text", Text: "b"},
	}}
	assert.Equal(t, "ab", resp.Text())

	var nilResp *MessageResponse
	assert.Equal(t, "", nilResp.Text())
}

func TestLogUsage_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 1, OutputTokens: 2}.LogUsage(DefaultModel, "restructure")
	})
}
