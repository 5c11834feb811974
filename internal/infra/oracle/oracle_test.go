package oracle

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scheduling_autopilot/internal/domain/intent"
	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInput() intent.Input {
	start := time.Date(2026, time.July, 6, 10, 0, 0, 0, time.UTC)
	return intent.Input{
		Subject:        "Re: Intro call",
		Body:           "Monday works, 10am is great",
		OfferedWindows: []scheduling.TimeWindow{{Start: start, End: start.Add(time.Hour)}},
		Timezone:       "Europe/Berlin",
		ReceivedAt:     time.Date(2026, time.July, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(sampleInput())

	assert.Contains(t, prompt, "Timezone: Europe/Berlin")
	assert.Contains(t, prompt, "Received at: 2026-07-01T11:00:00+02:00")
	assert.Contains(t, prompt, "- 2026-07-06T12:00:00+02:00 to 2026-07-06T13:00:00+02:00 (Monday)")
	assert.True(t, strings.HasSuffix(prompt, "Monday works, 10am is great\n"))
}

func TestBuildPrompt_NoWindowsFallsBackToUTC(t *testing.T) {
	in := sampleInput()
	in.OfferedWindows = nil
	in.Timezone = "Not/AZone"

	prompt := BuildPrompt(in)
	assert.Contains(t, prompt, "Timezone: UTC")
	assert.Contains(t, prompt, "- none")
}

func TestParseAnswer(t *testing.T) {
	text := "Sure, here it is:\n```json\n" + `{"intent": " Counter_Propose ", "extracted_times": ["2026-07-07T14:00:00+02:00", "2026-07-08T09:30", "next week"], "confidence": 0.82, "reasoning": "asks for Tuesday"}` + "\n```"

	res, err := ParseAnswer(text, "Europe/Berlin")
	require.NoError(t, err)

	assert.Equal(t, intent.CounterPropose, res.Intent)
	assert.Equal(t, 0.82, res.Confidence)
	assert.Equal(t, "asks for Tuesday", res.Reasoning)
	require.Len(t, res.ExtractedTimes, 2)
	assert.True(t, res.ExtractedTimes[0].Equal(time.Date(2026, time.July, 7, 12, 0, 0, 0, time.UTC)))
	assert.True(t, res.ExtractedTimes[1].Equal(time.Date(2026, time.July, 8, 7, 30, 0, 0, time.UTC)))
}

func TestParseAnswer_Errors(t *testing.T) {
	_, err := ParseAnswer("I cannot help with that", "UTC")
	assert.Error(t, err)

	_, err = ParseAnswer(`{"intent": accept}`, "UTC")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	o, err := New("anthropic", "", "key", "")
	require.NoError(t, err)
	assert.IsType(t, &AnthropicOracle{}, o)

	o, err = New("openai", "gpt-4o", "", "key")
	require.NoError(t, err)
	assert.IsType(t, &OpenAIOracle{}, o)

	_, err = New("local", "", "", "")
	assert.Error(t, err)
}

const modelAnswer = `{"intent":"accept","extracted_times":["2026-07-06T10:00:00Z"],"confidence":0.93,"reasoning":"agrees to Monday"}`

func TestAnthropicOracle_Classify(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":            "msg_1",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-test",
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content":       []map[string]interface{}{{"type": "text", "text": modelAnswer}},
			"usage":         map[string]interface{}{"input_tokens": 10, "output_tokens": 20},
		})
	}))
	defer srv.Close()

	o := NewAnthropicOracle(func(o *AnthropicOptions) {
		o.APIKey = "test-key"
		o.BaseURL = srv.URL + "/"
		o.Model = "claude-test"
	})
	res, err := o.Classify(context.Background(), sampleInput())
	require.NoError(t, err)

	assert.Equal(t, intent.Accept, res.Intent)
	assert.Equal(t, 0.93, res.Confidence)
	require.Len(t, res.ExtractedTimes, 1)
	assert.Equal(t, "claude-test", gotBody["model"])
}

func TestAnthropicOracle_APIError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`))
	}))
	defer srv.Close()

	o := NewAnthropicOracle(func(o *AnthropicOptions) {
		o.APIKey = "test-key"
		o.BaseURL = srv.URL + "/"
	})
	_, err := o.Classify(context.Background(), sampleInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic api error")
	assert.Equal(t, 1, calls, "the client must not retry on its own")
}

func TestOpenAIOracle_Classify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1767225600,
			"model":   "gpt-test",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]interface{}{"role": "assistant", "content": modelAnswer},
			}},
		})
	}))
	defer srv.Close()

	o := NewOpenAIOracle(func(o *OpenAIOptions) {
		o.APIKey = "test-key"
		o.BaseURL = srv.URL + "/"
		o.Model = "gpt-test"
	})
	res, err := o.Classify(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, intent.Accept, res.Intent)
	assert.Equal(t, "agrees to Monday", res.Reasoning)
}

func TestOpenAIOracle_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-test","choices":[]}`))
	}))
	defer srv.Close()

	o := NewOpenAIOracle(func(o *OpenAIOptions) {
		o.APIKey = "test-key"
		o.BaseURL = srv.URL + "/"
	})
	_, err := o.Classify(context.Background(), sampleInput())
	assert.Error(t, err)
}
