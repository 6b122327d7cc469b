package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAIServiceRequiresKey(t *testing.T) {
	_, err := NewOpenAIService("", nil)
	assert.Error(t, err)

	svc, err := NewOpenAIService("sk-test", nil)
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestGenerateSchemaListsAllFields(t *testing.T) {
	raw, err := json.Marshal(GenerateSchema[AgentResponse]())
	require.NoError(t, err)

	var schema struct {
		Properties map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(raw, &schema))
	for _, field := range []string{"command_name", "district_name", "compare_with", "language", "user_message"} {
		assert.Contains(t, schema.Properties, field)
	}
}

func TestSystemPromptMentionsDistricts(t *testing.T) {
	prompt := SystemPrompt([]string{"PUNE", "NAGPUR"})
	assert.Contains(t, prompt, "PUNE, NAGPUR")
	assert.Contains(t, prompt, CommandCompareDistricts)
}

func TestParseAgentResponse(t *testing.T) {
	resp, err := ParseAgentResponse(`{"command_name":"CompareDistricts","district_name":" pune","compare_with":"Nagpur","language":"Marathi","user_message":"ठीक आहे"}`)
	require.NoError(t, err)
	assert.Equal(t, CommandCompareDistricts, resp.CommandName)
	assert.Equal(t, "PUNE", resp.DistrictName)
	assert.Equal(t, "NAGPUR", resp.CompareWith)
	assert.Equal(t, "Marathi", resp.Language)

	_, err = ParseAgentResponse("not json")
	assert.Error(t, err)
}
