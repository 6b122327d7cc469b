package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/juju/errors"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/nrega-mitra/backend/internal/logging"
)

// Commands the interpreter can return
const (
	CommandGetDistrictData  = "GetDistrictData"
	CommandCompareDistricts = "CompareDistricts"
	CommandGeneralQuery     = "GeneralQuery"
)

// AgentResponse defines the structured output from the OpenAI agent.
type AgentResponse struct {
	CommandName  string `json:"command_name" jsonschema_description:"One of GetDistrictData, CompareDistricts or GeneralQuery"`
	DistrictName string `json:"district_name" jsonschema_description:"District name exactly as spelled in the supported list, or empty"`
	CompareWith  string `json:"compare_with" jsonschema_description:"Second district for CompareDistricts, exactly as spelled in the supported list, or empty"`
	Language     string `json:"language" jsonschema_description:"Language of the user message: English, Marathi or Hindi"`
	UserMessage  string `json:"user_message" jsonschema_description:"A short message to show back to the user in their original language"`
}

// OpenAIService defines the interface for interacting with the OpenAI agent.
type OpenAIService interface {
	InterpretUserQuery(ctx context.Context, userMessage string, supportedDistricts []string) (*AgentResponse, error)
}

// openAIServiceImpl implements the OpenAIService interface.
type openAIServiceImpl struct {
	client openai.Client
	schema interface{}
	logger *zap.Logger
}

// GenerateSchema generates a JSON schema for a given type.
func GenerateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	return schema
}

// NewOpenAIService creates and initializes a new OpenAIService.
func NewOpenAIService(apiKey string, logger *zap.Logger) (OpenAIService, error) {
	if apiKey == "" {
		return nil, errors.NotValidf("empty OPENAI_API_KEY")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	schema := GenerateSchema[AgentResponse]()

	return &openAIServiceImpl{
		client: client,
		schema: schema,
		logger: logging.OrNop(logger).Named("openai"),
	}, nil
}

// SystemPrompt builds the instructions for the interpreter
func SystemPrompt(supportedDistricts []string) string {
	return fmt.Sprintf(`You are NREGA Mitra, a friendly assistant that helps citizens of Maharashtra understand
MGNREGA (rural employment guarantee) performance of their district.

You understand Marathi, Hindi and English, including romanised Marathi and Hindi.
Always reply in the language the user wrote in, in simple words suitable for readers with little
formal education.

Supported districts: %s

Behavior:
1. If the user wants data about one district from the list:
   - command_name = "GetDistrictData"
   - district_name = the matching district exactly as spelled in the list (map local spellings such
     as "पुणे" or "Poona" to "PUNE"); leave it empty if unsure.
   - user_message: a one-line confirmation in the user's language.
2. If the user wants to compare two districts from the list:
   - command_name = "CompareDistricts"
   - district_name and compare_with = the two districts exactly as spelled in the list.
   - user_message: a one-line confirmation in the user's language.
3. Otherwise (greetings, questions about the scheme, anything else):
   - command_name = "GeneralQuery", district_name = "", compare_with = ""
   - user_message: a short helpful answer in the user's language.

Set language to English, Marathi or Hindi. Output **strictly** in JSON.`, strings.Join(supportedDistricts, ", "))
}

// InterpretUserQuery sends a message to the OpenAI agent and returns the structured response.
func (s *openAIServiceImpl) InterpretUserQuery(ctx context.Context, userMessage string, supportedDistricts []string) (*AgentResponse, error) {
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "agent_response",
		Description: openai.String("Structured response containing command, district names, language and user message"),
		Schema:      s.schema,
		Strict:      openai.Bool(true),
	}

	respFormat := openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
	}

	chat, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt(supportedDistricts)),
			openai.UserMessage(userMessage),
		},
		ResponseFormat: respFormat,
		Model:          openai.ChatModelGPT4o,
	})
	if err != nil {
		return nil, errors.Annotate(err, "error calling OpenAI API")
	}

	if len(chat.Choices) == 0 || chat.Choices[0].Message.Content == "" {
		return nil, errors.New("received empty response from OpenAI")
	}

	agentResp, err := ParseAgentResponse(chat.Choices[0].Message.Content)
	if err != nil {
		s.logger.Warn("failed to unmarshal OpenAI response",
			zap.Error(err),
			zap.String("raw", chat.Choices[0].Message.Content))
		return nil, err
	}
	return agentResp, nil
}

// ParseAgentResponse decodes and normalizes the agent's JSON output
func ParseAgentResponse(content string) (*AgentResponse, error) {
	var agentResp AgentResponse
	if err := json.Unmarshal([]byte(content), &agentResp); err != nil {
		return nil, errors.Annotate(err, "error unmarshalling OpenAI response")
	}
	agentResp.DistrictName = strings.ToUpper(strings.TrimSpace(agentResp.DistrictName))
	agentResp.CompareWith = strings.ToUpper(strings.TrimSpace(agentResp.CompareWith))
	return &agentResp, nil
}
