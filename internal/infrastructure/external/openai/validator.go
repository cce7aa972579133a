// Package openai validates authorization documents with a chat completion model.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/application/port"
	"github.com/garyjia/prior-auth/internal/domain/entity"
)

// Config holds OpenAI client settings
type Config struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	Model        string `mapstructure:"model"`
	MaxTextChars int    `mapstructure:"max_text_chars"`
	PromptsPath  string `mapstructure:"prompts_path"`
}

// RequiredFields lists what a document of each type must show
var RequiredFields = map[string][]string{
	entity.DocumentTypeMedicalReport:   {"patient name", "diagnosis", "physician signature", "date"},
	entity.DocumentTypePrescription:    {"patient name", "medication or procedure", "prescriber", "date"},
	entity.DocumentTypeLabResults:      {"patient name", "test name", "result values", "collection date"},
	entity.DocumentTypeImaging:         {"patient name", "study type", "findings", "radiologist"},
	entity.DocumentTypeInsuranceCard:   {"member name", "member id", "plan name"},
	entity.DocumentTypeReferral:        {"patient name", "referring physician", "reason for referral"},
	entity.DocumentTypeClinicalSummary: {"patient name", "history", "current treatment"},
	entity.DocumentTypeConsentForm:     {"patient name", "procedure", "patient signature", "date"},
}

var defaultRequiredFields = []string{"patient name", "date"}

// DocumentValidator implements port.DocumentValidator using OpenAI
type DocumentValidator struct {
	client       *openai.Client
	model        string
	maxTextChars int
	prompts      *PromptConfig
	storage      port.DocumentStorage
	logger       *zap.Logger
}

// NewDocumentValidator creates a new OpenAI document validator. storage is only
// needed to send image documents without extracted text to the vision model.
func NewDocumentValidator(cfg Config, prompts *PromptConfig, storage port.DocumentStorage, logger *zap.Logger) *DocumentValidator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = 12000
	}
	if prompts == nil {
		prompts = DefaultPrompts()
	}

	return &DocumentValidator{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		maxTextChars: cfg.MaxTextChars,
		prompts:      prompts,
		storage:      storage,
		logger:       logger,
	}
}

type promptData struct {
	DocumentType   string
	FileName       string
	RequiredFields []string
	Text           string
}

type validationResponse struct {
	IsValid       bool     `json:"is_valid"`
	Notes         string   `json:"notes"`
	MissingFields []string `json:"missing_fields"`
}

// ValidateDocument asks the model whether the document is usable for review
func (v *DocumentValidator) ValidateDocument(ctx context.Context, doc entity.Document, ocr *port.OCRResult) (*port.ValidationResult, error) {
	data := promptData{
		DocumentType:   doc.Type,
		FileName:       doc.FileName,
		RequiredFields: requiredFieldsFor(doc.Type),
	}

	text := ""
	if ocr != nil {
		text = strings.TrimSpace(ocr.Text)
	}

	var req openai.ChatCompletionRequest
	switch {
	case text != "":
		if len(text) > v.maxTextChars {
			text = text[:v.maxTextChars]
		}
		data.Text = text
		prompt, err := renderTemplate(v.prompts.DocumentValidation.UserTemplate, data)
		if err != nil {
			return nil, err
		}
		req = v.chatRequest(v.prompts.DocumentValidation, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		})

	case isImage(doc) && v.storage != nil:
		msg, err := v.imageMessage(ctx, doc, data)
		if err != nil {
			return nil, err
		}
		req = v.chatRequest(v.prompts.ImageValidation, msg)

	default:
		return &port.ValidationResult{
			IsValid: false,
			Notes:   "no readable text in document",
		}, nil
	}

	resp, err := v.client.CreateChatCompletion(ctx, req)
	if err != nil {
		v.logger.Error("OpenAI API call failed",
			zap.String("document_id", doc.ID),
			zap.Error(err))
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	result, err := parseValidation(resp.Choices[0].Message.Content)
	if err != nil {
		v.logger.Error("Failed to parse OpenAI response",
			zap.String("document_id", doc.ID),
			zap.String("content", resp.Choices[0].Message.Content),
			zap.Error(err))
		return nil, err
	}

	v.logger.Info("Document validation completed",
		zap.String("document_id", doc.ID),
		zap.String("document_type", doc.Type),
		zap.Bool("valid", result.IsValid),
		zap.Strings("missing_fields", result.MissingFields))

	return &port.ValidationResult{
		IsValid:       result.IsValid && len(result.MissingFields) == 0,
		Notes:         result.Notes,
		MissingFields: result.MissingFields,
	}, nil
}

func (v *DocumentValidator) chatRequest(spec PromptSpec, user openai.ChatCompletionMessage) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       v.model,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: spec.System},
			user,
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
}

func (v *DocumentValidator) imageMessage(ctx context.Context, doc entity.Document, data promptData) (openai.ChatCompletionMessage, error) {
	content, err := v.storage.Read(ctx, doc.StoragePath)
	if err != nil {
		return openai.ChatCompletionMessage{}, fmt.Errorf("failed to read image: %w", err)
	}
	prompt, err := renderTemplate(v.prompts.ImageValidation.UserTemplate, data)
	if err != nil {
		return openai.ChatCompletionMessage{}, err
	}

	mimeType := doc.MimeType
	if mimeType == "" {
		mimeType = "image/png"
	}

	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(content)),
					Detail: openai.ImageURLDetailHigh,
				},
			},
		},
	}, nil
}

// parseValidation decodes the model answer, falling back to the first JSON
// object embedded in surrounding prose or markdown fences
func parseValidation(content string) (*validationResponse, error) {
	var result validationResponse
	if err := json.Unmarshal([]byte(content), &result); err == nil {
		return &result, nil
	}
	if jsonStr := extractJSON(content); jsonStr != "" {
		if err := json.Unmarshal([]byte(jsonStr), &result); err == nil {
			return &result, nil
		}
	}
	return nil, fmt.Errorf("failed to parse response: %q", truncate(content, 200))
}

func requiredFieldsFor(docType string) []string {
	if fields, ok := RequiredFields[docType]; ok {
		return fields
	}
	return defaultRequiredFields
}

func isImage(doc entity.Document) bool {
	if strings.HasPrefix(strings.ToLower(doc.MimeType), "image/") {
		return true
	}
	name := strings.ToLower(doc.FileName)
	return strings.HasSuffix(name, ".png") || strings.HasSuffix(name, ".jpg") || strings.HasSuffix(name, ".jpeg")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}
	end := findJSONEnd(content, start)
	if end <= start {
		return ""
	}
	return content[start:end]
}

// findJSONEnd returns the index after the brace closing the object at start
func findJSONEnd(content string, start int) int {
	braceCount := 0
	inString := false
	escapeNext := false

	for i := start; i < len(content); i++ {
		char := content[i]

		if escapeNext {
			escapeNext = false
			continue
		}
		if char == '\\' {
			escapeNext = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch char {
		case '{':
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 {
				return i + 1
			}
		}
	}

	return -1
}

var _ port.DocumentValidator = (*DocumentValidator)(nil)
