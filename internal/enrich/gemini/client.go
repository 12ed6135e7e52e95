// Package gemini implements the classification capability on the Gemini
// API with schema-constrained JSON output.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/chairwatch/chairwatch/internal/catalog"
)

// Config holds Gemini client settings.
type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the API base URL. Useful for proxies and tests.
	BaseURL string
}

// Client calls Gemini for posting classification tasks.
type Client struct {
	client *genai.Client
	model  string
}

// New builds a Gemini-backed classifier.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

// ModelID identifies the model, recorded on every cached result.
func (c *Client) ModelID() string { return c.model }

var taskSchemas = map[catalog.TaskType]*genai.Schema{
	catalog.TaskRelevance: {
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"relevance_score": {Type: genai.TypeNumber},
			"seniority_match": {Type: genai.TypeBoolean},
			"rationale":       {Type: genai.TypeString},
		},
		Required: []string{"relevance_score", "seniority_match", "rationale"},
	},
	catalog.TaskExtraction: {
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"city":           {Type: genai.TypeString},
			"country":        {Type: genai.TypeString},
			"language":       {Type: genai.TypeString},
			"contract_type":  {Type: genai.TypeString},
			"fte":            {Type: genai.TypeNumber, Nullable: genai.Ptr(true)},
			"salary_min":     {Type: genai.TypeNumber, Nullable: genai.Ptr(true)},
			"salary_max":     {Type: genai.TypeNumber, Nullable: genai.Ptr(true)},
			"currency":       {Type: genai.TypeString},
			"interview_date": {Type: genai.TypeString},
			"topic_tags":     {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		},
		Required: []string{"city", "country", "language", "contract_type", "currency", "interview_date", "topic_tags"},
	},
	catalog.TaskSynopsis: {
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"synopsis": {Type: genai.TypeString},
		},
		Required: []string{"synopsis"},
	},
	catalog.TaskRankFallback: {
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"rank_bucket": {
				Type: genai.TypeString,
				Enum: []string{"professor", "associate_professor", "assistant_professor", "research_fellow", "postdoc", "other"},
			},
		},
		Required: []string{"rank_bucket"},
	},
}

var taskInstructions = map[catalog.TaskType]string{
	catalog.TaskRelevance: `You assess academic job postings for a statistics and data science
audience. Score how relevant the posting below is on a 0.0 to 1.0 scale,
decide whether it targets a permanent faculty-level appointment, and give
a one-sentence rationale.`,
	catalog.TaskExtraction: `Extract structured facts from the academic job posting below. Use empty
strings and null for anything the text does not state. Dates are ISO 8601
(YYYY-MM-DD). topic_tags is a short list of research areas.`,
	catalog.TaskSynopsis: `Write a two-sentence English synopsis of the academic job posting below.
The posting may be in another language.`,
	catalog.TaskRankFallback: `Classify the academic seniority of the job posting below into exactly one
rank bucket.`,
}

// Classify runs one task against the model and returns its structured
// JSON output.
func (c *Client) Classify(ctx context.Context, task catalog.TaskType, promptVersion, input string) (json.RawMessage, error) {
	schema, ok := taskSchemas[task]
	if !ok {
		return nil, fmt.Errorf("gemini: unknown task %q", task)
	}

	prompt := fmt.Sprintf("%s\n\n[prompt %s]\n\nPosting:\n%s", taskInstructions[task], promptVersion, input)
	resp, err := c.client.Models.GenerateContent(
		ctx,
		c.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini: %s: %w", task, err)
	}

	out := json.RawMessage(resp.Text())
	if !json.Valid(out) {
		return nil, fmt.Errorf("gemini: %s returned non-json output", task)
	}
	return out, nil
}
