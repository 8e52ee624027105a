package gcp

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// --- Summary Model Prompts ---
const SummarySystemPrompt = "You are an assistant that writes meeting minutes. You read the transcript of a recorded meeting and produce a faithful, structured summary. You must output your response as a single valid JSON object."
const SummaryUserPrompt = `You will be provided with the transcript of a meeting.

Follow these rules precisely:
1.  "title": a short title describing what the meeting was about.
2.  "minutes": a concise narrative of the discussion, decisions and open points, in the language of the transcript.
3.  "actionItems": an array of objects, one per follow-up task, each with exactly these keys:
    - "task": what needs to be done.
    - "assignee": the person responsible, or "Unassigned" if nobody was named.
    - "deadline": the deadline as spoken in the meeting, or null if none was given.
    - "priority": one of "high", "medium" or "low".
4.  "nextMeeting": an object with "date", "location" and "notes" if a follow-up meeting was agreed, otherwise null.
5.  Do not invent participants, decisions or deadlines that are not in the transcript.
6.  The final output MUST be a single JSON object with these keys. Do not include any text before or after it.

Transcript:
`

// refusalPhrases mark a model answer that declines the task.
var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i'm sorry, but",
	"as an ai language model",
}

// VertexClient holds the pre-configured generative models for the pipeline.
type VertexClient struct {
	SummaryModel *genai.GenerativeModel
	baseClient   *genai.Client
}

// NewVertexClient creates a client holding the summary model.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	summaryModel := baseClient.GenerativeModel(modelName)
	summaryModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(SummarySystemPrompt)},
	}
	summaryModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.2),
	}
	// Meeting talk routinely trips the default filters on harmless phrasing.
	summaryModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		SummaryModel: summaryModel,
		baseClient:   baseClient,
	}, nil
}

// Close closes the underlying genai client.
func (vc *VertexClient) Close() error {
	if vc.baseClient != nil {
		return vc.baseClient.Close()
	}
	return nil
}

// GenerateSummary asks the summary model for JSON minutes of transcript and
// returns the answer text as received.
func (vc *VertexClient) GenerateSummary(ctx context.Context, transcript string) (string, error) {
	resp, err := vc.SummaryModel.GenerateContent(ctx, genai.Text(SummaryUserPrompt+transcript))
	if err != nil {
		return "", fmt.Errorf("generating summary: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return "", err
	}
	if IsRefusal(text) {
		return "", fmt.Errorf("model declined to summarize: %q", truncate(text, 120))
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("received an empty response from the model")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("model response did not contain any text")
	}
	return b.String(), nil
}

// IsRefusal reports whether a model answer opens by declining the task.
func IsRefusal(text string) bool {
	head := strings.ToLower(truncate(strings.TrimSpace(text), 200))
	for _, phrase := range refusalPhrases {
		if strings.Contains(head, phrase) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
