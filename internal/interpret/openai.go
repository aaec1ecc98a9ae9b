package interpret

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// chatCompleter is the slice of the OpenAI client the gateway needs. Tests
// substitute a canned implementation.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements Client on top of the OpenAI chat completion API.
type OpenAIClient struct {
	api   chatCompleter
	model string
}

// NewOpenAIClient constructs an OpenAI-backed interpretation gateway. An
// empty model name falls back to a small default.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{
		api:   openai.NewClient(apiKey),
		model: model,
	}
}

// complete runs a single system+user completion and returns the trimmed text.
func (c *OpenAIClient) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) ClassifyYesNo(ctx context.Context, utterance, question string) (Verdict, error) {
	out, err := c.complete(ctx, classifySystem, fmt.Sprintf(classifyTemplate, question, utterance))
	if err != nil {
		return Unclear, err
	}
	return parseVerdict(out), nil
}

func (c *OpenAIClient) ClassifyYesNoDetail(ctx context.Context, utterance, question string) (Verdict, string, error) {
	out, err := c.complete(ctx, classifyDetailSystem, fmt.Sprintf(classifyDetailTemplate, question, utterance))
	if err != nil {
		return Unclear, "", err
	}
	verdict, detail := parseVerdictDetail(out)
	return verdict, detail, nil
}

func (c *OpenAIClient) ValidateSlot(ctx context.Context, slotKind, raw, question string) (bool, string, error) {
	prompt := fmt.Sprintf(validateTemplate, ruleFor(slotKind), question, raw)
	out, err := c.complete(ctx, validateSystem, prompt)
	if err != nil {
		// fall back to accepting the raw value rather than blocking the turn
		return true, raw, err
	}
	return parseValidation(out, raw)
}

func (c *OpenAIClient) ExtractDetail(ctx context.Context, question, raw, slotKind string) string {
	prompt := fmt.Sprintf(extractTemplate, question, raw)
	if slotKind != "" {
		prompt += fmt.Sprintf(extractSlotHint, slotKind)
	}
	out, err := c.complete(ctx, extractSystem, prompt)
	if err != nil || out == "" {
		if err != nil {
			log.Printf("interpret: extraction failed, keeping raw value: %v", err)
		}
		return raw
	}
	return out
}

func (c *OpenAIClient) DetectConfusion(ctx context.Context, utterance, question string) bool {
	out, err := c.complete(ctx, confusionSystem, fmt.Sprintf(confusionTemplate, question, utterance))
	if err != nil {
		return false
	}
	return strings.EqualFold(firstWord(out), "REPEAT")
}

func (c *OpenAIClient) Rephrase(ctx context.Context, question string) (string, bool) {
	out, err := c.complete(ctx, rephraseSystem, fmt.Sprintf(rephraseTemplate, question))
	if err != nil || out == "" {
		return "", false
	}
	return out, true
}

func (c *OpenAIClient) SelectPreanswered(ctx context.Context, question, response string, followups []string) map[int]bool {
	selected := make(map[int]bool)
	if len(followups) == 0 {
		return selected
	}
	var list strings.Builder
	for i, f := range followups {
		fmt.Fprintf(&list, "%d. %s\n", i+1, f)
	}
	out, err := c.complete(ctx, preansweredSystem, fmt.Sprintf(preansweredTemplate, question, response, list.String()))
	if err != nil {
		return selected
	}
	for _, idx := range parseIndexList(out, len(followups)) {
		selected[idx] = true
	}
	return selected
}

// parseVerdict maps free-form classifier output onto a Verdict, defaulting
// to Unclear for anything unexpected.
func parseVerdict(out string) Verdict {
	switch strings.ToUpper(firstWord(out)) {
	case "YES":
		return Yes
	case "NO":
		return No
	default:
		return Unclear
	}
}

// parseVerdictDetail handles the "YES|detail" form of the detail classifier.
func parseVerdictDetail(out string) (Verdict, string) {
	head, detail, _ := strings.Cut(out, "|")
	verdict := parseVerdict(head)
	detail = strings.TrimSpace(detail)
	if verdict != Yes {
		detail = ""
	}
	return verdict, detail
}

// parseValidation handles the "VALID", "VALID|value" and "INVALID|question"
// wire forms. Anything unexpected is treated as valid with the raw value, so
// a confused model never blocks the interview.
func parseValidation(out, raw string) (bool, string, error) {
	head, rest, cut := strings.Cut(out, "|")
	rest = strings.TrimSpace(rest)
	switch strings.ToUpper(strings.TrimSpace(head)) {
	case "VALID":
		if cut && rest != "" {
			return true, rest, nil
		}
		return true, raw, nil
	case "INVALID":
		if rest == "" {
			return true, raw, fmt.Errorf("invalid verdict without reworded question: %q", out)
		}
		return false, rest, nil
	default:
		return true, raw, fmt.Errorf("unexpected validation output: %q", out)
	}
}

// parseIndexList extracts 1-based indices from "1, 3" style output and
// returns them 0-based, dropping anything out of range. "NONE" or garbage
// yields nothing.
func parseIndexList(out string, n int) []int {
	var indices []int
	for _, part := range strings.FieldsFunc(out, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n'
	}) {
		v, err := strconv.Atoi(strings.TrimSuffix(part, "."))
		if err != nil {
			continue
		}
		if v >= 1 && v <= n {
			indices = append(indices, v-1)
		}
	}
	return indices
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], ".,!")
}
