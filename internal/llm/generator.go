// Package llm plans expansion search queries with large language models.
//
// A Generator turns a session's research direction and the briefs of
// recently ingested papers into the next search query. Providers talk to the
// OpenAI Chat Completions and Anthropic Messages APIs over HTTP and expect a
// JSON object in the model's reply:
//
//	{"query": "...", "reasoning": "..."}
//
// Example usage:
//
//	gen := llm.NewOpenAIProvider(llm.OpenAIConfig{APIKey: key}, 0.4, 60*time.Second, 3)
//	q, err := gen.Generate(ctx, direction, briefs, round)
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// maxQueryLength bounds the query handed to the search backend.
const maxQueryLength = 300

// Generator plans search queries. It satisfies orchestrator.QueryGenerator.
type Generator interface {
	Generate(ctx context.Context, direction domain.Direction, briefs []domain.Brief, round int) (domain.GeneratedQuery, error)

	// Provider returns the name of the LLM provider (e.g., "openai", "anthropic").
	Provider() string

	// Model returns the model identifier being used.
	Model() string
}

// llmResponse is the expected JSON structure from LLM responses.
type llmResponse struct {
	Query     string `json:"query"`
	Reasoning string `json:"reasoning,omitempty"`
}

// BuildQueryPrompt builds the system and user prompts for query planning.
func BuildQueryPrompt(direction domain.Direction, briefs []domain.Brief, round int) (systemPrompt, userPrompt string) {
	return buildSystemPrompt(), buildUserPrompt(direction, briefs, round)
}

func buildSystemPrompt() string {
	var sb strings.Builder

	sb.WriteString("You plan literature searches for an iterative review. Each round you ")
	sb.WriteString("propose one search query that is likely to surface relevant papers the ")
	sb.WriteString("collection does not contain yet.\n\n")

	sb.WriteString("You MUST respond with valid JSON in exactly this format:\n")
	sb.WriteString(`{"query": "search terms", "reasoning": "Brief explanation of the choice"}`)
	sb.WriteString("\n\n")

	sb.WriteString("Guidelines:\n")
	sb.WriteString("1. Keep the query short: a few precise academic terms or phrases.\n")
	sb.WriteString("2. Stay on the research topic; use the recent papers to find adjacent angles.\n")
	sb.WriteString("3. Do not repeat the exact query of an earlier round.\n")
	sb.WriteString("4. Prefer established terminology over generic words such as \"study\" or \"analysis\".\n")

	return sb.String()
}

func buildUserPrompt(direction domain.Direction, briefs []domain.Brief, round int) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Round: %d\n", round)
	fmt.Fprintf(&sb, "Research topic: %s\n", direction.Topic)
	if len(direction.Keywords) > 0 {
		fmt.Fprintf(&sb, "Keywords: %s\n", strings.Join(direction.Keywords, ", "))
	}
	if direction.Notes != "" {
		fmt.Fprintf(&sb, "Notes: %s\n", direction.Notes)
	}

	if len(briefs) > 0 {
		sb.WriteString("\nRecently added papers:\n")
		for _, b := range briefs {
			sb.WriteString("- ")
			sb.WriteString(b.Title)
			if b.Snippet != "" {
				sb.WriteString(": ")
				sb.WriteString(b.Snippet)
			}
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("\nNo papers have been added yet.\n")
	}

	sb.WriteString("\nPropose the next search query.")
	return sb.String()
}

// parseQuery decodes the model's JSON reply into a query.
func parseQuery(provider, content string) (domain.GeneratedQuery, error) {
	content = strings.TrimSpace(content)
	// Some models wrap JSON in a fenced block despite instructions.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var parsed llmResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &parsed); err != nil {
		return domain.GeneratedQuery{}, fmt.Errorf("%s: failed to parse LLM response as JSON: %w", provider, err)
	}

	query := strings.Join(strings.Fields(parsed.Query), " ")
	if query == "" {
		return domain.GeneratedQuery{}, fmt.Errorf("%s: LLM response contains no query", provider)
	}
	if len(query) > maxQueryLength {
		query = strings.TrimSpace(query[:maxQueryLength])
	}

	return domain.GeneratedQuery{Query: query, Reasoning: parsed.Reasoning}, nil
}
