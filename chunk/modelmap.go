package chunk

import (
	"regexp"
	"strings"
)

// Model tiers selected by the context classifier. Documents talking about
// reasoning get routed to the reasoning model, embedding-flavored text to the
// embedding model, everything else to the mapped chat model.
const (
	reasoningModel = "o3-mini"
	embeddingModel = "text-embedding-3-small"
	defaultChat    = "gpt-4o-mini"
)

// legacyModels maps retired model names to their modern chat-tier equivalent.
var legacyModels = map[string]string{
	"text-davinci-003":       defaultChat,
	"text-davinci-002":       defaultChat,
	"text-curie-001":         defaultChat,
	"text-babbage-001":       defaultChat,
	"text-ada-001":           defaultChat,
	"davinci":                defaultChat,
	"curie":                  defaultChat,
	"babbage":                defaultChat,
	"ada":                    defaultChat,
	"code-davinci-002":       "gpt-4o",
	"code-cushman-001":       "gpt-4o",
	"gpt-3.5-turbo-0301":     defaultChat,
	"text-embedding-ada-002": embeddingModel,
}

var reasoningKeywords = []string{
	"solve", "logic", "step-by-step", "step by step", "reasoning",
	"proof", "theorem", "deduce", "chain of thought",
}

var embeddingKeywords = []string{
	"embedding", "vector", "similarity", "semantic search",
	"cosine", "nearest neighbor", "retrieval",
}

// ModelMapper rewrites legacy model references in documentation text to a
// modern model, using the surrounding text to pick the right tier.
type ModelMapper struct{}

// NewModelMapper creates a model mapper.
func NewModelMapper() *ModelMapper {
	return &ModelMapper{}
}

// MapModel returns the modern replacement for a legacy model name given its
// surrounding context. Known legacy names use their table entry unless the
// context clearly calls for the reasoning or embedding tier; unknown names
// fall back to the same three-way context classifier.
func (m *ModelMapper) MapModel(legacy string, context string) string {
	ctxLower := strings.ToLower(context)

	if containsAny(ctxLower, reasoningKeywords) {
		return reasoningModel
	}
	if containsAny(ctxLower, embeddingKeywords) {
		return embeddingModel
	}

	if modern, ok := legacyModels[strings.ToLower(legacy)]; ok {
		return modern
	}
	return defaultChat
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Legacy OpenAI API idioms rewritten to their modern equivalents.
var (
	legacyCompletionCall = regexp.MustCompile(`\bopenai\.Completion\.create\b`)
	legacyChatCall       = regexp.MustCompile(`\bopenai\.ChatCompletion\.create\b`)
	legacyEngineParam    = regexp.MustCompile(`\bengine\s*=\s*(["'])([^"']+)(["'])`)
	legacyModelParam     = regexp.MustCompile(`\bmodel\s*=\s*(["'])([^"']+)(["'])`)
	legacyResponseField  = regexp.MustCompile(`(\.choices\[\d+\])\.text\b`)
)

// RewriteAPICalls modernizes known-obsolete API call patterns found in
// collected documents: legacy completion calls become chat-completion calls,
// engine= becomes model= (with the model name mapped), and legacy response
// field access becomes the modern message accessor.
func (m *ModelMapper) RewriteAPICalls(text string) string {
	out := legacyCompletionCall.ReplaceAllString(text, "client.chat.completions.create")
	out = legacyChatCall.ReplaceAllString(out, "client.chat.completions.create")

	out = legacyEngineParam.ReplaceAllStringFunc(out, func(match string) string {
		parts := legacyEngineParam.FindStringSubmatch(match)
		modern := m.MapModel(parts[2], text)
		return "model=" + parts[1] + modern + parts[3]
	})

	out = legacyModelParam.ReplaceAllStringFunc(out, func(match string) string {
		parts := legacyModelParam.FindStringSubmatch(match)
		if _, isLegacy := legacyModels[strings.ToLower(parts[2])]; !isLegacy {
			return match
		}
		modern := m.MapModel(parts[2], text)
		return "model=" + parts[1] + modern + parts[3]
	})

	out = legacyResponseField.ReplaceAllString(out, "$1.message.content")
	return out
}
