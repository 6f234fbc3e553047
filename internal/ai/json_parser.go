package ai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Pre-compiled regular expressions used to repair model JSON output.
var (
	// Matches: ```json\n{...}\n```, ```{...}```, ``` json{...}```, etc.
	codeFenceRegex = regexp.MustCompile(`(?s)` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}`)

	trailingCommaRegex     = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRegex       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_$][a-zA-Z0-9_$]*)\s*:`)
	singleLineCommentRegex = regexp.MustCompile(`(?m)^\s*//.*$`)
	multiLineCommentRegex  = regexp.MustCompile(`(?s)/\*.*?\*/`)

	// Greedy, to capture nested structures
	objectRegex = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
)

// ParseResult represents the result of a JSON parse operation.
type ParseResult[T any] struct {
	Success      bool
	Data         T
	Error        string
	OriginalText string
}

// ParseOptions configures JSON parsing behavior.
type ParseOptions struct {
	Context      string // Context for error messages
	LogErrors    bool   // Log parsing fallbacks at debug level
	MaxInputSize int    // Maximum input size in bytes (0 = default 1MB)
}

const defaultMaxInputSize = 1024 * 1024

// Parse attempts to parse a JSON object out of a model response.
//
// Strategy sequence:
//  1. Direct JSON parse
//  2. Remove code fences and retry
//  3. Fix trailing commas, unquoted keys and comments, and retry
//  4. Extract the outermost object from mixed prose and retry
func Parse[T any](text string, opts ...ParseOptions) ParseResult[T] {
	var options ParseOptions
	if len(opts) > 0 {
		options = opts[0]
	}
	if options.MaxInputSize == 0 {
		options.MaxInputSize = defaultMaxInputSize
	}

	if len(text) > options.MaxInputSize {
		return parseError[T](
			fmt.Sprintf("input exceeds size limit (%d > %d bytes)", len(text), options.MaxInputSize),
			truncate(text, 1000),
			options.Context,
		)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return parseError[T]("empty input", text, options.Context)
	}

	candidates := []string{trimmed}
	withoutFences := removeCodeFences(trimmed)
	if withoutFences != trimmed {
		candidates = append(candidates, withoutFences)
	}
	cleaned := cleanupJSON(withoutFences)
	candidates = append(candidates, cleaned)
	if extracted := objectRegex.FindString(cleaned); extracted != "" && extracted != cleaned {
		candidates = append(candidates, extracted)
	}

	for i, candidate := range candidates {
		var result T
		err := json.Unmarshal([]byte(candidate), &result)
		if err == nil {
			return ParseResult[T]{Success: true, Data: result, OriginalText: text}
		}
		if i == 0 && options.LogErrors {
			slog.Debug("Direct JSON parse failed, trying cleanup strategies",
				"error", err.Error(),
				"textPreview", truncate(text, 100),
				"context", options.Context)
		}
	}

	return parseError[T]("all JSON parsing strategies failed", text, options.Context)
}

// removeCodeFences strips markdown code fences from text.
func removeCodeFences(text string) string {
	cleaned := text
	if m := codeFenceRegex.FindStringSubmatch(text); m != nil {
		cleaned = m[1]
	}

	if strings.HasPrefix(cleaned, "`") && strings.HasSuffix(cleaned, "`") {
		cleaned = strings.Trim(cleaned, "`")
	}

	return strings.TrimSpace(cleaned)
}

// cleanupJSON fixes common JSON formatting issues in model output.
// Single quotes are left alone: converting them would break apostrophes in replies.
func cleanupJSON(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = multiLineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = singleLineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = trailingCommaRegex.ReplaceAllString(cleaned, "$1")
	cleaned = unquotedKeyRegex.ReplaceAllString(cleaned, `$1"$2":`)
	return strings.TrimSpace(cleaned)
}

func parseError[T any](message, text, context string) ParseResult[T] {
	var zero T
	if context != "" {
		message = context + ": " + message
	}
	return ParseResult[T]{Success: false, Data: zero, Error: message, OriginalText: text}
}

// truncate truncates a string to maxLen bytes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
