// Package report turns process results into chat messages. Everything here is pure.
package report

import (
	"strings"
	"unicode/utf8"
)

const (
	// MessageBudget keeps replies well under Telegram's 4096 character message limit.
	MessageBudget = 3500
	// OutputBudget bounds a raw output excerpt embedded in a message.
	OutputBudget     = 1200
	TruncationMarker = "\n… (output truncated)"
)

// Truncate keeps at most budget runes of text and appends TruncationMarker when
// anything was cut.
func Truncate(text string, budget int) string {
	if budget < 0 {
		budget = 0
	}
	if utf8.RuneCountInString(text) <= budget {
		return text
	}
	runes := []rune(text)
	return string(runes[:budget]) + TruncationMarker
}

// Tail keeps the last budget runes of text, prefixed with an ellipsis when cut.
func Tail(text string, budget int) string {
	text = strings.TrimSpace(text)
	if budget < 1 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	tail := string(runes[len(runes)-budget:])
	if newline := strings.IndexByte(tail, '\n'); newline >= 0 && newline < len(tail)-1 {
		tail = tail[newline+1:]
	}
	return "…\n" + tail
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", `\`+"`", "[", `\[`)

// EscapeMarkdown escapes the legacy Telegram Markdown entity characters.
func EscapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}

// codeBlock wraps output in a pre block. Backticks inside the output would close it.
func codeBlock(text string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(text), "`", "'")
	if cleaned == "" {
		cleaned = "(empty)"
	}
	return "```\n" + cleaned + "\n```"
}

func inlineCode(text string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(text), "`", "'")
	if cleaned == "" {
		cleaned = "N/A"
	}
	return "`" + cleaned + "`"
}
