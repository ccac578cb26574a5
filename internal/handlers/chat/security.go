// Package chat implements the Chat Handler (part of C5): the thirteen-step
// prompt-injection-aware, RAG-augmented, streaming conversation turn.
// security.go holds the pure, non-throwing functions spec.md §4.5.1 steps
// 1/2/3/4/10 require — detection and masking only, never rejection.
package chat

import (
	"regexp"
	"strings"
)

// injectionPatterns are compiled once and reused across every scan. Ordering
// doesn't matter; a match on any one pattern flags the text.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|above|prior)\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|above|prior)\s+instructions`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|above|prior)\s+instructions`),
	regexp.MustCompile(`(?i)override\s+(your\s+|the\s+)?(system\s+)?(previous\s+)?instructions`),
	regexp.MustCompile(`(?i)you\s+are\s+now\b`),
	regexp.MustCompile(`(?i)act\s+as\s+(a|an|if)\b`),
	regexp.MustCompile(`(?i)pretend\s+(you('re| are)|to\s+be)\b`),
	regexp.MustCompile(`(?i)developer\s*mode`),
	regexp.MustCompile(`(?i)jailbreak`),
	regexp.MustCompile(`(?i)\[\s*system\s*\]`),
	regexp.MustCompile(`(?i)<\s*instruction\s*>`),
	regexp.MustCompile(`(?i)^\s*system\s*:`),
	regexp.MustCompile(`(?i)(reveal|print|show|repeat)\s+(your\s+)?(system\s+)?prompt`),
	regexp.MustCompile(`(?i)what\s+(are\s+your|is\s+your)\s+instructions`),
	regexp.MustCompile(`(?i)(call|invoke|execute)\s+(the\s+)?function\b`),
}

// ScanInjection reports whether text matches any known prompt-injection
// pattern. Detection never rejects the message; callers log a warning and
// continue (spec.md §4.5.1 step 1).
func ScanInjection(text string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

var (
	scriptTagPattern  = regexp.MustCompile(`(?is)<\s*script[^>]*>.*?<\s*/\s*script\s*>`)
	eventHandlerAttr  = regexp.MustCompile(`(?i)\son[a-z]+\s*=\s*["'][^"']*["']`)
	javascriptURI     = regexp.MustCompile(`(?i)javascript:`)
	dataHTMLURI       = regexp.MustCompile(`(?i)data:text/html`)
	systemMarkerRepl  = []struct{ from, to string }{
		{"[system]", "[sys-tem]"},
		{"[SYSTEM]", "[SYS-TEM]"},
		{"<instruction>", "<in-struction>"},
		{"<INSTRUCTION>", "<IN-STRUCTION>"},
		{"system:", "sys-tem:"},
		{"System:", "Sys-tem:"},
	}
)

// SanitizeInput strips dangerous markup and defangs system-marker strings
// with visually similar safe variants (spec.md §4.5.1 step 2).
func SanitizeInput(text string) string {
	out := scriptTagPattern.ReplaceAllString(text, "")
	out = eventHandlerAttr.ReplaceAllString(out, "")
	out = javascriptURI.ReplaceAllString(out, "")
	out = dataHTMLURI.ReplaceAllString(out, "")
	for _, r := range systemMarkerRepl {
		out = strings.ReplaceAll(out, r.from, r.to)
	}
	return out
}

const fileContentMarker = "\n\nFile content:\n"

var fileNameMarker = regexp.MustCompile(`^\[File:\s*(.+?)\]\s*\n`)

// Segregated is the result of splitting a message into its user-typed
// portion and any attached-file portion (spec.md §4.5.1 step 3).
type Segregated struct {
	UserText    string
	HasFile     bool
	FileName    string
	FileText    string
	FileFlagged bool // true if injection patterns matched the file text
}

// SegregateFileContent splits a message on the literal file-content marker,
// extracts an optional "[File: name]" header from the file portion, and
// wraps the file text for inclusion in the LLM prompt.
func SegregateFileContent(message string) Segregated {
	idx := strings.Index(message, fileContentMarker)
	if idx < 0 {
		return Segregated{UserText: message}
	}

	userText := message[:idx]
	fileText := message[idx+len(fileContentMarker):]

	fileName := "attachment"
	if m := fileNameMarker.FindStringSubmatch(fileText); m != nil {
		fileName = strings.TrimSpace(m[1])
		fileText = fileText[len(m[0]):]
	}

	flagged := ScanInjection(fileText)
	return Segregated{
		UserText:    userText,
		HasFile:     true,
		FileName:    fileName,
		FileText:    fileText,
		FileFlagged: flagged,
	}
}

// WrappedFileBlock renders the file-text wrapper the assembled prompt
// carries in place of the raw marker, including a warning line when the
// file text itself matched an injection pattern.
func (s Segregated) WrappedFileBlock() string {
	if !s.HasFile {
		return ""
	}
	var b strings.Builder
	b.WriteString("[BEGIN FILE CONTENT: ")
	b.WriteString(s.FileName)
	b.WriteString("]\n")
	if s.FileFlagged {
		b.WriteString("[WARNING: potential prompt injection detected in file content]\n")
	}
	b.WriteString(s.FileText)
	b.WriteString("\n[END FILE CONTENT: ")
	b.WriteString(s.FileName)
	b.WriteString("]")
	return b.String()
}

// piiPattern names one detectable PII shape and how to count it.
type piiPattern struct {
	name string
	re   *regexp.Regexp
}

var piiPatterns = []piiPattern{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"phone", regexp.MustCompile(`(\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b|(\+?84[\s.\-]?)?0?\d{9,10}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"credit_card", regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)},
	{"ipv4", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
	{"passport", regexp.MustCompile(`\b[A-PR-WY][0-9]{7,8}\b`)},
}

// MaskPII returns the analytics-safe masked form of text (original two and
// last two characters kept, interior replaced with '*') alongside a count of
// matches per PII type. The original text is never altered for the LLM call
// — this output is for events and logs only (spec.md §4.5.1 step 4).
func MaskPII(text string) (masked string, counts map[string]int) {
	counts = make(map[string]int)
	masked = text
	for _, p := range piiPatterns {
		masked = p.re.ReplaceAllStringFunc(masked, func(match string) string {
			counts[p.name]++
			return maskMiddle(match)
		})
	}
	return masked, counts
}

func maskMiddle(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// leakIndicatorPhrases are checked verbatim (case-insensitive) against the
// LLM response for an explicit prompt-leak confession.
var leakIndicatorPhrases = []string{
	"my system prompt",
	"my instructions are",
	"i was instructed to",
	"my instructions say",
	"according to my system prompt",
}

// DetectSystemPromptLeak flags the response if any 4-consecutive-word phrase
// from systemPrompt (long enough to be meaningful) appears verbatim in the
// response, or if a known indicator phrase appears (spec.md §4.5.1 step 10).
// Detection is log-only: it never alters the returned reply.
func DetectSystemPromptLeak(systemPrompt, response string) bool {
	lowerResp := strings.ToLower(response)
	for _, phrase := range leakIndicatorPhrases {
		if strings.Contains(lowerResp, phrase) {
			return true
		}
	}

	words := strings.Fields(systemPrompt)
	for i := 0; i+4 <= len(words); i++ {
		phrase := strings.Join(words[i:i+4], " ")
		if len(phrase) <= 20 {
			continue
		}
		if strings.Contains(lowerResp, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}
