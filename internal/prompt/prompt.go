// Package prompt holds the fixed therapist personas and composes the system
// instruction and completion prompts sent to the models.
package prompt

import (
	"strings"

	"github.com/54b3r/hamdam-go/internal/langdetect"
	"github.com/54b3r/hamdam-go/internal/rag"
)

// Personas.
const (
	PersonaFa = "تو یک درمانگر حرفه‌ای شناختی-رفتاری فارسی زبان هستی. " +
		"باید با زبان کاملا فارسی، ساده و علمی پاسخ بدهی. " +
		"پاسخ‌ها باید کوتاه، خاص و کاربردی باشند."

	PersonaEn = "You are a professional Cognitive-Behavioral Therapist. " +
		"Respond in clear, simple, and scientific English. " +
		"Provide brief and focused answers."

	PersonaCompletion = "You are a professional cognitive-behavioral therapist. " +
		"Respond briefly and directly to the user's problems. " +
		"Avoid long stories or explanations. " +
		"Focus on practical advice and support."
)

// Language mismatch notices substituted for the user's question.
const (
	NoticeWriteInPersian = "لطفا سوال خود را به زبان فارسی بنویسید."
	NoticeWriteInEnglish = "Please write your question in English."
)

const (
	referenceHeader = "\nReference information:\n"
	noSources       = "\n(No sources found; please answer based on general knowledge.)"
)

// Persona returns the chat persona for lang. Anything but Persian gets the
// English persona.
func Persona(lang langdetect.Language) string {
	if lang == langdetect.Fa {
		return PersonaFa
	}
	return PersonaEn
}

// System builds the system instruction: the persona followed by either a
// bullet list of the retrieved chunks or, when chunks is empty, a note that
// nothing was found. Chunks with empty content are left out of the list;
// whitespace-only content still yields an empty bullet.
func System(lang langdetect.Language, chunks []rag.Chunk) string {
	var b strings.Builder
	b.WriteString(Persona(lang))

	if len(chunks) == 0 {
		b.WriteString(noSources)
		return b.String()
	}

	b.WriteString(referenceHeader)
	for _, c := range chunks {
		if c.Content == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(c.Content))
		b.WriteString("\n")
	}
	return b.String()
}

// Completion builds the single-string prompt for completion-only models.
func Completion(question string) string {
	return PersonaCompletion + "\nUser: " + strings.TrimSpace(question) + "\nTherapist:"
}

// Stop markers that end a generation before the model starts writing the
// next speaker's line.
var (
	StopFa         = []string{"مراجع:", "درمانگر:"}
	StopEn         = []string{"Client:", "Therapist:"}
	StopCompletion = []string{"User:", "Therapist:"}
)

// ChatStop returns a fresh copy of the chat stop markers for lang.
func ChatStop(lang langdetect.Language) []string {
	if lang == langdetect.Fa {
		return append([]string(nil), StopFa...)
	}
	return append([]string(nil), StopEn...)
}

// SanitizeQuestion replaces a question written in the wrong script for the
// persona with the matching notice. A Persian persona requires Persian
// script; an English persona rejects it. The returned flag reports whether
// a substitution happened.
func SanitizeQuestion(persona langdetect.Language, question string) (string, bool) {
	persian := langdetect.HasPersianScript(question)
	switch {
	case persona == langdetect.Fa && !persian:
		return NoticeWriteInPersian, true
	case persona == langdetect.En && persian:
		return NoticeWriteInEnglish, true
	default:
		return question, false
	}
}

// SanitizeOutput makes model output safe to display: invalid UTF-8 becomes
// U+FFFD and surrounding whitespace is trimmed.
func SanitizeOutput(s string) string {
	return strings.TrimSpace(strings.ToValidUTF8(s, "�"))
}
