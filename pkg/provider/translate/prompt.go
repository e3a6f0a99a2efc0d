package translate

import "fmt"

// responseShape is appended to every prompt so that all backends answer with
// the same JSON keys.
const responseShape = `Return the result in JSON format with keys: "transcription" (original text), "translation" (translated text), "detectedLanguage" (detected language code), "confidence" (confidence score between 0 and 1).`

// AudioPrompt returns the instruction sent alongside the audio to an
// audio-native model. An empty source requests auto-detection.
func AudioPrompt(source, target string) string {
	if source != "" {
		return fmt.Sprintf("Transcribe the following audio in %s and translate it to %s. %s", source, target, responseShape)
	}
	return fmt.Sprintf("Transcribe the following audio (auto-detect language) and translate it to %s. %s", target, responseShape)
}

// TextSystemPrompt returns the system instruction for translating an existing
// transcript with a text-only LLM.
func TextSystemPrompt(source, target string) string {
	from := "the detected language"
	if source != "" {
		from = source
	}
	return fmt.Sprintf("You translate spoken chat messages from %s to %s. "+
		"The user message is a verbatim transcript. Keep names, tone and slang; do not add commentary. %s",
		from, target, responseShape)
}
