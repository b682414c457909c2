package postcall

import (
	"context"
	"fmt"
	"strings"
)

// Intent is the parsed disposition of a conversation.
type Intent struct {
	Intent         string
	FutureInterest string
}

// IntentExtractor turns a working-language transcript into an Intent.
type IntentExtractor interface {
	Extract(ctx context.Context, transcript string) (Intent, error)
}

// Classifier answers a free-text prompt.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

const intentPromptTemplate = "Firstly identify what is the intent of person, is it yes or no. " +
	"Then give output for future_notify_interest from the transcription.\n\n" +
	"Transcription: %s\n\n" +
	"Intent and future_notify_interest:"

// IntentPrompt renders the fixed instruction prompt for a transcript.
func IntentPrompt(transcript string) string {
	return fmt.Sprintf(intentPromptTemplate, transcript)
}

// PromptExtractor asks a Classifier with the fixed prompt and parses the reply heuristically.
type PromptExtractor struct {
	Classifier Classifier
}

func (e PromptExtractor) Extract(ctx context.Context, transcript string) (Intent, error) {
	reply, err := e.Classifier.Classify(ctx, IntentPrompt(transcript))
	if err != nil {
		return Intent{}, err
	}
	return ParseIntentReply(reply), nil
}

// ParseIntentReply splits a reply such as
//
//	Intent: yes
//	future_notify_interest: no
//
// into its two values. Each line contributes the text after its last colon.
// A one-line reply leaves FutureInterest empty; an empty reply yields zero values.
func ParseIntentReply(reply string) Intent {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return Intent{}
	}
	parts := strings.Split(reply, "\n")
	out := Intent{Intent: lastField(parts[0])}
	if len(parts) >= 2 {
		out.FutureInterest = lastField(parts[1])
	}
	return out
}

func lastField(line string) string {
	if i := strings.LastIndex(line, ":"); i >= 0 {
		line = line[i+1:]
	}
	return strings.TrimSpace(line)
}
