package telephony

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"followup-caller/internal/roster"
)

// Minimal TwiML builder without a provider SDK. Only the verbs the
// follow-up script uses.

const (
	voiceLanguage = "hi-IN"
	answerPause   = 5
)

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName  xml.Name `xml:"Say"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// VoiceScript renders the spoken follow-up for a record.
type VoiceScript struct {
	Language string
	// PauseSeconds is the silence left for the callee after each question.
	PauseSeconds int
}

func DefaultVoiceScript() VoiceScript {
	return VoiceScript{Language: voiceLanguage, PauseSeconds: answerPause}
}

func (s VoiceScript) say(text string) twimlSay {
	return twimlSay{Language: s.Language, Text: text}
}

func (s VoiceScript) pause() twimlPause {
	return twimlPause{Length: s.PauseSeconds}
}

// ForRecord builds the follow-up conversation: greeting with the shift, the dress
// code, a question about future shifts and a closing line. Questions are followed
// by a pause so the answer lands in the recording.
func (s VoiceScript) ForRecord(rec roster.ShiftRecord) (string, error) {
	var r twimlResponse
	name := strings.TrimSpace(rec.Name)
	if name == "" {
		name = "जी"
	}
	r.Verbs = append(r.Verbs,
		s.say(fmt.Sprintf("नमस्ते %s, आपकी %s शिफ्ट %s बजे है। क्या आप शिफ्ट के लिए आ रहे हैं?", name, rec.ShiftName, rec.ShiftTimings)),
		s.pause(),
	)
	if dress := strings.TrimSpace(rec.DressCode); dress != "" {
		work := strings.TrimSpace(rec.WorkDescription)
		if work == "" {
			work = "इस काम"
		}
		r.Verbs = append(r.Verbs,
			s.say(fmt.Sprintf("%s के लिए ड्रेस कोड %s है। क्या आपके पास यह ड्रेस है?", work, dress)),
			s.pause(),
		)
	}
	r.Verbs = append(r.Verbs,
		s.say("क्या आप आगे आने वाली शिफ्ट्स की जानकारी पाना चाहेंगे?"),
		s.pause(),
		s.say("आपका समय देने के लिए धन्यवाद।"),
		twimlHangup{},
	)
	return render(r)
}

// Fallback is spoken when the call cannot be matched to a record.
func (s VoiceScript) Fallback() (string, error) {
	return render(twimlResponse{Verbs: []any{
		s.say("नमस्ते, आपका कॉल प्राप्त हुआ। धन्यवाद!"),
		twimlHangup{},
	}})
}

func render(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
