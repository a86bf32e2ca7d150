package completion

import (
	"encoding/json"
	"errors"
)

// NoResponseText replaces the reply when a payload has no recognizable text
const NoResponseText = "No response from model."

// ErrUndecodable is returned when a success body is not JSON at all
var ErrUndecodable = errors.New("upstream response is not valid JSON")

// Kind tags the variant a reply was extracted from
type Kind int

const (
	// KindChoice is choices[0].message.content
	KindChoice Kind = iota
	// KindText is a top-level "text" field
	KindText
	// KindUnrecognized is any other decodable payload
	KindUnrecognized
)

func (k Kind) String() string {
	switch k {
	case KindChoice:
		return "choice"
	case KindText:
		return "text"
	default:
		return "unrecognized"
	}
}

// Reply is the assistant text extracted from a completion payload
type Reply struct {
	Kind Kind
	Text string
}

type variant struct {
	kind    Kind
	extract func(payload map[string]any) (string, bool)
}

// variants are tried in order; the first match wins
var variants = []variant{
	{kind: KindChoice, extract: firstChoiceContent},
	{kind: KindText, extract: topLevelText},
}

// Parse extracts the reply from a success body
func Parse(body []byte) (Reply, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Reply{}, ErrUndecodable
	}

	payload, ok := decoded.(map[string]any)
	if ok {
		for _, v := range variants {
			if text, ok := v.extract(payload); ok {
				return Reply{Kind: v.kind, Text: text}, nil
			}
		}
	}

	return Reply{Kind: KindUnrecognized, Text: NoResponseText}, nil
}

func firstChoiceContent(payload map[string]any) (string, bool) {
	choices, ok := payload["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	message, ok := choice["message"].(map[string]any)
	if !ok {
		return "", false
	}
	content, ok := message["content"].(string)
	return content, ok && content != ""
}

func topLevelText(payload map[string]any) (string, bool) {
	text, ok := payload["text"].(string)
	return text, ok && text != ""
}
