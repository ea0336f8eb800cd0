package turn

import "github.com/valpere/mdtran/internal/translator"

// Transcript is the conversation replayed on every call for one job. It is
// owned by a single controller run and never shared.
type Transcript struct {
	messages []translator.Message
}

func (t *Transcript) Append(role translator.Role, text string) {
	t.messages = append(t.messages, translator.Message{Role: role, Text: text})
}

// Messages returns a copy so callers cannot mutate the history.
func (t *Transcript) Messages() []translator.Message {
	out := make([]translator.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) Len() int {
	return len(t.messages)
}
