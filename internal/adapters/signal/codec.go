package signal

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/muc/internal/app/orch"
	"github.com/dkeye/muc/internal/core"
)

type envelope struct {
	Type   string     `json:"type"`
	ID     string     `json:"id,omitempty"`
	Stanza any        `json:"stanza,omitempty"`
	Result any        `json:"result,omitempty"`
	Error  *wireError `json:"error,omitempty"`
}

type wireError struct {
	Type      string `json:"type"`
	Condition string `json:"condition"`
	Text      string `json:"text,omitempty"`
}

func encodeStanza(st core.Stanza) ([]byte, error) {
	switch v := st.(type) {
	case core.Presence:
		return json.Marshal(envelope{Type: "presence", Stanza: v})
	case core.Message:
		return json.Marshal(envelope{Type: "message", Stanza: v})
	default:
		return nil, fmt.Errorf("unsupported stanza %T", st)
	}
}

func errorEnvelope(id string, err error) envelope {
	se := orch.ErrorFor(err)
	return envelope{Type: "error", ID: id, Error: &wireError{
		Type:      se.TypeName(),
		Condition: string(se.Condition),
		Text:      se.Text,
	}}
}
