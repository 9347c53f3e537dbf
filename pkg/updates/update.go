package updates

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// TypeStateUpdate tags envelopes carrying a full application state snapshot.
const TypeStateUpdate = "state_update"

// Update is the wire envelope pushed to clients: a type tag plus an opaque
// JSON object. No schema beyond that is enforced anywhere in the pipeline.
type Update struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func NewStateUpdate(data map[string]any) Update {
	return Update{Type: TypeStateUpdate, Data: data}
}

func (u Update) Marshal() ([]byte, error) {
	b, err := json.Marshal(u)
	if err != nil {
		return nil, errors.Wrap(err, "marshal update")
	}
	return b, nil
}

// DecodeUpdate parses an envelope and rejects frames without a type tag.
func DecodeUpdate(b []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(b, &u); err != nil {
		return Update{}, errors.Wrap(err, "decode update")
	}
	if u.Type == "" {
		return Update{}, errors.New("decode update: missing type")
	}
	return u, nil
}
