package txquery

import (
	"encoding/base64"
	"encoding/json"

	"github.com/vipnode/gateway/ledger"
)

// Cursor is the continuation state of a paginated request. It is handed to
// the client as an opaque string.
type Cursor struct {
	NextPageAtAndBelowStateVersion *uint64 `json:"v,omitempty"`
}

// String returns the opaque wire form of the cursor.
func (c Cursor) String() string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// ParseCursor decodes an opaque cursor. The empty string is no cursor.
func ParseCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ledger.InvalidRequestf("Invalid cursor")
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, ledger.InvalidRequestf("Invalid cursor")
	}
	return &c, nil
}

func cursorAt(stateVersion uint64) string {
	return Cursor{NextPageAtAndBelowStateVersion: &stateVersion}.String()
}
