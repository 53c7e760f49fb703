package app

import (
	"encoding/json"
	"io"
)

// WriteJSON writes v as indented JSON, the output format of the query commands.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
