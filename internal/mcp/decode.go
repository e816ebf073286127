package mcp

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// decode copies the tool arguments into a typed request through JSON.
// A wrongly typed argument is reported by name.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var out T
	args := req.GetArguments()
	if len(args) == 0 {
		return out, nil
	}

	b, err := json.Marshal(args)
	if err != nil {
		return out, fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if stderrors.As(err, &typeErr) && typeErr.Field != "" {
			return out, fmt.Errorf("argument %q must be a %s", typeErr.Field, jsonKind(typeErr.Type.Kind().String()))
		}
		return out, fmt.Errorf("decode arguments: %w", err)
	}
	return out, nil
}

// jsonKind names a Go kind the way a tool schema does.
func jsonKind(kind string) string {
	switch kind {
	case "int", "int64", "float64", "ptr":
		return "number"
	default:
		return kind
	}
}
