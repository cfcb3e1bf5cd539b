package ctrl

import (
	"encoding/json"
	"fmt"
)

// Decode parses an inbound frame into its typed variant. Unknown frame types
// return UnrecognizedFrame rather than an error; only unparseable JSON or a
// missing type tag is reported as an error.
func Decode(data []byte) (any, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("frame has no type tag")
	}
	switch env.Type {
	case "request":
		var f RequestFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode request frame: %w", err)
		}
		return f, nil
	case "ping":
		var f PingFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode ping frame: %w", err)
		}
		return f, nil
	case "auth_ok":
		var f AuthOKFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode auth_ok frame: %w", err)
		}
		return f, nil
	case "auth_error":
		var f AuthErrorFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode auth_error frame: %w", err)
		}
		return f, nil
	case "jwt_refresh":
		var f JWTRefreshFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode jwt_refresh frame: %w", err)
		}
		return f, nil
	default:
		return UnrecognizedFrame{Type: env.Type, Raw: append([]byte(nil), data...)}, nil
	}
}
