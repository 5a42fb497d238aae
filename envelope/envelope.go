// Package envelope normalizes the heterogeneous JSON envelopes returned by
// the pCloudy backend. Field names vary between endpoints and sometimes
// between responses of the same endpoint, so extraction follows fixed,
// test-enumerated priority lists instead of ad hoc key probing.
package envelope

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pcloudy-tools/pcloudy-service/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// NoOutputMarker is returned when none of the candidate output fields
	// is present. Not an error by itself.
	NoOutputMarker = "[No output returned from device]"
	// EmptyOutputMarker distinguishes "the command ran and printed nothing"
	// from "no output field found".
	EmptyOutputMarker = "[Command executed successfully but returned empty output]"
)

// OutputFieldPriority is the fixed search order for command output across
// envelope variants. The first present non-nil field wins. Order is load
// bearing and covered by tests.
var OutputFieldPriority = []string{"adbreply", "output", "reply", "response", "data", "result"}

// failureMarkers are substrings the backend embeds in otherwise HTTP-200
// replies to signal a semantic failure. "Invalid Command" is the only
// documented one; add new markers here as they surface.
var failureMarkers = []string{"Invalid Command"}

// ParseResult decodes a response body and unwraps the "result" object every
// well-formed pCloudy envelope carries. A body without it is malformed.
func ParseResult(body []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %s", strings.TrimSpace(string(body)))
	}
	result, ok := data["result"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid response format: missing result object in %s", strings.TrimSpace(string(body)))
	}
	return result, nil
}

// ExtractCommandOutput resolves a raw command envelope into the canonical
// CommandResult. The envelope may carry its fields at top level or nested
// under "result".
func ExtractCommandOutput(raw map[string]any) model.CommandResult {
	result := raw
	if nested, ok := raw["result"].(map[string]any); ok {
		result = nested
	}
	res := model.CommandResult{Raw: raw}
	if code, ok := result["code"].(float64); ok {
		res.StatusCode = int(code)
	}
	if msg, ok := result["msg"].(string); ok {
		res.Message = msg
	}
	for _, field := range OutputFieldPriority {
		if v, ok := result[field]; ok && v != nil {
			res.OutputSource = field
			res.Output = formatOutput(v)
			break
		}
	}
	if res.OutputSource == "" {
		res.Output = NoOutputMarker
	}
	res.Succeeded = res.StatusCode == 200 && !HasFailureMarker(res.Output)
	return res
}

// HasFailureMarker reports whether the output embeds one of the known
// semantic failure strings.
func HasFailureMarker(output string) bool {
	for _, marker := range failureMarkers {
		if strings.Contains(output, marker) {
			return true
		}
	}
	return false
}

func formatOutput(v any) string {
	s, ok := v.(string)
	if !ok {
		b, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprintf("%v", v)
		} else {
			s = string(b)
		}
	}
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.TrimSpace(s)
	if s == "" {
		return EmptyOutputMarker
	}
	return s
}

// FileList decodes the "files" array of a listing envelope into descriptors.
// Size and type are loosely typed on the wire and stringified here.
func FileList(result map[string]any) []model.FileDescriptor {
	raw, _ := result["files"].([]any)
	files := make([]model.FileDescriptor, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		files = append(files, model.FileDescriptor{
			File: stringField(m, "file"),
			Size: stringField(m, "size"),
			Kind: stringField(m, "type"),
		})
	}
	return files
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
