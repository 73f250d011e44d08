package catalog

import (
	"context"
	"encoding/json"
	"strings"

	"gitlab.com/tozd/go/errors"
)

func init() {
	Register(&JSONParser{})
}

// JSONParser implements the Parser interface for JSON catalog files
type JSONParser struct{}

// CanParse checks if this parser can handle the given file
func (p *JSONParser) CanParse(filename string) bool {
	return strings.HasSuffix(filename, ".json") || strings.HasSuffix(filename, ".txt")
}

// Parse parses the catalog definition from JSON
func (p *JSONParser) Parse(ctx context.Context, data []byte) (*Tree, error) {
	var def treeDef
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, errors.Errorf("unmarshaling JSON: %w", err)
	}
	return build(&def)
}
