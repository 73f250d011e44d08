package catalog

import (
	"context"
	"strings"

	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"
)

func init() {
	Register(&YAMLParser{})
}

// YAMLParser implements the Parser interface for YAML catalog files
type YAMLParser struct{}

// CanParse checks if this parser can handle the given file
func (p *YAMLParser) CanParse(filename string) bool {
	return strings.HasSuffix(filename, ".yaml") || strings.HasSuffix(filename, ".yml")
}

// Parse parses the catalog definition from YAML
func (p *YAMLParser) Parse(ctx context.Context, data []byte) (*Tree, error) {
	var def treeDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, errors.Errorf("unmarshaling YAML: %w", err)
	}
	return build(&def)
}
