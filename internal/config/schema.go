package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

const schemaURL = "https://stacklok.dev/schemas/registry-aggregator/config.json"

//go:embed schema.json
var schemaJSON []byte

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add config schema: %w", err)
	}
	return c.Compile(schemaURL)
})

// validateSchema checks the raw YAML document against the embedded JSON schema.
// YAML is decoded generically and re-encoded as JSON so the validator sees
// exactly the types the document declares.
func validateSchema(data []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("configuration file is empty")
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("configuration is not representable as JSON: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}

	return schema.Validate(inst)
}
