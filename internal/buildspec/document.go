package buildspec

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"voxelbuild.ai/internal/errs"
)

//go:embed schema/spec.schema.json
var specSchemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func specSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("spec.schema.json", specSchemaJSON)
	})
	return schema, schemaErr
}

// Decode parses a JSON or YAML spec document, validates it against the
// embedded schema and assigns an id when the document has none.
func Decode(data []byte) (Spec, error) {
	raw, err := toJSON(data)
	if err != nil {
		return Spec{}, errs.Wrap(err, errs.InvalidSpec, "parse spec document")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Spec{}, errs.Wrap(err, errs.InvalidSpec, "parse spec document")
	}
	s, err := specSchema()
	if err != nil {
		return Spec{}, err
	}
	if err := s.Validate(doc); err != nil {
		return Spec{}, errs.Wrap(err, errs.InvalidSpec, "spec document does not match schema")
	}

	var spec Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		if errs.KindOf(err) != "" {
			return Spec{}, err
		}
		return Spec{}, errs.Wrap(err, errs.InvalidSpec, "decode spec")
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	return spec, nil
}

func toJSON(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return trimmed, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func LoadFile(path string) (Spec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, err
	}
	return Decode(b)
}

// WriteFile writes the spec as YAML when the extension says so, JSON otherwise.
func WriteFile(path string, spec Spec) error {
	b, err := Encode(spec)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		if b, err = yaml.Marshal(v); err != nil {
			return err
		}
	}
	return os.WriteFile(path, b, 0o644)
}

func Encode(spec Spec) ([]byte, error) {
	return json.MarshalIndent(spec, "", "  ")
}
