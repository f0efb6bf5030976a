package catalogs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	schemagen "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const schemaURL = "mem://voxelsync/definitions.schema.json"

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

// Schema returns the JSON schema of DefinitionFile, generated from the Go
// types.
func Schema() ([]byte, error) {
	r := schemagen.Reflector{DoNotReference: true}
	s := r.Reflect(&DefinitionFile{})
	s.Title = "voxelsync definitions"
	return json.MarshalIndent(s, "", "  ")
}

func compiled() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		raw, err := Schema()
		if err != nil {
			compileErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(raw)); err != nil {
			compileErr = err
			return
		}
		compiledSchema, compileErr = c.Compile(schemaURL)
	})
	return compiledSchema, compileErr
}

// Validate checks a definitions YAML document against the schema.
func Validate(raw []byte) error {
	s, err := compiled()
	if err != nil {
		return fmt.Errorf("definitions schema: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("definitions: %w", err)
	}
	// Round-trip through JSON so numbers and maps have the shapes the
	// validator expects.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("definitions: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("definitions: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("definitions: %w", err)
	}
	return nil
}
