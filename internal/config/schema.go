// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package config

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID identifies the configuration schema.
const SchemaID = "https://authd.dev/schemas/config.json"

const durationPattern = `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

var (
	compiledOnce   sync.Once
	compiledSchema *jschema.Schema
	compileErr     error
)

// Schema returns the JSON Schema describing the YAML configuration file.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeOf(time.Duration(0)) {
				return &jsonschema.Schema{Type: "string", Pattern: durationPattern}
			}
			return nil
		},
	}
	schema := r.Reflect(&Config{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "authd configuration"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").Wrap(err)
	}
	return data, nil
}

func compiled() (*jschema.Schema, error) {
	compiledOnce.Do(func() {
		data, err := Schema()
		if err != nil {
			compileErr = err
			return
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			compileErr = oops.Code("SCHEMA_GENERATE_FAILED").Wrap(err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource(SchemaID, doc); err != nil {
			compileErr = oops.Code("SCHEMA_GENERATE_FAILED").Wrap(err)
			return
		}
		compiledSchema, compileErr = c.Compile(SchemaID)
		if compileErr != nil {
			compileErr = oops.Code("SCHEMA_GENERATE_FAILED").Wrap(compileErr)
		}
	})
	return compiledSchema, compileErr
}

// ValidateYAML checks a YAML configuration document against Schema.
// Unknown keys are rejected.
func ValidateYAML(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if doc == nil {
		return nil
	}

	// Round-trip through JSON so numbers arrive in the form the validator
	// expects.
	raw, err := json.Marshal(doc)
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	inst, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	sch, err := compiled()
	if err != nil {
		return err
	}
	if err := sch.Validate(inst); err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return nil
}
