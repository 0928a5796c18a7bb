// Package schema validates capsule input/output payloads against the
// {input, output} JSON Schema pair declared in each capsule's schema.json.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"

	"github.com/FlexNetOS/capsule-orchestrator/internal/orcherrors"
)

// Document is the on-disk shape of a capsule's schema.json. Either side may
// be omitted, in which case that side is left unchecked.
type Document struct {
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
}

type compiled struct {
	input  *jsonschema.Schema
	output *jsonschema.Schema
}

// Validator compiles and caches per-capsule JSON schemas.
type Validator struct {
	mu    sync.Mutex
	cache map[string]*compiled
	log   *logrus.Entry
}

func New(log *logrus.Logger) *Validator {
	return &Validator{
		cache: make(map[string]*compiled),
		log:   log.WithField("component", "schema_validator"),
	}
}

// Load reads and compiles a capsule's schema.json, caching the result under
// capsule. A missing file is permissive: both sides are left unchecked.
func (v *Validator) Load(capsule, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			v.mu.Lock()
			v.cache[capsule] = &compiled{}
			v.mu.Unlock()
			return nil
		}
		return orcherrors.FileOperation("reading schema.json", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return orcherrors.FileOperation("decoding schema.json", err)
	}

	c := &compiled{}
	if len(doc.Input) > 0 {
		s, err := compile(capsule+":input", doc.Input)
		if err != nil {
			return orcherrors.Config("compiling input schema", err)
		}
		c.input = s
	}
	if len(doc.Output) > 0 {
		s, err := compile(capsule+":output", doc.Output)
		if err != nil {
			return orcherrors.Config("compiling output schema", err)
		}
		c.output = s
	}

	v.mu.Lock()
	v.cache[capsule] = c
	v.mu.Unlock()
	return nil
}

func compile(resourceURL string, raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := "schema:///" + resourceURL
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

func (v *Validator) get(capsule string) *compiled {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cache[capsule]
}

// ValidateInput is strict and fatal: a violation must abort the execution.
func (v *Validator) ValidateInput(capsule string, payload map[string]any) error {
	c := v.get(capsule)
	if c == nil || c.input == nil {
		return nil
	}
	if err := c.input.Validate(toInterface(payload)); err != nil {
		return orcherrors.SchemaInputInvalid(fmt.Sprintf("input for capsule %q failed validation", capsule), err)
	}
	return nil
}

// ValidateOutput is strict but non-fatal: a violation is logged and nothing
// is returned, so the caller proceeds with the payload unchanged and capsule
// contracts can evolve without breaking lenient downstream consumers.
func (v *Validator) ValidateOutput(capsule string, payload map[string]any) {
	c := v.get(capsule)
	if c == nil || c.output == nil {
		return
	}
	if err := c.output.Validate(toInterface(payload)); err != nil {
		violation := orcherrors.SchemaOutputInvalid(fmt.Sprintf("output for capsule %q failed validation", capsule), err)
		v.log.WithField("capsule", capsule).Warn(violation.Error())
	}
}

// toInterface round-trips through JSON so the jsonschema validator sees the
// same plain-interface shape (map[string]interface{}, []interface{}, etc.)
// it expects regardless of how the payload was originally decoded.
func toInterface(payload map[string]any) any {
	raw, err := json.Marshal(payload)
	if err != nil {
		return payload
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return payload
	}
	return v
}
