package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSchema(t *testing.T, doc string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func testValidator(t *testing.T) *Validator {
	t.Helper()
	log := logrus.New()
	log.SetOutput(os.Stderr)
	return New(log)
}

func TestLoadMissingSchemaIsPermissive(t *testing.T) {
	v := testValidator(t)
	err := v.Load("echo", filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.NoError(t, v.ValidateInput("echo", map[string]any{"anything": true}))
}

func TestValidateInputRejectsMissingRequiredField(t *testing.T) {
	v := testValidator(t)
	path := writeSchema(t, `{
		"input": {
			"$schema": "https://json-schema.org/draft/2020-12/schema",
			"type": "object",
			"required": ["q"]
		}
	}`)
	require.NoError(t, v.Load("consumer", path))

	err := v.ValidateInput("consumer", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "q")
}

func TestValidateInputAcceptsConformingPayload(t *testing.T) {
	v := testValidator(t)
	path := writeSchema(t, `{
		"input": {
			"$schema": "https://json-schema.org/draft/2020-12/schema",
			"type": "object",
			"required": ["n"],
			"properties": { "n": { "type": "integer" } }
		}
	}`)
	require.NoError(t, v.Load("producer", path))

	assert.NoError(t, v.ValidateInput("producer", map[string]any{"n": float64(3)}))
}

func TestValidateOutputNeverReturnsAnError(t *testing.T) {
	v := testValidator(t)
	path := writeSchema(t, `{
		"output": {
			"$schema": "https://json-schema.org/draft/2020-12/schema",
			"type": "object",
			"required": ["sum"]
		}
	}`)
	require.NoError(t, v.Load("consumer", path))

	// Violates the declared schema but ValidateOutput has no error return;
	// it must not panic and must leave the caller free to proceed.
	v.ValidateOutput("consumer", map[string]any{})
}
