// Command capsule-translator is a fixture capsule standing in for the
// workflow driver's translator step: it reshapes source_output into the
// shape target_capsule expects, following an optional field mapping.
package main

import (
	"encoding/json"
	"log"
	"os"
)

type input struct {
	SourceOutput  map[string]any    `json:"source_output"`
	TargetCapsule string            `json:"target_capsule"`
	Mapping       map[string]string `json:"mapping,omitempty"`
	Instructions  string            `json:"instructions,omitempty"`
}

func main() {
	raw, err := os.ReadFile("/io/input.json")
	if err != nil {
		log.Fatalf("reading input.json: %v", err)
	}

	var in input
	if err := json.Unmarshal(raw, &in); err != nil {
		log.Fatalf("decoding input.json: %v", err)
	}

	result := in.SourceOutput
	if len(in.Mapping) > 0 {
		reshaped := make(map[string]any, len(in.Mapping))
		for targetKey, sourceKey := range in.Mapping {
			if v, ok := in.SourceOutput[sourceKey]; ok {
				reshaped[targetKey] = v
			}
		}
		result = reshaped
	}

	out, err := json.Marshal(result)
	if err != nil {
		log.Fatalf("encoding output.json: %v", err)
	}

	if err := os.WriteFile("/io/output.json", out, 0o644); err != nil {
		log.Fatalf("writing output.json: %v", err)
	}
}
