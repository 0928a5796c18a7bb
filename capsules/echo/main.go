// Command capsule-echo is a fixture capsule used by the orchestrator's own
// tests: it writes its input back out verbatim, exercising the plain
// success path of the container contract.
package main

import (
	"encoding/json"
	"log"
	"os"
)

func main() {
	raw, err := os.ReadFile("/io/input.json")
	if err != nil {
		log.Fatalf("reading input.json: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Fatalf("decoding input.json: %v", err)
	}

	out, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("encoding output.json: %v", err)
	}

	if err := os.WriteFile("/io/output.json", out, 0o644); err != nil {
		log.Fatalf("writing output.json: %v", err)
	}
}
