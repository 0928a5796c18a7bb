// Command capsule-consumer is a fixture capsule: given {"items": [...]}, it
// emits {"sum": total}, the second half of the seed producer/consumer
// workflow scenario.
package main

import (
	"encoding/json"
	"log"
	"os"
)

type input struct {
	Items []int `json:"items"`
}

type output struct {
	Sum int `json:"sum"`
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

	sum := 0
	for _, v := range in.Items {
		sum += v
	}

	out, err := json.Marshal(output{Sum: sum})
	if err != nil {
		log.Fatalf("encoding output.json: %v", err)
	}

	if err := os.WriteFile("/io/output.json", out, 0o644); err != nil {
		log.Fatalf("writing output.json: %v", err)
	}
}
