// Command capsule-producer is a fixture capsule: given {"n": N}, it emits
// {"items": [1..N]}, used to exercise workflow step chaining end-to-end.
package main

import (
	"encoding/json"
	"log"
	"os"
)

type input struct {
	N int `json:"n"`
}

type output struct {
	Items []int `json:"items"`
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

	items := make([]int, 0, in.N)
	for i := 1; i <= in.N; i++ {
		items = append(items, i)
	}

	out, err := json.Marshal(output{Items: items})
	if err != nil {
		log.Fatalf("encoding output.json: %v", err)
	}

	if err := os.WriteFile("/io/output.json", out, 0o644); err != nil {
		log.Fatalf("writing output.json: %v", err)
	}
}
