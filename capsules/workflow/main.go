// Command capsule-workflow is the Workflow Driver: a capsule that reads a
// step list and reinvokes the orchestrator's /execute RPC once per step,
// optionally routing a step's input through a translator capsule first.
// Its reentrant call pattern — blocking on its own /execute while issuing
// nested /execute calls to the same orchestrator — is exactly what drives
// the worker pool sizing requirement on the orchestrator side.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"time"
)

type workflowStep struct {
	Capsule                string         `json:"capsule"`
	Translator             string         `json:"translator,omitempty"`
	TranslatorInstructions map[string]any `json:"translator_instructions,omitempty"`
}

type workflowDocument struct {
	Steps []workflowStep `json:"steps"`
}

type driverInput struct {
	Workflow     json.RawMessage `json:"workflow,omitempty"`
	WorkflowFile string          `json:"workflow_file,omitempty"`
	InitialInput map[string]any  `json:"initial_input"`
}

type stepResult struct {
	Capsule string `json:"capsule"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type driverOutput struct {
	Success       bool           `json:"success"`
	FinalOutput   map[string]any `json:"final_output,omitempty"`
	StepsExecuted int            `json:"steps_executed"`
	Error         string         `json:"error,omitempty"`
	StepResults   []stepResult   `json:"step_results"`
}

type executeEnvelope struct {
	Success   bool           `json:"success"`
	Output    map[string]any `json:"output"`
	Error     string         `json:"error"`
	SessionID string         `json:"session_id"`
}

// httpClient fails fast on connect but tolerates step executions that run
// all the way to the orchestrator's per-container timeout.
var httpClient = &http.Client{
	Transport: &http.Transport{
		DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
	},
	Timeout: 3600 * time.Second,
}

var probeClient = &http.Client{Timeout: 5 * time.Second}

func main() {
	raw, err := os.ReadFile("/io/input.json")
	if err != nil {
		fail(fmt.Sprintf("reading input.json: %v", err), nil)
	}

	var in driverInput
	if err := json.Unmarshal(raw, &in); err != nil {
		fail(fmt.Sprintf("decoding input.json: %v", err), nil)
	}

	doc, err := loadWorkflow(in)
	if err != nil {
		fail(err.Error(), nil)
	}

	if err := validateWorkflow(doc); err != nil {
		fail(err.Error(), nil)
	}

	orchestratorURL := getOrchestratorURL()

	if err := connectivityProbe(orchestratorURL); err != nil {
		fail(fmt.Sprintf("orchestrator unreachable at %s: %v", orchestratorURL, err), nil)
	}

	writeOutput(runWorkflow(orchestratorURL, doc, in.InitialInput))
}

// runWorkflow threads current through the step list, applying each step's
// translator first when one is declared.
func runWorkflow(orchestratorURL string, doc *workflowDocument, initial map[string]any) driverOutput {
	current := initial
	if current == nil {
		current = map[string]any{}
	}

	var results []stepResult
	for _, step := range doc.Steps {
		if step.Translator != "" {
			targetCapsule, _ := step.TranslatorInstructions["target_capsule"].(string)
			translatorInput := map[string]any{
				"source_output":  current,
				"target_capsule": targetCapsule,
			}
			if v := step.TranslatorInstructions["mapping"]; v != nil {
				translatorInput["mapping"] = v
			}
			if v := step.TranslatorInstructions["instructions"]; v != nil {
				translatorInput["instructions"] = v
			}
			translated, err := executeCapsule(orchestratorURL, step.Translator, translatorInput)
			if err != nil {
				results = append(results, stepResult{Capsule: step.Translator, Success: false, Error: err.Error()})
				return driverOutput{Success: false, Error: err.Error(), StepsExecuted: len(results), StepResults: results}
			}
			current = translated
		}

		output, err := executeCapsule(orchestratorURL, step.Capsule, current)
		if err != nil {
			results = append(results, stepResult{Capsule: step.Capsule, Success: false, Error: err.Error()})
			return driverOutput{Success: false, Error: err.Error(), StepsExecuted: len(results), StepResults: results}
		}
		results = append(results, stepResult{Capsule: step.Capsule, Success: true})
		current = output
	}

	return driverOutput{
		Success:       true,
		FinalOutput:   current,
		StepsExecuted: len(results),
		StepResults:   results,
	}
}

// loadWorkflow resolves the step document from the inline workflow value
// (either the document itself or the document serialized as a JSON string)
// or from a workflow_file path inside the container.
func loadWorkflow(in driverInput) (*workflowDocument, error) {
	var raw []byte
	switch {
	case len(in.Workflow) > 0:
		raw = in.Workflow
		var asString string
		if err := json.Unmarshal(in.Workflow, &asString); err == nil {
			raw = []byte(asString)
		}
	case in.WorkflowFile != "":
		content, err := os.ReadFile(in.WorkflowFile)
		if err != nil {
			return nil, fmt.Errorf("reading workflow_file: %w", err)
		}
		raw = content
	default:
		return nil, fmt.Errorf("neither workflow nor workflow_file was provided")
	}

	var doc workflowDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding workflow document: %w", err)
	}
	return &doc, nil
}

func validateWorkflow(doc *workflowDocument) error {
	if len(doc.Steps) == 0 {
		return fmt.Errorf("workflow has no steps")
	}
	for i, step := range doc.Steps {
		if step.Capsule == "" {
			return fmt.Errorf("step %d is missing a capsule name", i)
		}
		if step.Translator != "" {
			target, ok := step.TranslatorInstructions["target_capsule"]
			if !ok {
				return fmt.Errorf("step %d declares a translator but no translator_instructions.target_capsule", i)
			}
			if _, ok := target.(string); !ok {
				return fmt.Errorf("step %d translator_instructions.target_capsule must be a string", i)
			}
		}
	}
	return nil
}

func getOrchestratorURL() string {
	if v := os.Getenv("ORCHESTRATOR_URL"); v != "" {
		return v
	}
	return "http://host.docker.internal:8080"
}

// connectivityProbe dials the orchestrator's host:port before attempting any
// HTTP call, then checks /health, so a network misconfiguration is reported
// distinctly from a capsule failing mid-step.
func connectivityProbe(orchestratorURL string) error {
	u, err := httpURLToHostPort(orchestratorURL)
	if err != nil {
		return err
	}
	conn, err := net.DialTimeout("tcp", u, 5*time.Second)
	if err != nil {
		return fmt.Errorf("tcp dial failed: %w", err)
	}
	conn.Close()

	resp, err := probeClient.Get(orchestratorURL + "/health")
	if err != nil {
		return fmt.Errorf("GET /health failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("GET /health returned status %d", resp.StatusCode)
	}
	return nil
}

func httpURLToHostPort(url string) (string, error) {
	trimmed := url
	for _, prefix := range []string{"http://", "https://"} {
		if len(trimmed) > len(prefix) && trimmed[:len(prefix)] == prefix {
			trimmed = trimmed[len(prefix):]
			break
		}
	}
	for i, c := range trimmed {
		if c == '/' {
			trimmed = trimmed[:i]
			break
		}
	}
	if trimmed == "" {
		return "", fmt.Errorf("could not parse host:port from %q", url)
	}
	return trimmed, nil
}

func executeCapsule(orchestratorURL, capsule string, input map[string]any) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{"capsule": capsule, "input": input})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	resp, err := httpClient.Post(orchestratorURL+"/execute", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("calling /execute for capsule %q: %w", capsule, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading /execute response: %w", err)
	}

	var envelope executeEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decoding /execute response: %w", err)
	}

	if !envelope.Success {
		return nil, fmt.Errorf("capsule %q failed: %s", capsule, envelope.Error)
	}
	return envelope.Output, nil
}

func writeOutput(out driverOutput) {
	raw, err := json.Marshal(out)
	if err != nil {
		log.Fatalf("encoding output.json: %v", err)
	}
	if err := os.WriteFile("/io/output.json", raw, 0o644); err != nil {
		log.Fatalf("writing output.json: %v", err)
	}
	if !out.Success {
		os.Exit(1)
	}
}

func fail(msg string, results []stepResult) {
	writeOutput(driverOutput{Success: false, Error: msg, StepResults: results})
}
