package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request schemas are compiled once at package init and validated
// against the decoded JSON document before it is re-decoded into the
// handler's target struct, catching malformed payloads (missing
// required fields, wrong types) as a single validation_error rather
// than scattering ad hoc field checks across every handler.
var (
	loginSchema = mustCompile("login.json", `{
		"type": "object",
		"anyOf": [
			{"required": ["username", "password"]},
			{"required": ["pin_code"]}
		]
	}`)

	invoiceBuildSchema = mustCompile("invoice_build.json", `{
		"type": "object",
		"required": ["client_id", "period_from", "period_to"],
		"properties": {
			"client_id": {"type": "integer"},
			"period_from": {"type": "string"},
			"period_to": {"type": "string"}
		}
	}`)
)

func mustCompile(name, schemaJSON string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("httpapi: add schema resource %s: %v", name, err))
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("httpapi: compile schema %s: %v", name, err))
	}
	return s
}

// validateBody reads raw, validates it against schema, and on success
// decodes it into out. A schema or decode failure writes a 422
// validation_error and returns false.
func validateBody(w http.ResponseWriter, raw []byte, schema *jsonschema.Schema, out any) bool {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		writeProblem(w, 422, "validation_error", "malformed JSON body")
		return false
	}
	if err := schema.Validate(doc); err != nil {
		writeProblem(w, 422, "validation_error", err.Error())
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		writeProblem(w, 422, "validation_error", "malformed request body")
		return false
	}
	return true
}
