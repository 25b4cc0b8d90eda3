package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// envelopeSchema is the wire contract every channel message must satisfy
// before a worker will touch it. Violations are non-retriable and routed to
// the dead-letter path.
const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["trace_id", "task_id", "stage", "dedup_key", "payload", "created_at"],
  "properties": {
    "trace_id":   {"type": "string", "minLength": 1},
    "task_id":    {"type": "string", "minLength": 1},
    "stage":      {"type": "string", "enum": ["EVAL", "APPROVAL", "EXEC"]},
    "dedup_key":  {"type": "string", "minLength": 1},
    "created_at": {"type": "string"},
    "eval_ref":   {"type": "string"},
    "payload": {
      "type": "object",
      "required": ["action"],
      "properties": {
        "action": {"type": "string", "minLength": 1},
        "params": {"type": "object"}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
)

func compiled() *jsonschema.Schema {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		const url = "https://tollgate.schemas.local/envelope.schema.json"
		if err := c.AddResource(url, strings.NewReader(envelopeSchema)); err != nil {
			panic(fmt.Sprintf("envelope schema load failed: %v", err))
		}
		compiledSchema = c.MustCompile(url)
	})
	return compiledSchema
}

// DecodeEnvelope parses and schema-validates a raw message body. A non-nil
// error means the message is malformed and must not be retried.
func DecodeEnvelope(body []byte) (TaskEnvelope, error) {
	var generic any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return TaskEnvelope{}, fmt.Errorf("envelope: invalid JSON: %w", err)
	}
	if err := compiled().Validate(generic); err != nil {
		return TaskEnvelope{}, fmt.Errorf("envelope: schema violation: %w", err)
	}

	var env TaskEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return TaskEnvelope{}, fmt.Errorf("envelope: decode: %w", err)
	}
	if err := env.Validate(); err != nil {
		return TaskEnvelope{}, err
	}
	return env, nil
}
