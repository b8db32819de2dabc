package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/multierr"

	sigrtschema "github.com/Paintersrp/sigrt/schema"
)

var (
	schemaOnce   sync.Once
	configSchema *jsonschema.Schema
	schemaErr    error
)

func loadConfigSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("config.v1.json", bytes.NewReader(sigrtschema.ConfigV1Schema)); err != nil {
			schemaErr = fmt.Errorf("add config schema resource: %w", err)
			return
		}
		configSchema, schemaErr = compiler.Compile("config.v1.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile config schema: %w", schemaErr)
		}
	})
	if schemaErr != nil {
		return nil, schemaErr
	}
	return configSchema, nil
}

// validateAgainstSchema checks the raw document against config.v1.json. Each
// failing keyword becomes one violation named by its dotted key path, the
// same naming Validate uses, so Violations lists both kinds alike.
func validateAgainstSchema(doc map[string]any) error {
	schema, err := loadConfigSchema()
	if err != nil {
		return fmt.Errorf("load config schema: %w", err)
	}

	normalized, err := normalizeForSchema(doc)
	if err != nil {
		return fmt.Errorf("prepare config for schema validation: %w", err)
	}

	if err := schema.Validate(normalized); err != nil {
		var vErr *jsonschema.ValidationError
		if !errors.As(err, &vErr) {
			return fmt.Errorf("schema validation failed: %w", err)
		}
		var violations error
		for _, leaf := range schemaLeaves(vErr) {
			violations = multierr.Append(violations, fmt.Errorf("%s: %s",
				configKeyPath(leaf.InstanceLocation), describeViolation(leaf)))
		}
		return fmt.Errorf("schema validation failed: %w", violations)
	}
	return nil
}

func normalizeForSchema(doc map[string]any) (any, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(doc); err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(buf.Bytes()))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// schemaLeaves flattens a validation error tree into the keywords that
// actually failed.
func schemaLeaves(err *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(err.Causes) == 0 {
		return []*jsonschema.ValidationError{err}
	}
	var out []*jsonschema.ValidationError
	for _, cause := range err.Causes {
		out = append(out, schemaLeaves(cause)...)
	}
	return out
}

// describeViolation rewrites the schema library's messages for the keys a
// runtime configuration has.
func describeViolation(err *jsonschema.ValidationError) string {
	msg := err.Message
	switch {
	case strings.HasPrefix(msg, "additionalProperties "):
		keys := strings.TrimSuffix(strings.TrimPrefix(msg, "additionalProperties "), " not allowed")
		return "unknown key " + keys
	case strings.Contains(err.AbsoluteKeywordLocation, "/$defs/duration") ||
		strings.HasSuffix(err.KeywordLocation, "/$ref/pattern"):
		return "must be a duration such as 250ms or 1m30s"
	case strings.HasSuffix(err.KeywordLocation, "/minimum"):
		return "must be at least 1"
	case strings.HasSuffix(err.KeywordLocation, "/version/enum"):
		return "unsupported version, expected 1"
	}
	return msg
}

// configKeyPath turns a JSON pointer such as /runtime/childCapacity into
// runtime.childCapacity.
func configKeyPath(ptr string) string {
	var b strings.Builder
	for _, segment := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		if segment == "" {
			continue
		}
		decoded := strings.ReplaceAll(strings.ReplaceAll(segment, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(decoded); err == nil {
			fmt.Fprintf(&b, "[%s]", decoded)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(decoded)
	}
	if b.Len() == 0 {
		return "config"
	}
	return b.String()
}
