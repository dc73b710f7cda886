package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	botshellschema "github.com/Paintersrp/botshell/schema"
)

const schemaURL = "botshell://config.v1.json"

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaURL, bytes.NewReader(botshellschema.ConfigV1Schema)); err != nil {
		return nil, fmt.Errorf("add config schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return schema, nil
})

// validateAgainstSchema checks a YAML document before the strict decode so
// users see every violation at once.
func validateAgainstSchema(doc map[string]any) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}

	// Round trip through JSON so the validator sees json.Number and
	// map[string]any values only.
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.UseNumber()
	var instance any
	if err := decoder.Decode(&instance); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	err = schema.Validate(instance)
	if err == nil {
		return nil
	}
	validationErr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return fmt.Errorf("schema validation failed:\n%s", strings.Join(violations(validationErr), "\n"))
}

// violations flattens the validator output into sorted "- field: message"
// lines, dropping the wrapper entries that only point at nested causes.
func violations(err *jsonschema.ValidationError) []string {
	seen := make(map[string]struct{})
	var lines []string
	for _, entry := range err.BasicOutput().Errors {
		if entry.Error == "" || strings.HasPrefix(entry.Error, "doesn't validate with") {
			continue
		}
		line := fmt.Sprintf("- %s: %s", pointerPath(entry.InstanceLocation), entry.Error)
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		lines = append(lines, "- config: "+err.Message)
	}
	sort.Strings(lines)
	return lines
}

// pointerPath turns a JSON pointer such as /backend/pingTimeout into
// backend.pingTimeout.
func pointerPath(pointer string) string {
	pointer = strings.Trim(pointer, "/")
	if pointer == "" {
		return "config"
	}
	segments := strings.Split(pointer, "/")
	for i, segment := range segments {
		segments[i] = strings.NewReplacer("~1", "/", "~0", "~").Replace(segment)
	}
	return strings.Join(segments, ".")
}
