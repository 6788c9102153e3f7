package strategy

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaSource []byte

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func definitionSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("strategy.json", bytes.NewReader(schemaSource)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("strategy.json")
	})
	return schemaCompiled, schemaErr
}

// ValidateDefinition 用内置 JSON schema 校验策略文档的结构。
// 文档先经 JSON 往返，得到 schema 库要求的通用值形态。
func ValidateDefinition(def Definition) error {
	schema, err := definitionSchema()
	if err != nil {
		return fmt.Errorf("compile strategy schema failed: %w", err)
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode strategy %q failed: %w", def.Name, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode strategy %q failed: %w", def.Name, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("strategy %q does not match schema: %w", def.Name, err)
	}
	return nil
}
