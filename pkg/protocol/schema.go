package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://ivxp.dev/schemas/"

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020

		entries, err := schemaFS.ReadDir("schemas")
		if err != nil {
			schemasErr = err
			return
		}
		for _, e := range entries {
			raw, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
			if err != nil {
				schemasErr = err
				return
			}
			if err := c.AddResource(schemaBaseURL+e.Name(), bytes.NewReader(raw)); err != nil {
				schemasErr = fmt.Errorf("add schema %s: %w", e.Name(), err)
				return
			}
		}

		compiled := make(map[string]*jsonschema.Schema)
		for _, mt := range []string{TypeServiceRequest, TypeServiceQuote, TypeDeliveryRequest, TypeServiceDelivery} {
			s, err := c.Compile(schemaBaseURL + mt + ".json")
			if err != nil {
				schemasErr = fmt.Errorf("compile schema %s: %w", mt, err)
				return
			}
			compiled[mt] = s
		}
		schemas = compiled
	})
	return schemas, schemasErr
}

// Validate checks raw JSON against the schema of messageType. Message types
// without a schema only need to be well-formed JSON.
func Validate(messageType string, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ivxperr.Wrap(ivxperr.CodeInvalidMessage, err, "malformed %s", messageType)
	}
	all, err := loadSchemas()
	if err != nil {
		return ivxperr.Wrap(ivxperr.CodeInternal, err, "load schemas")
	}
	s, ok := all[messageType]
	if !ok {
		return nil
	}
	if err := s.Validate(doc); err != nil {
		return ivxperr.Wrap(ivxperr.CodeInvalidMessage, err, "invalid %s", messageType)
	}
	return nil
}
