package api

import (
	"bytes"
	"embed"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.json
var schemaFS embed.FS

const postRequestSchema = "schema/post_request.json"

var postRequestValidator = mustCompile(postRequestSchema)

func mustCompile(name string) *jsonschema.Schema {
	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader(raw)); err != nil {
		panic(err)
	}
	return c.MustCompile(name)
}

// decodePostRequest validates body against the request schema and returns
// the raw title and content bytes.
func decodePostRequest(body []byte) (title, content []byte, err error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := postRequestValidator.Validate(doc); err != nil {
		return nil, nil, fmt.Errorf("invalid request: %w", err)
	}

	var req PostRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch req.Encoding {
	case "", EncodingUTF8:
		return []byte(req.Title), []byte(req.Content), nil
	case EncodingBase64:
		title, err := base64.StdEncoding.DecodeString(req.Title)
		if err != nil {
			return nil, nil, fmt.Errorf("title is not base64: %w", err)
		}
		content, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			return nil, nil, fmt.Errorf("content is not base64: %w", err)
		}
		return title, content, nil
	default:
		return nil, nil, fmt.Errorf("unknown encoding %q", req.Encoding)
	}
}
