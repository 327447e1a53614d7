package handlers

import "github.com/xeipuuv/gojsonschema"

// progressSchema validates the progress POST body shared by encode
// and metric tasks (spec §4.2): progress is the only required field.
var progressSchema = mustCompile(`{
	"type": "object",
	"properties": {
		"progress": { "type": "number" },
		"fps": { "type": "number" },
		"eta": { "type": "integer" },
		"encode_type": { "type": "string", "enum": ["crf", "abr"] },
		"encode_value": { "type": "integer" }
	},
	"required": ["progress"]
}`)

func mustCompile(schemaJSON string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		panic(err)
	}
	return schema
}
