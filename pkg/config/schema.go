package config

import (
	"reflect"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/marmos91/smbtran/internal/bytesize"
)

// Schema returns the JSON schema of the configuration file. Keys follow the
// YAML names; sizes and durations accept their string forms.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
		Mapper:                     schemaType,
	}

	schema := reflector.Reflect(&Config{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "smbtran Configuration"
	schema.Description = "Configuration schema for the smbtran CLI"
	return schema
}

func schemaType(t reflect.Type) *jsonschema.Schema {
	switch t {
	case reflect.TypeOf(bytesize.ByteSize(0)):
		return &jsonschema.Schema{
			Description: `Byte size, e.g. 65536, "64KiB" or "1MiB"`,
			OneOf: []*jsonschema.Schema{
				{Type: "integer", Minimum: "0"},
				{Type: "string"},
			},
		}
	case reflect.TypeOf(time.Duration(0)):
		return &jsonschema.Schema{
			Type:        "string",
			Description: `Go duration, e.g. "500ms" or "30s"`,
		}
	}
	return nil
}
