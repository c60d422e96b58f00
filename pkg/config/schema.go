// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
)

// SchemaID identifies the generated schema document.
const SchemaID = "https://github.com/kadirpekel/quill/schemas/config.json"

// Schema reflects the JSON Schema of Config. Keys follow the yaml tags so
// the schema validates config files as written.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		FieldNameTag:               "yaml",
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
		Mapper:                     mapDuration,
	}
	s := r.Reflect(&Config{})
	s.ID = SchemaID
	s.Title = "Quill Configuration"
	s.Description = "Configuration for the quill document pipeline"
	return s
}

// SchemaJSON renders Schema as indented JSON, or compact when indent is empty.
func SchemaJSON(indent string) ([]byte, error) {
	if indent == "" {
		return json.Marshal(Schema())
	}
	return json.MarshalIndent(Schema(), "", indent)
}

var durationType = reflect.TypeOf(time.Duration(0))

// mapDuration describes durations the way the decoder accepts them.
func mapDuration(t reflect.Type) *jsonschema.Schema {
	if t != durationType {
		return nil
	}
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|ms|s|m|h))+$`,
		Description: "Duration such as 500ms, 30s or 1h",
	}
}
