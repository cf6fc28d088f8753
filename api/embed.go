// Package api embeds the OpenAPI document served at /openapi.yml.
package api

import _ "embed"

//go:embed openapi.yml
var OpenAPISpec []byte
