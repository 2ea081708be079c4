// Package openapi generates the gateway's OpenAPI 3.1 document: the fixed
// governance surface plus per-table row paths discovered from the engine.
package openapi

import (
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// Generate builds the OpenAPI document. tableNames come from live engine
// introspection, so the document reflects the tables actually being served.
func Generate(baseURL string, tableNames []string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Spigot API",
			Description: "REST gateway over SQL table engines with API-key governance, rate limiting, and async jobs.",
			Version:     "1.0.0",
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	doc.Security = openapi3.SecurityRequirements{
		{"apiKey": {}},
		{"bearerAuth": {}},
	}

	doc.Components.Schemas["ErrorResponse"] = errorResponseSchema()

	doc.Paths = openapi3.NewPaths()
	addGovernancePaths(doc)
	for _, name := range tableNames {
		addTablePaths(doc, name)
	}
	return doc
}

func errorResponseSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":                &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
							"message":             &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
							"retry_after_seconds": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}},
							"context":             &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
						},
					},
				},
			},
		},
	}
}

func jsonOp(opID, summary, tag string) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = opID
	op.Summary = summary
	op.Tags = []string{tag}
	op.Responses = openapi3.NewResponses()
	op.Responses.Set("200", &openapi3.ResponseRef{
		Value: openapi3.NewResponse().WithDescription("Success"),
	})
	op.Responses.Set("401", &openapi3.ResponseRef{
		Value: openapi3.NewResponse().WithDescription("Unauthenticated").
			WithJSONSchemaRef(&openapi3.SchemaRef{Ref: "#/components/schemas/ErrorResponse"}),
	})
	op.Responses.Set("429", &openapi3.ResponseRef{
		Value: openapi3.NewResponse().WithDescription("Rate limited").
			WithJSONSchemaRef(&openapi3.SchemaRef{Ref: "#/components/schemas/ErrorResponse"}),
	})
	return op
}

func addGovernancePaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/auth/api-keys", &openapi3.PathItem{
		Get:  jsonOp("listApiKeys", "List API keys", "auth"),
		Post: jsonOp("createApiKey", "Issue a new API key", "auth"),
	})
	doc.Paths.Set("/api/v1/auth/api-keys/{id}", &openapi3.PathItem{
		Get:        jsonOp("getApiKey", "Get an API key record", "auth"),
		Delete:     jsonOp("revokeApiKey", "Revoke an API key", "auth"),
		Parameters: pathParam("id"),
	})
	doc.Paths.Set("/api/v1/auth/api-keys/{id}/rotate", &openapi3.PathItem{
		Post:       jsonOp("rotateApiKey", "Rotate an API key", "auth"),
		Parameters: pathParam("id"),
	})
	doc.Paths.Set("/api/v1/auth/api-keys/{id}/usage", &openapi3.PathItem{
		Get:        jsonOp("apiKeyUsage", "Per-key usage counters", "auth"),
		Parameters: pathParam("id"),
	})

	doc.Paths.Set("/api/v1/tables", &openapi3.PathItem{
		Get:  jsonOp("listTables", "List tables", "tables"),
		Post: jsonOp("createTable", "Create a table", "tables"),
	})

	doc.Paths.Set("/api/v1/batch/operations", &openapi3.PathItem{
		Post: jsonOp("executeBatch", "Execute a synchronous batch", "batch"),
	})
	doc.Paths.Set("/api/v1/batch/jobs", &openapi3.PathItem{
		Get:  jsonOp("listJobs", "List async jobs", "jobs"),
		Post: jsonOp("submitJob", "Submit an async job", "jobs"),
	})
	doc.Paths.Set("/api/v1/batch/jobs/{id}", &openapi3.PathItem{
		Get:        jsonOp("getJob", "Get job status", "jobs"),
		Delete:     jsonOp("cancelJob", "Cancel a job", "jobs"),
		Parameters: pathParam("id"),
	})
	doc.Paths.Set("/api/v1/batch/webhooks", &openapi3.PathItem{
		Get:  jsonOp("listWebhooks", "List webhooks", "webhooks"),
		Post: jsonOp("registerWebhook", "Register a webhook", "webhooks"),
	})
	doc.Paths.Set("/api/v1/batch/webhooks/{id}", &openapi3.PathItem{
		Delete:     jsonOp("unregisterWebhook", "Unregister a webhook", "webhooks"),
		Parameters: pathParam("id"),
	})

	doc.Paths.Set("/api/v1/media", &openapi3.PathItem{
		Get:  jsonOp("listMedia", "List media objects", "media"),
		Post: jsonOp("uploadMedia", "Upload a media object", "media"),
	})
}

func addTablePaths(doc *openapi3.T, table string) {
	doc.Paths.Set(fmt.Sprintf("/api/v1/tables/%s", table), &openapi3.PathItem{
		Get:    jsonOp("describe_"+table, fmt.Sprintf("Describe table %s", table), table),
		Delete: jsonOp("drop_"+table, fmt.Sprintf("Drop table %s", table), table),
	})
	doc.Paths.Set(fmt.Sprintf("/api/v1/tables/%s/rows", table), &openapi3.PathItem{
		Get:    jsonOp("query_"+table, fmt.Sprintf("Query rows in %s", table), table),
		Post:   jsonOp("insert_"+table, fmt.Sprintf("Insert rows into %s", table), table),
		Patch:  jsonOp("update_"+table, fmt.Sprintf("Update rows in %s", table), table),
		Delete: jsonOp("delete_"+table, fmt.Sprintf("Delete rows from %s", table), table),
	})
}

func pathParam(name string) openapi3.Parameters {
	p := openapi3.NewPathParameter(name)
	p.Schema = &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}
	return openapi3.Parameters{&openapi3.ParameterRef{Value: p}}
}
