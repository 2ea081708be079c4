package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spigotdb/spigot/internal/engine"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	srv.AddResource(
		mcp.NewResource(
			"spigot://services",
			"Connected Database Services",
			mcp.WithResourceDescription(
				"List of all database services connected to the gateway, "+
					"including their driver type.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleServicesResource,
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"spigot://schema/{service}",
			"Database Schema",
			mcp.WithTemplateDescription(
				"Full schema for a database service: every table with its "+
					"column names, types, and primary keys.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleSchemaResource,
	)
}

// handleServicesResource returns a JSON list of all connected services.
func (s *MCPServer) handleServicesResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	type serviceInfo struct {
		Name   string `json:"name"`
		Driver string `json:"driver"`
	}

	names := s.engines.Services()
	items := make([]serviceInfo, 0, len(names))
	for _, name := range names {
		eng, err := s.engines.Get(name)
		if err != nil {
			continue
		}
		items = append(items, serviceInfo{Name: name, Driver: eng.Driver()})
	}

	b, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal services: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "spigot://services",
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

// handleSchemaResource returns every table definition for a service.
func (s *MCPServer) handleSchemaResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	// Extract service name from URI: "spigot://schema/{service}"
	uri := request.Params.URI
	serviceName := strings.TrimPrefix(uri, "spigot://schema/")
	if serviceName == "" || serviceName == uri {
		return nil, fmt.Errorf("invalid schema URI %q: expected spigot://schema/{service}", uri)
	}

	eng, err := s.engines.Get(serviceName)
	if err != nil {
		return nil, fmt.Errorf("service %q not found: %w", serviceName, err)
	}

	names, err := eng.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables for %q: %w", serviceName, err)
	}

	tables := make([]*engine.Table, 0, len(names))
	for _, name := range names {
		def, err := eng.LookupTable(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to describe table %q: %w", name, err)
		}
		tables = append(tables, def)
	}

	b, err := json.MarshalIndent(map[string]interface{}{
		"service": serviceName,
		"tables":  tables,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
