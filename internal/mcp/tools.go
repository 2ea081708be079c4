package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spigotdb/spigot/internal/engine"
	"github.com/spigotdb/spigot/internal/model"
)

// registerTools registers all Spigot MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Discovery tools -----

	srv.AddTool(
		mcp.NewTool("spigot_list_services",
			mcp.WithDescription(
				"List all database services connected to the gateway. Use this first "+
					"to discover which services are available before querying tables.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListServices,
	)

	srv.AddTool(
		mcp.NewTool("spigot_list_tables",
			mcp.WithDescription(
				"List all tables in a database service. Use this to explore what "+
					"data is available before querying specific tables.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("service",
				mcp.Required(),
				mcp.Description("Name of the database service to list tables for"),
			),
		),
		s.handleListTables,
	)

	srv.AddTool(
		mcp.NewTool("spigot_describe_table",
			mcp.WithDescription(
				"Get the schema for a specific table: every column with its type, "+
					"nullability, and primary-key flag. Use this to understand table "+
					"structure before reading or writing rows.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("service",
				mcp.Required(),
				mcp.Description("Name of the database service"),
			),
			mcp.WithString("table",
				mcp.Required(),
				mcp.Description("Name of the table to describe"),
			),
		),
		s.handleDescribeTable,
	)

	// ----- Row tools -----

	srv.AddTool(
		mcp.NewTool("spigot_query",
			mcp.WithDescription(
				"Query rows from a table. The optional where object is a set of "+
					"column = value equality tests, all of which must match "+
					"(e.g. {\"status\": \"active\"}). Omit it to page through every row.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("service",
				mcp.Required(),
				mcp.Description("Name of the database service"),
			),
			mcp.WithString("table",
				mcp.Required(),
				mcp.Description("Name of the table to query"),
			),
			mcp.WithObject("where",
				mcp.Description("Equality filters as column/value pairs (e.g. {\"status\": \"active\"})"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of rows to return (default 25, max 1000)"),
			),
		),
		s.handleQuery,
	)

	srv.AddTool(
		mcp.NewTool("spigot_insert",
			mcp.WithDescription(
				"Insert one or more rows into a table. Each row is a JSON object "+
					"mapping column names to values. Returns the inserted count.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("service",
				mcp.Required(),
				mcp.Description("Name of the database service"),
			),
			mcp.WithString("table",
				mcp.Required(),
				mcp.Description("Name of the table to insert into"),
			),
			mcp.WithArray("rows",
				mcp.Required(),
				mcp.Description("Array of row objects to insert (e.g. [{\"name\": \"Alice\"}])"),
			),
		),
		s.handleInsert,
	)

	srv.AddTool(
		mcp.NewTool("spigot_update",
			mcp.WithDescription(
				"Update rows in a table that match the where object. The set object "+
					"holds the new column values. A non-empty where is required to "+
					"prevent accidental full-table updates.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("service",
				mcp.Required(),
				mcp.Description("Name of the database service"),
			),
			mcp.WithString("table",
				mcp.Required(),
				mcp.Description("Name of the table to update"),
			),
			mcp.WithObject("set",
				mcp.Required(),
				mcp.Description("Column names and new values (e.g. {\"status\": \"archived\"})"),
			),
			mcp.WithObject("where",
				mcp.Required(),
				mcp.Description("Equality filters selecting the rows to update (e.g. {\"id\": 42})"),
			),
		),
		s.handleUpdate,
	)

	srv.AddTool(
		mcp.NewTool("spigot_delete",
			mcp.WithDescription(
				"Delete rows from a table that match the where object. A non-empty "+
					"where is required to prevent accidental full-table deletes. "+
					"Returns the number of deleted rows.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("service",
				mcp.Required(),
				mcp.Description("Name of the database service"),
			),
			mcp.WithString("table",
				mcp.Required(),
				mcp.Description("Name of the table to delete from"),
			),
			mcp.WithObject("where",
				mcp.Required(),
				mcp.Description("Equality filters selecting the rows to delete (e.g. {\"status\": \"expired\"})"),
			),
		),
		s.handleDelete,
	)

	// ----- Job tools -----

	srv.AddTool(
		mcp.NewTool("spigot_submit_job",
			mcp.WithDescription(
				"Submit an asynchronous background job. Job types: data_import, "+
					"data_export, batch_operation, media_processing, table_recompute, "+
					"custom. Returns the job snapshot with its job_id; poll it with "+
					"spigot_job_status.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("job_type",
				mcp.Required(),
				mcp.Description("Type of job to run"),
			),
			mcp.WithObject("parameters",
				mcp.Description("Job parameters, specific to the job type"),
			),
		),
		s.handleSubmitJob,
	)

	srv.AddTool(
		mcp.NewTool("spigot_job_status",
			mcp.WithDescription(
				"Get the current snapshot of a background job: status, progress, "+
					"result, error, and execution logs.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("job_id",
				mcp.Required(),
				mcp.Description("ID of the job to look up"),
			),
		),
		s.handleJobStatus,
	)

	srv.AddTool(
		mcp.NewTool("spigot_list_jobs",
			mcp.WithDescription(
				"List background jobs, newest first, optionally filtered by status "+
					"(pending, running, completed, failed, cancelled) and job type.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("status",
				mcp.Description("Only jobs with this status"),
			),
			mcp.WithString("type",
				mcp.Description("Only jobs of this type"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of jobs to return (default 50)"),
			),
		),
		s.handleListJobs,
	)
}

// handleListServices returns the names of all connected services.
func (s *MCPServer) handleListServices(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

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
	return successJSON(items)
}

// handleListTables returns the table names of one service.
func (s *MCPServer) handleListTables(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	eng, result := s.engineArg(request)
	if result != nil {
		return result, nil
	}

	tables, err := eng.ListTables(ctx)
	if err != nil {
		return toolError("Failed to list tables: %v", err)
	}
	return successJSON(map[string]interface{}{"tables": tables})
}

// handleDescribeTable returns one table's column definitions.
func (s *MCPServer) handleDescribeTable(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	eng, result := s.engineArg(request)
	if result != nil {
		return result, nil
	}
	table, err := requireString(request, "table")
	if err != nil {
		return toolError("%v", err)
	}

	def, err := eng.LookupTable(ctx, table)
	if err != nil {
		return toolError("Failed to describe table %q: %v", table, err)
	}
	return successJSON(def)
}

// handleQuery selects rows with optional equality filters.
func (s *MCPServer) handleQuery(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	eng, result := s.engineArg(request)
	if result != nil {
		return result, nil
	}
	table, err := requireString(request, "table")
	if err != nil {
		return toolError("%v", err)
	}

	where := engine.Predicate(getObjectArg(request, "where"))
	limit := clamp(optionalInt(request, "limit", 25), 1, 1000)

	rows, err := eng.SelectRows(ctx, table, where, limit)
	if err != nil {
		return toolError("Query failed: %v", err)
	}
	return successJSON(map[string]interface{}{
		"rows":  rows,
		"count": len(rows),
	})
}

// handleInsert appends rows to a table.
func (s *MCPServer) handleInsert(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	eng, result := s.engineArg(request)
	if result != nil {
		return result, nil
	}
	table, err := requireString(request, "table")
	if err != nil {
		return toolError("%v", err)
	}
	rows := getObjectSliceArg(request, "rows")
	if len(rows) == 0 {
		return toolError("Parameter \"rows\" must be a non-empty array of objects")
	}

	n, err := eng.InsertRows(ctx, table, rows)
	if err != nil {
		return toolError("Insert failed: %v", err)
	}
	return successJSON(map[string]interface{}{"inserted": n})
}

// handleUpdate sets columns on rows matching the predicate.
func (s *MCPServer) handleUpdate(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	eng, result := s.engineArg(request)
	if result != nil {
		return result, nil
	}
	table, err := requireString(request, "table")
	if err != nil {
		return toolError("%v", err)
	}
	set := getObjectArg(request, "set")
	if len(set) == 0 {
		return toolError("Parameter \"set\" must be a non-empty object")
	}
	where := getObjectArg(request, "where")
	if len(where) == 0 {
		return toolError("Parameter \"where\" must be a non-empty object; unfiltered updates are not allowed")
	}

	n, err := eng.UpdateRows(ctx, table, set, engine.Predicate(where))
	if err != nil {
		return toolError("Update failed: %v", err)
	}
	return successJSON(map[string]interface{}{"updated": n})
}

// handleDelete removes rows matching the predicate.
func (s *MCPServer) handleDelete(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	eng, result := s.engineArg(request)
	if result != nil {
		return result, nil
	}
	table, err := requireString(request, "table")
	if err != nil {
		return toolError("%v", err)
	}
	where := getObjectArg(request, "where")
	if len(where) == 0 {
		return toolError("Parameter \"where\" must be a non-empty object; unfiltered deletes are not allowed")
	}

	n, err := eng.DeleteRows(ctx, table, engine.Predicate(where))
	if err != nil {
		return toolError("Delete failed: %v", err)
	}
	return successJSON(map[string]interface{}{"deleted": n})
}

// handleSubmitJob enqueues a background job.
func (s *MCPServer) handleSubmitJob(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	jobType, err := requireString(request, "job_type")
	if err != nil {
		return toolError("%v", err)
	}
	if !model.ValidJobType(model.JobType(jobType)) {
		return toolError("Unknown job type %q", jobType)
	}

	submitted, err := s.scheduler.Submit(model.JobRequest{
		Type:       model.JobType(jobType),
		Parameters: getObjectArg(request, "parameters"),
	})
	if err != nil {
		return toolError("Submit failed: %v", err)
	}
	return successJSON(submitted)
}

// handleJobStatus returns one job's snapshot.
func (s *MCPServer) handleJobStatus(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "job_id")
	if err != nil {
		return toolError("%v", err)
	}

	j, err := s.jobs.Get(id)
	if err != nil {
		return toolError("Job %q not found", id)
	}
	return successJSON(j)
}

// handleListJobs returns job snapshots, newest first.
func (s *MCPServer) handleListJobs(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	status := model.JobStatus(optionalString(request, "status"))
	jobType := model.JobType(optionalString(request, "type"))
	limit := clamp(optionalInt(request, "limit", 50), 1, 500)

	return successJSON(s.jobs.List(status, jobType, limit))
}

// engineArg resolves the "service" argument to a connected engine, returning
// a tool error result when the argument is missing or unknown.
func (s *MCPServer) engineArg(request mcp.CallToolRequest) (*engine.SQLEngine, *mcp.CallToolResult) {
	serviceName, err := requireString(request, "service")
	if err != nil {
		result, _ := toolError("%v. Available services: %v", err, s.engines.Services())
		return nil, result
	}
	eng, err := s.engines.Get(serviceName)
	if err != nil {
		result, _ := toolError("Service %q not found. Available services: %v", serviceName, s.engines.Services())
		return nil, result
	}
	return eng, nil
}
