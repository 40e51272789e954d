package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Wardflow MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolUploadDataset = mcp.NewTool("upload_dataset",
	mcp.WithDescription(
		"Upload health facility surveillance records as a named dataset. "+
			"Records carry RDT and microscopy test counts per age group plus ward, "+
			"LGA, state, and facility level. Returns a dataset handle used to start analyses."),
	mcp.WithString("name",
		mcp.Required(),
		mcp.Description("Human-readable dataset name (e.g. 'Kano NMEP 2025-Q2')")),
	mcp.WithObject("records",
		mcp.Required(),
		mcp.Description("Array of facility records with ward, lga, state, facilityLevel, and test count fields")),
)

var ToolListDatasets = mcp.NewTool("list_datasets",
	mcp.WithDescription(
		"List uploaded surveillance datasets with their handles, record counts, "+
			"states covered, and ward counts. Use a handle with start_analysis."),
)

var ToolStartAnalysis = mcp.NewTool("start_analysis",
	mcp.WithDescription(
		"Start a guided test positivity rate (TPR) analysis session against an uploaded dataset. "+
			"The session walks through state, facility level, and age group selection, "+
			"then computes ward-level TPR with threshold alerts. "+
			"Returns a session ID plus the first prompt and its options."),
	mcp.WithString("dataset_handle",
		mcp.Required(),
		mcp.Description("Handle of an uploaded dataset (e.g. 'ds_...')")),
)

var ToolSendMessage = mcp.NewTool("send_message",
	mcp.WithDescription(
		"Send a reply to an active analysis session. Accepts natural language: "+
			"selections ('Kano', 'primary facilities', 'children under 5'), "+
			"navigation ('go back', 'status', 'exit'), or questions about the current step. "+
			"When the final selection is made the response includes ward TPR results "+
			"and any threshold alerts."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("The session ID from start_analysis")),
	mcp.WithString("message",
		mcp.Required(),
		mcp.Description("The reply to send")),
)

var ToolGetSessionStatus = mcp.NewTool("get_session_status",
	mcp.WithDescription(
		"Get the current stage and selections of an analysis session without advancing it."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("The session ID from start_analysis")),
)

var ToolEndSession = mcp.NewTool("end_session",
	mcp.WithDescription(
		"End and remove an analysis session. Use when the analysis is finished "+
			"or should be abandoned."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("The session ID from start_analysis")),
)
