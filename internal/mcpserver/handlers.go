package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *WardflowClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *WardflowClient) *Handlers {
	return &Handlers{client: client}
}

// HandleUploadDataset uploads facility records as a dataset.
func (h *Handlers) HandleUploadDataset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	raw := req.GetArguments()["records"]
	if raw == nil {
		return mcp.NewToolResultError("records is required"), nil
	}
	records, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid records: %v", err)), nil
	}

	resp, err := h.client.UploadDataset(ctx, name, records)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Upload failed: %v", err)), nil
	}

	text, err := formatDataset(resp)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse dataset: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListDatasets lists uploaded datasets.
func (h *Handlers) HandleListDatasets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListDatasets(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list datasets: %v", err)), nil
	}

	text, err := formatDatasetList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse datasets: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleStartAnalysis starts a new analysis session.
func (h *Handlers) HandleStartAnalysis(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	handle := req.GetString("dataset_handle", "")
	if handle == "" {
		return mcp.NewToolResultError("dataset_handle is required"), nil
	}

	raw, err := h.client.StartSession(ctx, handle)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start analysis: %v", err)), nil
	}

	text, err := formatResponse(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleSendMessage forwards a reply to the session.
func (h *Handlers) HandleSendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	message := req.GetString("message", "")
	if message == "" {
		return mcp.NewToolResultError("message is required"), nil
	}

	raw, err := h.client.SendMessage(ctx, sessionID, message)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to send message: %v", err)), nil
	}

	text, err := formatResponse(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetSessionStatus reports session state without advancing it.
func (h *Handlers) HandleGetSessionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	raw, err := h.client.GetSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get session: %v", err)), nil
	}

	text, err := formatSession(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse session: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleEndSession deletes a session.
func (h *Handlers) HandleEndSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	if _, err := h.client.DeleteSession(ctx, sessionID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to end session: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Session %s ended.", sessionID)), nil
}

// --- Formatting helpers ---

func formatDataset(raw json.RawMessage) (string, error) {
	var resp struct {
		Dataset map[string]any `json:"dataset"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Dataset == nil {
		return "", fmt.Errorf("unexpected dataset response format")
	}

	var sb strings.Builder
	sb.WriteString("Dataset uploaded:\n")
	fmt.Fprintf(&sb, "  Handle: %s\n", getString(resp.Dataset, "handle"))
	fmt.Fprintf(&sb, "  Name: %s\n", getString(resp.Dataset, "name"))
	if summary, ok := resp.Dataset["summary"].(map[string]any); ok {
		writeSummary(&sb, summary)
	}
	sb.WriteString("\nUse start_analysis with this handle to begin.")
	return sb.String(), nil
}

func formatDatasetList(raw json.RawMessage) (string, error) {
	var resp struct {
		Datasets []map[string]any `json:"datasets"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected datasets response format")
	}
	if len(resp.Datasets) == 0 {
		return "No datasets uploaded yet. Use upload_dataset first.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d dataset(s):\n\n", len(resp.Datasets))
	for i, d := range resp.Datasets {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, getString(d, "name"), getString(d, "handle"))
		if summary, ok := d["summary"].(map[string]any); ok {
			writeSummary(&sb, summary)
		}
		if i < len(resp.Datasets)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func writeSummary(sb *strings.Builder, summary map[string]any) {
	if v, ok := getFloat(summary, "recordCount"); ok {
		fmt.Fprintf(sb, "  Records: %.0f\n", v)
	}
	if states, ok := summary["states"].([]any); ok && len(states) > 0 {
		names := make([]string, 0, len(states))
		for _, s := range states {
			if str, ok := s.(string); ok {
				names = append(names, str)
			}
		}
		fmt.Fprintf(sb, "  States: %s\n", strings.Join(names, ", "))
	}
	if v, ok := getFloat(summary, "wardCount"); ok {
		fmt.Fprintf(sb, "  Wards: %.0f\n", v)
	}
}

func formatResponse(raw json.RawMessage) (string, error) {
	var wrapper struct {
		Response map[string]any `json:"response"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil || wrapper.Response == nil {
		return "", fmt.Errorf("unexpected response format")
	}
	r := wrapper.Response

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", getString(r, "message"))
	fmt.Fprintf(&sb, "\nSession: %s | Stage: %s\n", getString(r, "sessionId"), getString(r, "stage"))

	if options, ok := r["options"].([]any); ok && len(options) > 0 {
		sb.WriteString("Options:\n")
		for _, o := range options {
			if s, ok := o.(string); ok {
				fmt.Fprintf(&sb, "  - %s\n", s)
			}
		}
	}

	if results, ok := r["results"].([]any); ok && len(results) > 0 {
		sb.WriteString("\nWard TPR results:\n")
		writeResults(&sb, results)
	}

	if violations, ok := r["violations"].(map[string]any); ok {
		writeViolations(&sb, violations)
	}

	if dq, ok := r["dataQuality"].(map[string]any); ok {
		writeDataQuality(&sb, dq)
	}

	return sb.String(), nil
}

func writeResults(sb *strings.Builder, results []any) {
	for _, item := range results {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		agg, _ := m["aggregate"].(map[string]any)
		if agg == nil {
			continue
		}
		ward := getString(agg, "wardName")
		lga := getString(agg, "lga")
		if tpr, ok := getFloat(agg, "tpr"); ok {
			method := getString(agg, "method")
			suffix := ""
			if method == "alternative" {
				suffix = " (alternative method)"
			}
			fmt.Fprintf(sb, "  %s, %s: %.1f%%%s\n", ward, lga, tpr, suffix)
		} else {
			fmt.Fprintf(sb, "  %s, %s: no result (insufficient testing data)\n", ward, lga)
		}
	}
}

func writeViolations(sb *strings.Builder, report map[string]any) {
	urban, _ := report["urban"].([]any)
	rural, _ := report["rural"].([]any)
	total := len(urban) + len(rural)
	if total == 0 {
		return
	}

	fmt.Fprintf(sb, "\nThreshold alerts (%d ward(s) above action levels):\n", total)
	for _, group := range [][]any{urban, rural} {
		for _, item := range group {
			v, ok := item.(map[string]any)
			if !ok {
				continue
			}
			tpr, _ := getFloat(v, "tpr")
			limit, _ := getFloat(v, "threshold")
			fmt.Fprintf(sb, "  [%s] %s, %s: %.1f%% (threshold %.0f%%)\n",
				getString(v, "severity"), getString(v, "wardName"), getString(v, "lga"), tpr, limit)
		}
	}

	if recs, ok := report["recommendations"].([]any); ok && len(recs) > 0 {
		sb.WriteString("Recommendations:\n")
		for _, rec := range recs {
			if s, ok := rec.(string); ok {
				fmt.Fprintf(sb, "  - %s\n", s)
			}
		}
	}
}

func writeDataQuality(sb *strings.Builder, dq map[string]any) {
	issues, _ := dq["issues"].([]any)
	missing, _ := dq["missingTprWards"].([]any)
	if len(issues) == 0 && len(missing) == 0 {
		return
	}

	sb.WriteString("\nData quality notes:\n")
	for _, item := range issues {
		i, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fmt.Fprintf(sb, "  %s: %s (%s, %s)\n",
			getString(i, "kind"), getString(i, "detail"), getString(i, "ward"), getString(i, "lga"))
	}
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for _, w := range missing {
			if s, ok := w.(string); ok {
				names = append(names, s)
			}
		}
		fmt.Fprintf(sb, "  Wards without TPR: %s\n", strings.Join(names, ", "))
	}
}

func formatSession(raw json.RawMessage) (string, error) {
	var wrapper struct {
		Session map[string]any `json:"session"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil || wrapper.Session == nil {
		return "", fmt.Errorf("unexpected session response format")
	}
	s := wrapper.Session

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s\n", getString(s, "id"))
	fmt.Fprintf(&sb, "  Stage: %s\n", getString(s, "stage"))
	fmt.Fprintf(&sb, "  Dataset: %s\n", getString(s, "datasetHandle"))

	if sel, ok := s["selections"].(map[string]any); ok {
		if v := getString(sel, "state"); v != "" {
			fmt.Fprintf(&sb, "  State: %s\n", v)
		}
		if v := getString(sel, "facilityLevel"); v != "" {
			fmt.Fprintf(&sb, "  Facility level: %s\n", v)
		}
		if v := getString(sel, "ageGroup"); v != "" {
			fmt.Fprintf(&sb, "  Age group: %s\n", v)
		}
	}
	return sb.String(), nil
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
