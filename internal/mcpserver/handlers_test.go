package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewWardflowClient(Config{APIURL: ts.URL})
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "dataset_not_found",
			"message": "Dataset not found",
		})
	}))
	defer ts.Close()

	client := NewWardflowClient(Config{APIURL: ts.URL})
	_, err := client.StartSession(context.Background(), "ds_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "Dataset not found")
}

func TestClient_DoRequest_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewWardflowClient(Config{APIURL: ts.URL})
	_, err := client.ListDatasets(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewWardflowClient(Config{APIURL: "http://127.0.0.1:1"})
	_, err := client.ListDatasets(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_DoRequest_CancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewWardflowClient(Config{APIURL: ts.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately
	_, err := client.ListDatasets(ctx)
	require.Error(t, err)
}

func TestClient_SendMessage_PathAndBody(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_, _ = w.Write([]byte(`{"response":{"sessionId":"sess_1","message":"ok","stage":"state_selection"}}`))
	}))
	defer ts.Close()

	client := NewWardflowClient(Config{APIURL: ts.URL})
	_, err := client.SendMessage(context.Background(), "sess_1", "Kano please")
	require.NoError(t, err)
	assert.Equal(t, "/v1/sessions/sess_1/messages", gotPath)
	assert.Equal(t, "Kano please", gotBody["message"])
}

// ============================================================
// Tool handler tests
// ============================================================

func TestHandleStartAnalysis_MissingHandle(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called")
	}))
	defer done()

	result, err := h.HandleStartAnalysis(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "dataset_handle is required")
}

func TestHandleStartAnalysis_Success(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/sessions", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"response":{
			"sessionId":"sess_abc",
			"message":"Which state would you like to analyze?",
			"stage":"state_selection",
			"selections":{},
			"options":["ADAMAWA","KANO"]
		}}`))
	}))
	defer done()

	result, err := h.HandleStartAnalysis(context.Background(), makeRequest(map[string]any{
		"dataset_handle": "ds_abc",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Which state would you like to analyze?")
	assert.Contains(t, text, "sess_abc")
	assert.Contains(t, text, "state_selection")
	assert.Contains(t, text, "KANO")
}

func TestHandleSendMessage_ResultsAndAlerts(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":{
			"sessionId":"sess_abc",
			"message":"Analysis complete for 2 wards.",
			"stage":"complete",
			"selections":{"state":"KANO","facilityLevel":"primary","ageGroup":"u5"},
			"results":[
				{"aggregate":{"wardName":"DALA","lga":"DALA","tpr":30.0,"method":"standard"},
				 "match":{"tier":"exact_with_lga","confidence":1}},
				{"aggregate":{"wardName":"GWALE","lga":"GWALE","tpr":80.0,"method":"alternative"},
				 "match":{"tier":"fuzzy","confidence":0.9}}
			],
			"violations":{
				"rural":[{"wardName":"GWALE","lga":"GWALE","tpr":80.0,"threshold":70,"severity":"elevated"}],
				"recommendations":["Prioritize GWALE for vector control review."],
				"wardsChecked":2
			},
			"dataQuality":{"missingTprWards":["YALWA"]}
		}}`))
	}))
	defer done()

	result, err := h.HandleSendMessage(context.Background(), makeRequest(map[string]any{
		"session_id": "sess_abc",
		"message":    "under five",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "DALA, DALA: 30.0%")
	assert.Contains(t, text, "GWALE, GWALE: 80.0% (alternative method)")
	assert.Contains(t, text, "Threshold alerts (1 ward(s)")
	assert.Contains(t, text, "[elevated] GWALE")
	assert.Contains(t, text, "threshold 70%")
	assert.Contains(t, text, "Prioritize GWALE")
	assert.Contains(t, text, "Wards without TPR: YALWA")
}

func TestHandleSendMessage_MissingArgs(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called")
	}))
	defer done()

	result, err := h.HandleSendMessage(context.Background(), makeRequest(map[string]any{
		"session_id": "sess_abc",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "message is required")

	result, err = h.HandleSendMessage(context.Background(), makeRequest(map[string]any{
		"message": "hello",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "session_id is required")
}

func TestHandleSendMessage_APIError(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "not_found",
			"message": "Session not found",
		})
	}))
	defer done()

	result, err := h.HandleSendMessage(context.Background(), makeRequest(map[string]any{
		"session_id": "sess_gone",
		"message":    "hello",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Session not found")
}

func TestHandleGetSessionStatus_Success(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sessions/sess_abc", r.URL.Path)
		_, _ = w.Write([]byte(`{"session":{
			"id":"sess_abc",
			"datasetHandle":"ds_abc",
			"stage":"age_group_selection",
			"selections":{"state":"KANO","facilityLevel":"primary"}
		}}`))
	}))
	defer done()

	result, err := h.HandleGetSessionStatus(context.Background(), makeRequest(map[string]any{
		"session_id": "sess_abc",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "age_group_selection")
	assert.Contains(t, text, "State: KANO")
	assert.Contains(t, text, "Facility level: primary")
}

func TestHandleEndSession_Success(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		_, _ = w.Write([]byte(`{"status":"deleted"}`))
	}))
	defer done()

	result, err := h.HandleEndSession(context.Background(), makeRequest(map[string]any{
		"session_id": "sess_abc",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "sess_abc ended")
}

func TestHandleUploadDataset_Success(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/datasets", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "Kano Q2", req["name"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"dataset":{
			"handle":"ds_new",
			"name":"Kano Q2",
			"summary":{"recordCount":2,"states":["KANO"],"wardCount":2}
		}}`))
	}))
	defer done()

	result, err := h.HandleUploadDataset(context.Background(), makeRequest(map[string]any{
		"name": "Kano Q2",
		"records": []any{
			map[string]any{"ward": "Dala", "lga": "Dala", "state": "Kano"},
			map[string]any{"ward": "Gwale", "lga": "Gwale", "state": "Kano"},
		},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "ds_new")
	assert.Contains(t, text, "Records: 2")
	assert.Contains(t, text, "States: KANO")
	assert.Contains(t, text, "start_analysis")
}

func TestHandleUploadDataset_MissingRecords(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called")
	}))
	defer done()

	result, err := h.HandleUploadDataset(context.Background(), makeRequest(map[string]any{
		"name": "Kano Q2",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "records is required")
}

func TestHandleListDatasets_Empty(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"datasets":[]}`))
	}))
	defer done()

	result, err := h.HandleListDatasets(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No datasets uploaded yet")
}

func TestHandleListDatasets_Success(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"datasets":[
			{"handle":"ds_1","name":"Kano Q1","summary":{"recordCount":120,"states":["KANO"],"wardCount":44}},
			{"handle":"ds_2","name":"Adamawa Q1","summary":{"recordCount":80,"states":["ADAMAWA"],"wardCount":30}}
		]}`))
	}))
	defer done()

	result, err := h.HandleListDatasets(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 dataset(s)")
	assert.Contains(t, text, "Kano Q1")
	assert.Contains(t, text, "ds_2")
	assert.Contains(t, text, "Wards: 30")
}

// ============================================================
// Formatting tests
// ============================================================

func TestFormatResponse_MissingTPR(t *testing.T) {
	raw := json.RawMessage(`{"response":{
		"sessionId":"sess_1","message":"done","stage":"complete",
		"results":[{"aggregate":{"wardName":"YALWA","lga":"DALA","tpr":null,"method":"standard"},"match":{}}]
	}}`)

	text, err := formatResponse(raw)
	require.NoError(t, err)
	assert.Contains(t, text, "YALWA, DALA: no result")
}

func TestFormatResponse_BadShape(t *testing.T) {
	_, err := formatResponse(json.RawMessage(`{"unexpected":true}`))
	assert.Error(t, err)
}

func TestFormatSession_BadShape(t *testing.T) {
	_, err := formatSession(json.RawMessage(`[]`))
	assert.Error(t, err)
}
