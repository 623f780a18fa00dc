package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coredpl/dpl/ledger"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	base := t.TempDir()
	l := ledger.New(base, "server-participant")
	srv := httptest.NewServer(NewServer(l))
	t.Cleanup(srv.Close)
	return srv, base
}

func doPost(t *testing.T, srv *httptest.Server, path string, body any) (int, envelope, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(data)) //nolint:noctx
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	var env envelope
	if ok, _ := raw["ok"].(bool); !ok {
		errMap, _ := raw["error"].(map[string]any)
		env = envelope{OK: false, Error: &wireError{
			Type:    fmt.Sprint(errMap["type"]),
			Message: fmt.Sprint(errMap["message"]),
		}}
	} else {
		env = envelope{OK: true}
	}
	return resp.StatusCode, env, raw
}

func TestServerHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health") //nolint:noctx
	if err != nil {
		t.Fatalf("get /health: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["participantId"] != "server-participant" {
		t.Fatalf("participantId = %v, want server-participant", body["participantId"])
	}
}

func TestServerOperationLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	status, _, created := doPost(t, srv, "/operation/create", createOperationRequest{ParticipantID: "p1", Description: "test op"})
	if status != http.StatusOK {
		t.Fatalf("create status = %d", status)
	}
	opID, _ := created["operationId"].(string)
	if opID == "" {
		t.Fatalf("expected a non-empty operationId")
	}

	status, _, joined := doPost(t, srv, "/operation/join", operationRequest{OperationID: opID, ParticipantID: "p2"})
	if status != http.StatusOK {
		t.Fatalf("join status = %d", status)
	}
	if joined["sessionId"] == nil {
		t.Fatalf("expected a sessionId")
	}

	status, _, _ = doPost(t, srv, "/operation/heartbeat", operationRequest{OperationID: opID})
	if status != http.StatusOK {
		t.Fatalf("heartbeat status = %d", status)
	}

	status, _, state := doPost(t, srv, "/operation/state", operationRequest{OperationID: opID})
	if status != http.StatusOK {
		t.Fatalf("state status = %d", status)
	}
	if state["operationId"] != opID {
		t.Fatalf("state operationId = %v, want %s", state["operationId"], opID)
	}

	status, _, callResp := doPost(t, srv, "/call/start", callStartRequest{OperationID: opID, Description: "work"})
	if status != http.StatusOK {
		t.Fatalf("call/start status = %d", status)
	}
	callID, _ := callResp["callId"].(string)
	if callID == "" {
		t.Fatalf("expected a non-empty callId")
	}

	status, _, _ = doPost(t, srv, "/call/end", callEndRequest{OperationID: opID, CallID: callID})
	if status != http.StatusOK {
		t.Fatalf("call/end status = %d", status)
	}

	status, _, _ = doPost(t, srv, "/operation/complete", operationRequest{OperationID: opID})
	if status != http.StatusOK {
		t.Fatalf("complete status = %d", status)
	}
}

func TestServerOperationStateMissingReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	status, env, _ := doPost(t, srv, "/operation/state", operationRequest{OperationID: "does-not-exist"})
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if env.Error == nil || env.Error.Type != string(ledger.KindNotFound) {
		t.Fatalf("error = %+v, want kind %s", env.Error, ledger.KindNotFound)
	}
}

func TestServerCallFailAbortsWhenFailOnCrash(t *testing.T) {
	srv, _ := newTestServer(t)

	_, _, created := doPost(t, srv, "/operation/create", createOperationRequest{ParticipantID: "p1"})
	opID, _ := created["operationId"].(string)

	_, _, callResp := doPost(t, srv, "/call/start", callStartRequest{OperationID: opID, FailOnCrash: true})
	callID, _ := callResp["callId"].(string)

	status, _, _ := doPost(t, srv, "/call/fail", callFailRequest{OperationID: opID, CallID: callID, Error: "boom"})
	if status != http.StatusOK {
		t.Fatalf("call/fail status = %d", status)
	}

	status, _, state := doPost(t, srv, "/operation/state", operationRequest{OperationID: opID})
	if status != http.StatusOK {
		t.Fatalf("state status = %d", status)
	}
	if aborted, _ := state["aborted"].(bool); !aborted {
		t.Fatalf("expected operation to be marked aborted after a FailOnCrash call fails")
	}
}

func TestServerDecodeRejectsInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/operation/create", "application/json", bytes.NewReader([]byte("not json"))) //nolint:noctx
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
