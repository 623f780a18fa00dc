// Package remote implements the HTTP/1.1 wire surface of spec §4.7/§6.2: a
// server exposing every local mutation as a POST/JSON endpoint, and a
// client mirroring the local API exactly. Callbacks execute on the client;
// the server only mediates file operations.
package remote

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/coredpl/dpl/ledger"
)

// envelope wraps every response per spec §6.2: {ok:true,...} on success or
// {ok:false,error:{type,message}} on failure.
type envelope struct {
	OK    bool        `json:"ok"`
	Error *wireError  `json:"error,omitempty"`
}

type wireError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindLockFailed:
		return http.StatusLocked
	case ledger.KindAbortFlagSet, ledger.KindOperationFailed, ledger.KindOperationCompleted:
		return http.StatusConflict
	case ledger.KindHeartbeatStale:
		return http.StatusOK
	case ledger.KindIOError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := ledger.KindIOError
	msg := err.Error()
	if lerr, ok := err.(*ledger.Error); ok { //nolint:errorlint
		kind = lerr.Kind
		msg = lerr.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(kind))
	_ = json.NewEncoder(w).Encode(envelope{OK: false, Error: &wireError{Type: string(kind), Message: msg}})
}

func writeOK(w http.ResponseWriter, extra map[string]any) {
	body := map[string]any{"ok": true}
	for k, v := range extra {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// createOperationRequest is the body of /operation/create.
type createOperationRequest struct {
	ParticipantID string `json:"participantId"`
	Description   string `json:"description,omitempty"`
	ParticipantPID int   `json:"participantPid,omitempty"`
}

type operationRequest struct {
	OperationID        string `json:"operationId"`
	ParticipantID      string `json:"participantId,omitempty"`
	ParticipantPID     int    `json:"participantPid,omitempty"`
	CancelPendingCalls bool   `json:"cancelPendingCalls,omitempty"`
	Value              bool   `json:"value,omitempty"`
	Message            string `json:"message,omitempty"`
	Level              string `json:"level,omitempty"`
}

type callStartRequest struct {
	OperationID string `json:"operationId"`
	SessionID   int    `json:"sessionId"`
	Description string `json:"description,omitempty"`
	FailOnCrash bool   `json:"failOnCrash,omitempty"`
}

type callEndRequest struct {
	OperationID string `json:"operationId"`
	CallID      string `json:"callId"`
}

type callFailRequest struct {
	OperationID string `json:"operationId"`
	CallID      string `json:"callId"`
	Error       string `json:"error"`
}

type stateResponseFrame struct {
	ParticipantID string    `json:"participantId"`
	CallID        string    `json:"callId"`
	PID           int       `json:"pid"`
	State         string    `json:"state"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}
