package remote

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/projecteru2/core/log"

	"github.com/coredpl/dpl/ledger"
	"github.com/coredpl/dpl/session"
	"github.com/coredpl/dpl/types"
)

// Server exposes a local Ledger over HTTP/1.1 (spec §4.7): every local
// mutation as a POST/JSON endpoint, every read as a POST with a request
// body, per the table in §6.2. The server owns one Ledger and delegates;
// it performs no session/call-layer callbacks itself.
type Server struct {
	ledger *ledger.Ledger
	router chi.Router
}

// NewServer builds a Server around l. The router is adopted from
// jordigilh-kubernaut's stack — the teacher has no HTTP server of its own
// to generalize from.
func NewServer(l *ledger.Ledger) *Server {
	s := &Server{ledger: l, router: chi.NewRouter()}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) routes() {
	r := s.router

	corsMiddleware := cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300, //nolint:mnd
	})

	r.With(corsMiddleware).Get("/health", s.handleHealth)
	r.Post("/operation/create", s.handleOperationCreate)
	r.Post("/operation/join", s.handleOperationJoin)
	r.Post("/operation/leave", s.handleOperationLeave)
	r.Post("/operation/complete", s.handleOperationComplete)
	r.Post("/operation/heartbeat", s.handleOperationHeartbeat)
	r.Post("/operation/abort", s.handleOperationAbort)
	r.With(corsMiddleware).Post("/operation/state", s.handleOperationState)
	r.Post("/operation/log", s.handleOperationLog)
	r.Post("/call/start", s.handleCallStart)
	r.Post("/call/end", s.handleCallEnd)
	r.Post("/call/fail", s.handleCallFail)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]any{"participantId": s.ledger.ParticipantID()})
}

func (s *Server) handleOperationCreate(w http.ResponseWriter, r *http.Request) {
	var req createOperationRequest
	if !decode(w, r, &req) {
		return
	}
	l := ledger.New(s.ledger.BasePath(), req.ParticipantID)
	h, _, err := l.CreateOperation(r.Context(), "", req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"operationId": h.OperationID()})
}

func (s *Server) handleOperationJoin(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if !decode(w, r, &req) {
		return
	}
	l := ledger.New(s.ledger.BasePath(), req.ParticipantID)
	h, sess, err := l.JoinOperation(r.Context(), req.OperationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"operationId": h.OperationID(), "sessionId": sess.ID()})
}

func (s *Server) handleOperationLeave(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if !decode(w, r, &req) {
		return
	}
	writeOK(w, map[string]any{"operationId": req.OperationID})
}

func (s *Server) handleOperationComplete(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if !decode(w, r, &req) {
		return
	}
	store := s.storeFor(req.OperationID)
	doc, err := store.Update(r.Context(), func(doc *types.Document) error {
		if !ledger.CanComplete(doc, doc.InitiatorID) {
			return &ledger.Error{Kind: ledger.KindAbortFlagSet, OperationID: req.OperationID}
		}
		doc.CallFrames = nil
		return ledger.Transition(doc, types.StateCompleted)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if finalizeErr := store.Finalize(r.Context(), true, doc); finalizeErr != nil {
		writeError(w, finalizeErr)
		return
	}
	writeOK(w, map[string]any{"operationId": req.OperationID})
}

func (s *Server) handleOperationHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if !decode(w, r, &req) {
		return
	}
	store := s.storeFor(req.OperationID)
	now := time.Now().UTC()
	_, err := store.Update(r.Context(), func(doc *types.Document) error {
		ledger.TouchHeartbeat(doc, "", now)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleOperationAbort(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if !decode(w, r, &req) {
		return
	}
	store := s.storeFor(req.OperationID)
	_, err := store.Update(r.Context(), func(doc *types.Document) error {
		doc.Aborted = req.Value
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleOperationState(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if !decode(w, r, &req) {
		return
	}
	doc, err := s.storeFor(req.OperationID).Read(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	frames := make([]stateResponseFrame, 0, len(doc.CallFrames))
	for _, f := range doc.CallFrames {
		frames = append(frames, stateResponseFrame{
			ParticipantID: f.ParticipantID,
			CallID:        f.CallID,
			PID:           f.PID,
			State:         string(f.State),
			LastHeartbeat: f.LastHeartbeat,
		})
	}
	writeOK(w, map[string]any{
		"operationId":   doc.OperationID,
		"initiatorId":   doc.InitiatorID,
		"state":         string(doc.State),
		"aborted":       doc.Aborted,
		"lastHeartbeat": doc.LastHeartbeat,
		"frames":        frames,
	})
}

func (s *Server) handleOperationLog(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if !decode(w, r, &req) {
		return
	}
	logger := log.WithFunc("remote.Server.handleOperationLog")
	if req.Level == "warn" {
		logger.Warnf(r.Context(), "[%s] %s", req.OperationID, req.Message)
	} else {
		logger.Infof(r.Context(), "[%s] %s", req.OperationID, req.Message)
	}
	writeOK(w, nil)
}

func (s *Server) handleCallStart(w http.ResponseWriter, r *http.Request) {
	var req callStartRequest
	if !decode(w, r, &req) {
		return
	}
	store := s.storeFor(req.OperationID)
	callID := session.NewCallID()
	now := time.Now().UTC()
	_, err := store.Update(r.Context(), func(doc *types.Document) error {
		return ledger.AddFrame(doc, &types.Frame{
			ParticipantID: s.ledger.ParticipantID(),
			CallID:        callID,
			StartTime:     now,
			LastHeartbeat: now,
			State:         types.FrameActive,
			Description:   req.Description,
			FailOnCrash:   req.FailOnCrash,
		})
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"callId": callID})
}

func (s *Server) handleCallEnd(w http.ResponseWriter, r *http.Request) {
	var req callEndRequest
	if !decode(w, r, &req) {
		return
	}
	store := s.storeFor(req.OperationID)
	_, err := store.Update(r.Context(), func(doc *types.Document) error {
		ledger.RemoveFrame(doc, req.CallID) //nolint:errcheck
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleCallFail(w http.ResponseWriter, r *http.Request) {
	var req callFailRequest
	if !decode(w, r, &req) {
		return
	}
	store := s.storeFor(req.OperationID)
	_, err := store.Update(r.Context(), func(doc *types.Document) error {
		f, ok := ledger.RemoveFrame(doc, req.CallID)
		if ok && f.FailOnCrash {
			doc.Aborted = true
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

// storeFor builds a Store for an operation this handler didn't create, so
// its real startTime isn't known yet; Store.Read/Update re-anchors it from
// doc.StartTime on first load, before any trail snapshot is written.
func (s *Server) storeFor(operationID string) *ledger.Store {
	return ledger.NewStore(s.ledger.BasePath(), operationID, s.ledger.ParticipantID(), time.Time{})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(envelope{OK: false, Error: &wireError{Type: "validation", Message: err.Error()}})
		return false
	}
	return true
}
