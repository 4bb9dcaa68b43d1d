package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wadahiro/flowlens/internal/flow"
	"github.com/wadahiro/flowlens/internal/oauth"
	"github.com/wadahiro/flowlens/internal/protocol"
)

// FlowSummary is one entry of the flow list.
type FlowSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ServerURL    string    `json:"serverUrl,omitempty"`
	Steps        int       `json:"steps"`
	Active       bool      `json:"active"`
	LastModified time.Time `json:"lastModified"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type selectRequest struct {
	FlowID string `json:"flowId"`
}

type forkRequest struct {
	StepIndex int    `json:"stepIndex"`
	Name      string `json:"name"`
}

type startRequest struct {
	ServerURL string `json:"serverUrl"`
}

type stepRequest struct {
	Type string `json:"type"`
}

type resetRequest struct {
	Type   string `json:"type,omitempty"`
	StepID string `json:"stepId,omitempty"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	state := s.orch.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":         "flowlens",
		"redirectUri":  s.orch.RedirectURI(),
		"activeFlowId": state.ActiveFlowID,
		"flows":        len(state.Flows),
	})
}

// handleCallback is the redirect target. It captures the authorization response, resumes
// the flow it belongs to and sends the browser to that flow.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	callbackURL := s.orch.RedirectURI()
	if r.URL.RawQuery != "" {
		callbackURL += "?" + r.URL.RawQuery
	}
	if err := s.orch.CaptureCallback(callbackURL); err != nil {
		s.logger.Error("failed to capture callback", "error", err)
		writeError(w, err)
		return
	}
	flowID, err := s.orch.ResumeCallback()
	if err != nil {
		s.logger.Warn("callback resumed with error", "flow", flowID, "error", err)
	}
	target := "/"
	if flowID != "" {
		target = "/api/flows/" + flowID
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.State())
}

func (s *Server) handleListFlows(w http.ResponseWriter, _ *http.Request) {
	state := s.orch.State()
	flows := flow.SortedByLastModified(state)
	out := make([]FlowSummary, 0, len(flows))
	for _, f := range flows {
		out = append(out, FlowSummary{
			ID:           f.ID,
			Name:         f.Name,
			ServerURL:    f.ServerURL,
			Steps:        len(f.Steps),
			Active:       f.ID == state.ActiveFlowID,
			LastModified: f.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOrDefault(r, func() (nameRequest, error) { return nameRequest{}, nil })
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.orch.CreateFlow(req.Name))
}

func (s *Server) handleSelectFlow(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.orch.SelectFlow(req.FlowID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	s.writeFlow(w, chi.URLParam(r, "flowID"))
}

func (s *Server) handleRenameFlow(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	var req nameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.orch.RenameFlow(flowID, req.Name); err != nil {
		writeError(w, err)
		return
	}
	s.writeFlow(w, flowID)
}

func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteFlow(chi.URLParam(r, "flowID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleForkFlow(w http.ResponseWriter, r *http.Request) {
	var req forkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	forked, err := s.orch.ForkFlow(chi.URLParam(r, "flowID"), req.StepIndex, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, forked)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var err error
	if req.StepID != "" {
		err = s.orch.ResetStep(flowID, req.StepID)
	} else if t, perr := flow.ParseStepType(req.Type); perr != nil {
		err = protocol.Validationf("%s", perr.Error())
	} else {
		err = s.orch.Reset(flowID, t)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeFlow(w, flowID)
}

func (s *Server) handleAddStep(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	var req stepRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	step, err := s.orch.AddInspectionStep(flowID, flow.StepType(req.Type))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, step)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.afterAction(w, flowID, s.orch.SubmitStart(flowID, req.ServerURL))
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	s.afterAction(w, flowID, s.orch.Discover(r.Context(), flowID))
}

func (s *Server) handleRegistrationDefaults(w http.ResponseWriter, r *http.Request) {
	req, err := s.orch.RegistrationDefaults(chi.URLParam(r, "flowID"))
	writeResult(w, req, err)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	req, err := decodeOrDefault(r, func() (oauth.RegistrationRequest, error) {
		return s.orch.RegistrationDefaults(flowID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.afterAction(w, flowID, s.orch.Register(r.Context(), flowID, req))
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	var creds oauth.ClientCredentials
	if err := decodeJSON(r, &creds); err != nil {
		writeError(w, err)
		return
	}
	s.afterAction(w, flowID, s.orch.SetManualCredentials(flowID, creds))
}

func (s *Server) handleAuthorizationDefaults(w http.ResponseWriter, r *http.Request) {
	p, err := s.orch.AuthorizationDefaults(chi.URLParam(r, "flowID"))
	writeResult(w, p, err)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	p, err := decodeOrDefault(r, func() (oauth.AuthorizationParams, error) {
		return s.orch.AuthorizationDefaults(flowID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	authURL, err := s.orch.Authorize(flowID, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authorizationUrl": authURL})
}

func (s *Server) handleTokenDefaults(w http.ResponseWriter, r *http.Request) {
	req, err := s.orch.TokenDefaults(chi.URLParam(r, "flowID"))
	writeResult(w, req, err)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	req, err := decodeOrDefault(r, func() (oauth.TokenRequest, error) {
		return s.orch.TokenDefaults(flowID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.afterAction(w, flowID, s.orch.ExchangeToken(r.Context(), flowID, req))
}

func (s *Server) handleRefreshDefaults(w http.ResponseWriter, r *http.Request) {
	req, err := s.orch.RefreshDefaults(chi.URLParam(r, "flowID"), r.URL.Query().Get("step"))
	writeResult(w, req, err)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	stepID := r.URL.Query().Get("step")
	req, err := decodeOrDefault(r, func() (oauth.RefreshRequest, error) {
		return s.orch.RefreshDefaults(flowID, stepID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.afterAction(w, flowID, s.orch.Refresh(r.Context(), flowID, stepID, req))
}

func (s *Server) handleInspectDefaults(t flow.StepType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := s.orch.InspectDefaults(chi.URLParam(r, "flowID"), r.URL.Query().Get("step"), t)
		writeResult(w, req, err)
	}
}

func (s *Server) handleInspect(t flow.StepType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flowID := chi.URLParam(r, "flowID")
		stepID := r.URL.Query().Get("step")
		req, err := decodeOrDefault(r, func() (oauth.InspectRequest, error) {
			return s.orch.InspectDefaults(flowID, stepID, t)
		})
		if err != nil {
			writeError(w, err)
			return
		}
		if t == flow.StepRevoke {
			err = s.orch.Revoke(r.Context(), flowID, stepID, req)
		} else {
			err = s.orch.Introspect(r.Context(), flowID, stepID, req)
		}
		s.afterAction(w, flowID, err)
	}
}

// afterAction reports a step action: the error when it failed, the updated flow otherwise.
func (s *Server) afterAction(w http.ResponseWriter, flowID string, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeFlow(w, flowID)
}

func (s *Server) writeFlow(w http.ResponseWriter, flowID string) {
	f, err := s.orch.Flow(flowID)
	writeResult(w, f, err)
}

func writeResult(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
