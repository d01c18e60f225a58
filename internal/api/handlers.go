package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"chatbroker/pkg/interfaces"
	"chatbroker/pkg/types"
	"chatbroker/pkg/wire"
)

// maxRegisterBody caps POST /api/register; display names are short.
const maxRegisterBody = 4 << 10

type registerRequest struct {
	Username string `json:"username"`
}

type usersResponse struct {
	Users []types.RosterEntry `json:"users"`
}

type messagesResponse struct {
	Messages []types.Message `json:"messages"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Archive   string    `json:"archive,omitempty"`
}

// POST /api/register
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	body := http.MaxBytesReader(w, r.Body, maxRegisterBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeRegister(w, r, http.StatusBadRequest, types.RegisterResponse{Message: "Invalid request body"})
		return
	}

	user, err := s.broker.Register(req.Username)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, types.ErrNameConflict) {
			status = http.StatusConflict
		}
		s.writeRegister(w, r, status, types.RegisterResponse{Message: types.Describe(err)})
		return
	}

	s.writeRegister(w, r, http.StatusOK, types.RegisterResponse{
		Success: true,
		Message: "Registered as " + user.DisplayName,
		UserID:  user.ID,
	})
}

func (s *Server) writeRegister(w http.ResponseWriter, r *http.Request, status int, resp types.RegisterResponse) {
	if wantsXML(r) {
		writeXML(w, status, wire.EncodeRegisterResponse(resp))
		return
	}
	writeJSON(w, status, resp)
}

// GET /api/users
func (s *Server) users(w http.ResponseWriter, r *http.Request) {
	roster := s.broker.Roster()
	if wantsXML(r) {
		writeXML(w, http.StatusOK, wire.EncodeUserList(roster))
		return
	}
	writeJSON(w, http.StatusOK, usersResponse{Users: roster})
}

// GET /api/history?limit=
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(r, s.cfg.DefaultLimit, s.cfg.MaxLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	writeJSON(w, http.StatusOK, messagesResponse{Messages: nonNil(s.broker.PublicHistory(limit))})
}

// GET /api/stats
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.Stats())
}

// GET /api/archive?limit=
func (s *Server) archived(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, interfaces.ErrArchiveDisabled.Error())
		return
	}
	limit, ok := limitParam(r, s.cfg.DefaultLimit, s.cfg.MaxLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	// The shared query outlives any single caller; each caller waits on its own context.
	flight := s.archiveReads.DoChan(strconv.Itoa(limit), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.QueryTimeout)
		defer cancel()
		return s.archive.Recent(ctx, limit)
	})

	var res singleflight.Result
	select {
	case res = <-flight:
	case <-r.Context().Done():
		s.logger.DebugContext(r.Context(), "client gone before archive query finished", "err", r.Context().Err())
		return
	}
	if res.Err != nil {
		s.logger.ErrorContext(r.Context(), "archive query failed", "err", res.Err)
		writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	msgs, _ := res.Val.([]types.Message)
	writeJSON(w, http.StatusOK, messagesResponse{Messages: nonNil(msgs)})
}

// GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Timestamp: types.Now()}
	status := http.StatusOK

	if s.archive != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp.Archive = "ok"
		if err := s.archive.HealthCheck(ctx); err != nil {
			s.logger.WarnContext(ctx, "archive health check failed", "err", err)
			resp.Status = "degraded"
			resp.Archive = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func nonNil(msgs []types.Message) []types.Message {
	if msgs == nil {
		return []types.Message{}
	}
	return msgs
}
