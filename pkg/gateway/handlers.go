// Copyright 2024-2026 Aiku AI

package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
	"github.com/aiku/mattermost-gamebridge/pkg/reconcile"
)

// Request bodies keep the field names the game server plugin sends.

type linkRequest struct {
	GameHandle string `json:"mc_username" binding:"required"`
	DiscordID  string `json:"discord_id" binding:"required_without=AccountID"`
	AccountID  string `json:"account_id"`
}

type joinRequest struct {
	GameHandle string `json:"mc_username" binding:"required"`
	DiscordID  string `json:"discord_id"`
	AccountID  string `json:"account_id"`
}

type leaveRequest struct {
	GameHandle string `json:"mc_username" binding:"required"`
}

type chatRequest struct {
	GameHandle string `json:"username" binding:"required"`
	Message    string `json:"message"`
}

type statusRequest struct {
	Status  string `json:"status" binding:"required"`
	Message string `json:"message"`
}

// accountID prefers the platform-neutral field name.
func accountID(accountID, discordID string) string {
	if accountID != "" {
		return accountID
	}
	return discordID
}

type stepResponse struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type presenceResponse struct {
	GameHandle   string         `json:"mc_username"`
	Linked       bool           `json:"linked"`
	Enriched     bool           `json:"enriched"`
	Announcement string         `json:"announcement"`
	Steps        []stepResponse `json:"steps"`
	Error        string         `json:"error,omitempty"`
}

func toStepResponses(steps []reconcile.StepResult) []stepResponse {
	out := make([]stepResponse, 0, len(steps))
	for _, st := range steps {
		r := stepResponse{Name: st.Name, Status: "ok"}
		switch {
		case st.Skipped():
			r.Status = "skipped"
		case st.Err != nil:
			r.Status = "failed"
			r.Error = st.Err.Error()
		}
		out = append(out, r)
	}
	return out
}

// statusFor maps an error chain onto an HTTP status.
func statusFor(err error) int {
	switch bridge.Classify(err) {
	case bridge.KindNone:
		return http.StatusOK
	case bridge.KindMalformedInput:
		return http.StatusBadRequest
	case bridge.KindNotFound:
		return http.StatusNotFound
	case bridge.KindPermissionDenied:
		return http.StatusForbidden
	case bridge.KindConflict:
		return http.StatusConflict
	case bridge.KindUnreachable:
		return http.StatusBadGateway
	case bridge.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) bind(c *gin.Context, kind bridge.EventType, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		err = fmt.Errorf("%w: %v", bridge.ErrMalformedInput, err)
		s.metrics.ObserveEvent(kind, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func (s *Server) fail(c *gin.Context, err error, extra gin.H) {
	status := statusFor(err)
	body := gin.H{"error": err.Error(), "kind": bridge.Classify(err)}
	for k, v := range extra {
		body[k] = v
	}
	log := zerolog.Ctx(c.Request.Context())
	if status >= http.StatusInternalServerError {
		log.Warn().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	} else {
		log.Debug().Err(err).Str("path", c.FullPath()).Msg("Request rejected")
	}
	c.JSON(status, body)
}

func (s *Server) handleLink(c *gin.Context) {
	var req linkRequest
	if !s.bind(c, bridge.EventLink, &req) {
		return
	}
	rec, err := s.engine.Link(c.Request.Context(), req.GameHandle, accountID(req.AccountID, req.DiscordID))
	if err != nil {
		extra := gin.H{}
		var linkErr *reconcile.LinkError
		if errors.As(err, &linkErr) {
			extra["reason"] = linkErr.Reason
		}
		s.fail(c, err, extra)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "link": rec})
}

func (s *Server) handleJoin(c *gin.Context) {
	var req joinRequest
	if !s.bind(c, bridge.EventJoin, &req) {
		return
	}
	res, err := s.engine.Join(c.Request.Context(), bridge.JoinEvent{
		GameHandle:        req.GameHandle,
		PlatformAccountID: accountID(req.AccountID, req.DiscordID),
	})
	s.writePresence(c, res, err)
}

func (s *Server) handleLeave(c *gin.Context) {
	var req leaveRequest
	if !s.bind(c, bridge.EventLeave, &req) {
		return
	}
	res, err := s.engine.Leave(c.Request.Context(), bridge.LeaveEvent{GameHandle: req.GameHandle})
	s.writePresence(c, res, err)
}

// writePresence answers 200 for degraded outcomes; only a rejected event or
// a failed announcement is an error status.
func (s *Server) writePresence(c *gin.Context, res reconcile.PresenceResult, err error) {
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	body := presenceResponse{
		GameHandle:   res.GameHandle,
		Linked:       res.Linked,
		Enriched:     res.Enriched,
		Announcement: res.Announcement,
		Steps:        toStepResponses(res.Steps),
	}
	status := http.StatusOK
	if announceErr := res.AnnounceErr(); announceErr != nil {
		status = statusFor(announceErr)
		body.Error = announceErr.Error()
	}
	c.JSON(status, body)
}

func (s *Server) handleGameChat(c *gin.Context) {
	var req chatRequest
	if !s.bind(c, bridge.EventGameChat, &req) {
		return
	}
	if err := s.relay.RelayGameChat(c.Request.Context(), req.GameHandle, req.Message); err != nil {
		s.fail(c, err, nil)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) handleServerStatus(c *gin.Context) {
	var req statusRequest
	if !s.bind(c, bridge.EventServerLifecycle, &req) {
		return
	}
	res, err := s.engine.ServerLifecycle(c.Request.Context(), bridge.ServerLifecycleEvent{
		Status:  bridge.ServerStatus(req.Status),
		Message: req.Message,
	})
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	body := gin.H{"status": res.Status, "announcement": res.Announcement}
	if res.Cleanup != nil {
		body["cleanup"] = res.Cleanup
	}
	if res.AnnounceErr != nil {
		s.fail(c, res.AnnounceErr, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleListLinks(c *gin.Context) {
	records := s.links.Records()
	c.JSON(http.StatusOK, gin.H{"links": records, "count": len(records)})
}

func (s *Server) handleUnlink(c *gin.Context) {
	rec, steps, err := s.engine.Unlink(c.Request.Context(), c.Param("handle"))
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"link": rec, "steps": toStepResponses(steps)})
}

func (s *Server) handlePlaying(c *gin.Context) {
	playing := s.engine.Playing()
	c.JSON(http.StatusOK, gin.H{"playing": playing, "count": len(playing)})
}

func (s *Server) handleCleanup(c *gin.Context) {
	report := s.engine.BulkCleanup(c.Request.Context())
	if report.ListErr != nil {
		s.fail(c, report.ListErr, gin.H{"cleanup": report})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleanup": report})
}
