package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"power-dialer/internal/dialer"
	"power-dialer/internal/session"
)

type startSessionRequest struct {
	// RepID defaults to the caller; supervisors may start a session for a rep.
	RepID          string `json:"rep_id" validate:"omitempty,max=64"`
	DeviceIdentity string `json:"device_identity" validate:"required,max=121"`
	AutoDial       bool   `json:"auto_dial"`
	AutoText       bool   `json:"auto_text"`
}

type endSessionRequest struct {
	// Stats carries counters only the client knows (texts sent, mutes).
	Stats *session.Stats `json:"stats,omitempty"`
}

type sessionResponse struct {
	Session session.Session     `json:"session"`
	Dialer  *dialer.SessionView `json:"dialer,omitempty"`
}

func (h *Handlers) StartSession(c *gin.Context) {
	var req startSessionRequest
	if !h.bind(c, &req) {
		return
	}
	caller, _ := identity(c)
	rep := strings.TrimSpace(req.RepID)
	if rep == "" {
		rep = caller
	}
	if !authorize(c, rep) {
		return
	}

	s, err := h.Sessions.Start(c.Request.Context(), session.StartRequest{
		RepID:          rep,
		DeviceIdentity: req.DeviceIdentity,
		AutoDial:       req.AutoDial,
		AutoText:       req.AutoText,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessionResponse{Session: s})
}

func (h *Handlers) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	res := sessionResponse{Session: s}
	if s.IsActive && h.Dialer != nil {
		view, err := h.Dialer.Snapshot(c.Request.Context(), s.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		res.Dialer = &view
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) Heartbeat(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s, err := h.Sessions.Heartbeat(c.Request.Context(), s.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse{Session: s})
}

func (h *Handlers) UpdateSettings(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req session.Settings
	if !h.bind(c, &req) {
		return
	}
	s, err := h.Sessions.UpdateSettings(c.Request.Context(), s.ID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse{Session: s})
}

func (h *Handlers) EndSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req endSessionRequest
	if c.Request.ContentLength != 0 && !h.bind(c, &req) {
		return
	}
	s, err := h.Sessions.End(c.Request.Context(), s.ID, req.Stats)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse{Session: s})
}

func (h *Handlers) DeviceToken(c *gin.Context) {
	if h.Tokens == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "device tokens not configured"})
		return
	}
	caller, _ := identity(c)
	ident := strings.TrimSpace(c.Query("identity"))
	if ident == "" {
		ident = "rep-" + caller
	}
	if err := h.validate.Var(ident, "max=121,printascii"); err != nil {
		writeError(c, err)
		return
	}
	tok, err := h.Tokens.Issue(ident, h.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}
