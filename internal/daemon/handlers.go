package daemon

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docpipe/internal/api"
	"docpipe/internal/intents"
	"docpipe/internal/services"
	"docpipe/internal/session"
	"docpipe/internal/store"
)

type handlers struct {
	daemon   *Daemon
	sessions *session.Manager
	intents  *intents.Service
	store    *store.Store
}

func (h *handlers) health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, services.Invalid("body", "malformed request body: %v", err))
		return false
	}
	return true
}

func (h *handlers) getDocument(c *gin.Context) {
	ctx := c.Request.Context()
	doc, err := intents.Authorize(ctx, h.store, identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	marker, err := h.store.GetChangeMarker(ctx, doc.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	sessions, err := h.store.ListSessions(ctx, doc.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.FromDocument(doc, marker).WithSessions(sessions))
}

func (h *handlers) listIntents(c *gin.Context) {
	pending, err := h.intents.ListPending(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.IntentsView{DocumentID: c.Param("id"), Pending: *pending})
}

func (h *handlers) addBookmark(c *gin.Context) {
	var in intents.BreakInput
	if !bindJSON(c, &in) {
		return
	}
	created, err := h.intents.AddPageBreak(c.Request.Context(), identity(c), c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *handlers) addGenericBreak(c *gin.Context) {
	var in intents.BreakInput
	if !bindJSON(c, &in) {
		return
	}
	created, err := h.intents.AddGenericBreak(c.Request.Context(), identity(c), c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func bookmarkID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("bookmarkId"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, services.Invalid("bookmarkId", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *handlers) updateBookmark(c *gin.Context) {
	id, ok := bookmarkID(c)
	if !ok {
		return
	}
	var in intents.BreakInput
	if !bindJSON(c, &in) {
		return
	}
	updated, err := h.intents.UpdatePageBreak(c.Request.Context(), identity(c), c.Param("id"), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *handlers) deleteBookmark(c *gin.Context) {
	id, ok := bookmarkID(c)
	if !ok {
		return
	}
	if err := h.intents.RemovePageBreak(c.Request.Context(), identity(c), c.Param("id"), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) addRedaction(c *gin.Context) {
	var in intents.RedactionInput
	if !bindJSON(c, &in) {
		return
	}
	created, err := h.intents.AddRedaction(c.Request.Context(), identity(c), c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *handlers) putRotation(c *gin.Context) {
	var in intents.RotationInput
	if !bindJSON(c, &in) {
		return
	}
	rotation, err := h.intents.AddRotation(c.Request.Context(), identity(c), c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rotation)
}

type pageDeletionRequest struct {
	PageIndex int `json:"pageIndex"`
}

func (h *handlers) addPageDeletion(c *gin.Context) {
	var in pageDeletionRequest
	if !bindJSON(c, &in) {
		return
	}
	created, err := h.intents.AddPageDeletion(c.Request.Context(), identity(c), c.Param("id"), in.PageIndex)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *handlers) createSession(c *gin.Context) {
	sess, err := h.sessions.Start(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, api.FromSession(sess))
}

func (h *handlers) startProcessing(c *gin.Context) {
	sess, err := h.sessions.Dispatch(c.Request.Context(), identity(c), c.Param("id"), c.Param("sessionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, api.FromSession(sess))
}

func (h *handlers) sessionStatus(c *gin.Context) {
	sess, err := h.sessions.Status(c.Request.Context(), identity(c), c.Param("sessionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.FromSession(sess))
}

func (h *handlers) reportOutcome(c *gin.Context) {
	var req api.OutcomeRequest
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.sessions.ReportOutcome(c.Request.Context(), c.Param("sessionId"), req.Outcome)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.FromSession(sess))
}

func (h *handlers) linkResults(c *gin.Context) {
	var req api.LinkResultsRequest
	if !bindJSON(c, &req) {
		return
	}
	audits, err := h.sessions.LinkResults(c.Request.Context(), c.Param("id"), req.SessionID, req.Children)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"links": audits})
}

func (h *handlers) cancelSession(c *gin.Context) {
	sess, err := h.sessions.Cancel(c.Request.Context(), identity(c), c.Param("sessionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.FromSession(sess))
}
