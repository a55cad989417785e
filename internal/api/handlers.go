package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmirror/internal/cache"
	"github.com/brandon/mailmirror/internal/email"
	"github.com/brandon/mailmirror/pkg/types"
)

// SyncService is the sync engine as seen by the HTTP layer
type SyncService interface {
	StartSync(ctx context.Context, ownerEmail string, perFolderLimit int) (string, error)
	ForceResync(ctx context.Context, ownerEmail string, perFolderLimit int) (*types.SyncReport, error)
	Status() types.SyncStatus
}

// ViewService serves the bounded mailbox views
type ViewService interface {
	ListInbox(ctx context.Context, owner types.Account, page, limit int, search string) (*types.MessagePage, error)
	ListSent(ctx context.Context, owner types.Account, page, limit int) (*types.MessagePage, error)
	GetMessage(ctx context.Context, owner types.Account, id int64) (*types.MirroredMessage, error)
}

// AccountStore resolves callers to local accounts
type AccountStore interface {
	GetAccountByEmail(ctx context.Context, email string) (*types.Account, error)
}

// Handler holds the mailbox HTTP handlers
type Handler struct {
	sync     SyncService
	views    ViewService
	accounts AccountStore
	logger   *logrus.Logger
}

type syncQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1"`
}

type listQuery struct {
	Page   int    `form:"page"`
	Limit  int    `form:"limit"`
	Search string `form:"search"`
}

type forceSyncRequest struct {
	Email string `json:"email" binding:"required,email"`
	Limit int    `json:"limit" binding:"omitempty,min=1"`
}

// StartSync handles POST /sync
func (h *Handler) StartSync(c *gin.Context) {
	var q syncQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	claims := currentClaims(c)
	runID, err := h.sync.StartSync(c.Request.Context(), claims.Email, q.Limit)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status": "accepted",
		"run_id": runID,
	})
}

// SyncStatus handles GET /sync/status
func (h *Handler) SyncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.sync.Status())
}

// ForceSync handles POST /sync/force
func (h *Handler) ForceSync(c *gin.Context) {
	var req forceSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.WithFields(logrus.Fields{
		"requested_by": currentClaims(c).Email,
		"target":       req.Email,
	}).Info("Forced resync requested")

	report, err := h.sync.ForceResync(c.Request.Context(), req.Email, req.Limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListInbox handles GET /inbox
func (h *Handler) ListInbox(c *gin.Context) {
	owner, q, ok := h.listRequest(c)
	if !ok {
		return
	}

	page, err := h.views.ListInbox(c.Request.Context(), owner, q.Page, q.Limit, q.Search)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ListSent handles GET /sent
func (h *Handler) ListSent(c *gin.Context) {
	owner, q, ok := h.listRequest(c)
	if !ok {
		return
	}

	page, err := h.views.ListSent(c.Request.Context(), owner, q.Page, q.Limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetMessage handles GET /messages/:id
func (h *Handler) GetMessage(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		abortWithError(c, http.StatusBadRequest, "invalid message id")
		return
	}

	owner, ok := h.currentAccount(c)
	if !ok {
		return
	}

	msg, err := h.views.GetMessage(c.Request.Context(), owner, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) listRequest(c *gin.Context) (types.Account, listQuery, bool) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return types.Account{}, q, false
	}

	owner, ok := h.currentAccount(c)
	return owner, q, ok
}

// currentAccount resolves the caller's local account, writing the error response on failure
func (h *Handler) currentAccount(c *gin.Context) (types.Account, bool) {
	acc, err := h.accounts.GetAccountByEmail(c.Request.Context(), currentClaims(c).Email)
	if err != nil {
		h.fail(c, err)
		return types.Account{}, false
	}
	return *acc, true
}

// fail maps engine and store errors onto HTTP statuses
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, email.ErrSyncInProgress):
		status = http.StatusConflict
	case errors.Is(err, email.ErrAccountNotFound), errors.Is(err, cache.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, email.ErrConnect):
		status = http.StatusBadGateway
	}

	entry := h.logger.WithError(err).WithFields(logrus.Fields{
		"path":   c.FullPath(),
		"status": status,
	})
	if status == http.StatusInternalServerError {
		entry.Error("Request failed")
		abortWithError(c, status, "internal error")
		return
	}
	entry.Warn("Request rejected")
	abortWithError(c, status, err.Error())
}

func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
