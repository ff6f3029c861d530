package handler

import (
	"net/http"

	"leadflow_backend/internal/routing/service"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const msgInvalidRequest = "invalid request"

type Handler struct {
	svc *service.Service
	val *validator.Validator
}

func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes mounts the routing routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/queues", h.ListQueues)
	rg.GET("/queues/:id", h.GetQueue)
	rg.POST("/queues/:id/assign", h.AssignManual)
}

// RegisterLeadRoutes mounts routing lookups nested under leads.
func (h *Handler) RegisterLeadRoutes(rg *gin.RouterGroup) {
	rg.GET("/:id/assignments", h.ListAssignments)
}

func (h *Handler) ListQueues(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	queues, err := h.svc.ListQueues(c.Request.Context(), identity.OrganizationID())
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, gin.H{"items": queues})
}

func (h *Handler) GetQueue(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	queue, err := h.svc.GetQueue(c.Request.Context(), id, identity.OrganizationID())
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, queue)
}

type assignManualRequest struct {
	LeadID uuid.UUID `json:"leadId" validate:"required"`
}

// AssignManual pushes one lead through the queue's rotation immediately,
// bypassing rule matching.
func (h *Handler) AssignManual(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	queueID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req assignManualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	assignment, err := h.svc.AssignManual(c.Request.Context(), queueID, req.LeadID, identity.OrganizationID())
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, assignment)
}

func (h *Handler) ListAssignments(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	history, err := h.svc.ListAssignments(c.Request.Context(), leadID, identity.OrganizationID())
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, gin.H{"items": history})
}
