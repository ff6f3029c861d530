package handler

import (
	"net/http"
	"strconv"

	"leadflow_backend/internal/automation/service"
	"leadflow_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	svc *service.Service
}

func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the automation read routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/executions", h.ListExecutions)
	rg.GET("/executions/:id", h.GetExecution)
}

// ListExecutions returns executions, newest first. The status query filters
// on the lifecycle state; operators mostly use ?status=failed.
func (h *Handler) ListExecutions(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	execs, err := h.svc.ListExecutions(c.Request.Context(), identity.OrganizationID(), c.Query("status"), page, pageSize)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, gin.H{"items": execs})
}

func (h *Handler) GetExecution(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}

	exec, err := h.svc.GetExecution(c.Request.Context(), id, identity.OrganizationID())
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, exec)
}
