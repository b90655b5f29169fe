package llmtools

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler serves the REST facade over the tool registry.
//
//	GET  /api/llm_tools                  list APIs and their tools
//	GET  /api/llm_tools/:api/:tool       describe one tool
//	POST /api/llm_tools/:api/:tool       invoke one tool
type Handler struct {
	registry *Registry
	log      *logrus.Logger
}

func NewHandler(registry *Registry, log *logrus.Logger) *Handler {
	return &Handler{registry: registry, log: log}
}

// RegisterRoutes mounts the facade on a router group.
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/llm_tools", h.listAPIs)
	group.GET("/llm_tools/:api/:tool", h.describeTool)
	group.POST("/llm_tools/:api/:tool", h.callTool)
}

type apiSummary struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Tools       []*Tool `json:"tools"`
}

func (h *Handler) listAPIs(c *gin.Context) {
	apis := h.registry.APIs()
	out := make([]apiSummary, 0, len(apis))
	for _, api := range apis {
		out = append(out, apiSummary{
			Name:        api.Name,
			Description: api.Description,
			Tools:       api.Tools(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"apis": out})
}

func (h *Handler) describeTool(c *gin.Context) {
	api, ok := h.registry.API(c.Param("api"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "api not found: " + c.Param("api")})
		return
	}
	tool, ok := api.Tool(c.Param("tool"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "tool not found: " + c.Param("tool")})
		return
	}
	c.JSON(http.StatusOK, tool)
}

func (h *Handler) callTool(c *gin.Context) {
	var args map[string]interface{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&args); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
			return
		}
	}

	result, err := h.registry.Call(c.Request.Context(), c.Param("api"), c.Param("tool"), args)
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.log.WithError(err).WithFields(logrus.Fields{
			"api":  c.Param("api"),
			"tool": c.Param("tool"),
		}).Error("tool call failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}
