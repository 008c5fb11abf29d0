package content

import (
	"github.com/gin-gonic/gin"

	"learnhub/internal/apperr"
)

type Handler struct {
	Resolver *Resolver
	Gateway  *Gateway
}

func NewHandler(resolver *Resolver, gateway *Gateway) *Handler {
	return &Handler{Resolver: resolver, Gateway: gateway}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/:ref/files/*path", h.file)  // GET /packages/:ref/files/*path
	rg.HEAD("/:ref/files/*path", h.file) // HEAD /packages/:ref/files/*path
	rg.GET("/:ref/cover", h.cover)       // GET /packages/:ref/cover
}

func (h *Handler) file(c *gin.Context) {
	t, err := h.Resolver.Resolve(c.Request.Context(), c.Param("ref"), c.Param("path"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if err := h.Gateway.Serve(c.Writer, c.Request, t); err != nil {
		apperr.Respond(c, err)
	}
}

func (h *Handler) cover(c *gin.Context) {
	t, err := h.Resolver.ResolveCover(c.Request.Context(), c.Param("ref"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if err := h.Gateway.Serve(c.Writer, c.Request, t); err != nil {
		apperr.Respond(c, err)
	}
}
