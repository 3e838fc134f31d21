package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gitlab.com/safex/safex.telemetry/src/production/SFX.ApiService/middleware"
	logger "gitlab.com/safex/safex.telemetry/src/production/SFX.Logger"
	sfxmodels "gitlab.com/safex/safex.telemetry/src/production/SFX.Models"
	query "gitlab.com/safex/safex.telemetry/src/production/SFX.Query"
)

// ReadingController serves the latest-reading query
type ReadingController struct {
	query  *query.Service
	logger *logger.Logger
}

// NewReadingController creates a new reading controller
func NewReadingController(query *query.Service, logger *logger.Logger) *ReadingController {
	return &ReadingController{
		query:  query,
		logger: logger,
	}
}

// RegisterRoutes registers the reading routes with Gin
func (c *ReadingController) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/latest-data", c.GetLatestData)
	}
}

// GetLatestData answers 200 with the reading, 404 when nothing was stored
// yet and 503 when the store cannot be read.
func (c *ReadingController) GetLatestData(ctx *gin.Context) {
	res := c.query.Latest(ctx.Request.Context())

	switch res.Status {
	case sfxmodels.QueryFound:
		ctx.JSON(http.StatusOK, res.Reading)
	case sfxmodels.QueryNotFound:
		ctx.JSON(http.StatusNotFound, sfxmodels.ErrorResponse{Status: res.Status, Error: res.Error})
	default:
		c.logger.Logger.Warn().Str("request_id", middleware.GetRequestID(ctx)).Msg("Latest reading unavailable")
		ctx.JSON(http.StatusServiceUnavailable, sfxmodels.ErrorResponse{Status: sfxmodels.QueryUnavailable, Error: res.Error})
	}
}
