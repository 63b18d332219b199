package api

import (
	"errors"
	"net/http"

	"github.com/veilstats/veil/config"

	"github.com/veilstats/veil/api/middleware"

	"github.com/gin-gonic/gin"
	"github.com/veilstats/veil"
	"github.com/veilstats/veil/internal/apierror"
)

type Api struct {
	veil   *veil.Veil
	router *gin.Engine
}

// Router wires the HTTP surface. Management routes live behind the
// secret-key middleware when secure mode is on; the oracle callback is
// always open, its gate is the proof inside the payload.
func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/oracle/callback", a.OracleCallback)

	conf, err := config.Fetch()
	managed := router.Group("/")
	if err == nil && conf.Server.Secure {
		managed.Use(middleware.SecretKeyAuthMiddleware())
	}

	managed.POST("/exhibitions", a.CreateExhibition)
	managed.GET("/exhibitions/:id", a.GetExhibition)
	managed.GET("/exhibitions", a.GetAllExhibitions)
	managed.POST("/exhibitions/:id/contributions", a.RecordContribution)
	managed.POST("/exhibitions/:id/reveal", a.RequestReveal)
	managed.POST("/exhibitions/:id/refund", a.ClaimRefund)
	managed.GET("/exhibitions/:id/statistic", a.GetRevealedStatistic)

	managed.GET("/reveal-requests/:id", a.GetRevealRequest)
	managed.POST("/reveal-requests/:id/force-timeout", a.ForceTimeout)

	// Noise epoch refresh always requires the secret key, secure mode
	// or not.
	admin := router.Group("/", middleware.SecretKeyAuthMiddleware())
	admin.POST("/admin/refresh-noise-epoch", a.RefreshNoiseEpoch)

	return a.router
}

func NewAPI(b *veil.Veil) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{veil: b, router: r}
}

// apiError writes the HTTP response for a service-layer error, mapping
// the protocol's sentinel errors to their statuses.
func apiError(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{"error": err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, veil.ErrExhibitionNotFound),
		errors.Is(err, veil.ErrNoRequest),
		errors.Is(err, veil.ErrStatisticNotFound):
		return http.StatusNotFound
	case errors.Is(err, veil.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, veil.ErrRequestAlreadyPending),
		errors.Is(err, veil.ErrAlreadyFinalized),
		errors.Is(err, veil.ErrAlreadyClaimed),
		errors.Is(err, veil.ErrNotTimedOut):
		return http.StatusConflict
	case errors.Is(err, veil.ErrNoParticipants),
		errors.Is(err, veil.ErrNotEligible):
		return http.StatusBadRequest
	case errors.Is(err, veil.ErrWindowExpired):
		return http.StatusGone
	default:
		return apierror.MapErrorToHTTPStatus(err)
	}
}
