package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/millbright/factoryops/backend/internal/alerts"
	"github.com/millbright/factoryops/backend/internal/auth"
	"github.com/millbright/factoryops/backend/internal/dispatch"
	"github.com/millbright/factoryops/backend/internal/floor"
	"github.com/millbright/factoryops/backend/internal/notify"
	"github.com/millbright/factoryops/backend/internal/relay"
	"github.com/millbright/factoryops/backend/internal/reports"
)

const (
	subjectKindContextKey = "factoryops_subject_kind"
	subjectIDContextKey   = "factoryops_subject_id"

	defaultCacheTTL         = 5 * time.Second
	defaultOTPRatePerMinute = 5
	defaultOTPBurst         = 5
)

var (
	errMissingFloorService    = errors.New("floor service dependency required")
	errMissingDispatchService = errors.New("dispatch service dependency required")
	errMissingAlertsService   = errors.New("alerts service dependency required")
	errMissingReportsService  = errors.New("reports service dependency required")
	errMissingVerifier        = errors.New("verifier dependency required")
	errMissingTokenIssuer     = errors.New("token issuer dependency required")
	errMissingBroadcaster     = errors.New("broadcaster dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// SessionTokenIssuer issues and validates session JWTs.
type SessionTokenIssuer interface {
	IssueSessionToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies carries everything the HTTP layer needs. Push is optional;
// when it is nil the push endpoints are not registered.
type Dependencies struct {
	FloorService     *floor.Service
	DispatchService  *dispatch.Service
	AlertsService    *alerts.Service
	ReportsService   *reports.Service
	Verifier         *auth.Verifier
	Tokens           SessionTokenIssuer
	Broadcaster      *relay.Broadcaster
	Push             *notify.Pool
	VAPIDPublicKey   string
	CacheTTL         time.Duration
	OTPRatePerMinute int
	OTPBurst         int
	Logger           *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.FloorService == nil {
		return nil, errMissingFloorService
	}
	if deps.DispatchService == nil {
		return nil, errMissingDispatchService
	}
	if deps.AlertsService == nil {
		return nil, errMissingAlertsService
	}
	if deps.ReportsService == nil {
		return nil, errMissingReportsService
	}
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Broadcaster == nil {
		return nil, errMissingBroadcaster
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cacheTTL := deps.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	otpRate := deps.OTPRatePerMinute
	if otpRate <= 0 {
		otpRate = defaultOTPRatePerMinute
	}
	otpBurst := deps.OTPBurst
	if otpBurst <= 0 {
		otpBurst = defaultOTPBurst
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		floorService:    deps.FloorService,
		dispatchService: deps.DispatchService,
		alertsService:   deps.AlertsService,
		reportsService:  deps.ReportsService,
		verifier:        deps.Verifier,
		tokens:          deps.Tokens,
		broadcaster:     deps.Broadcaster,
		push:            deps.Push,
		vapidPublicKey:  deps.VAPIDPublicKey,
		validate:        validator.New(),
		logger:          logger,
	}

	router.GET("/jobs", handler.handleListJobs)
	router.POST("/jobs", handler.handleCreateJob)
	router.GET("/jobs/stream", handler.streamTopic(relay.TopicJobs))
	router.GET("/products/stream", handler.streamTopic(relay.TopicProducts))
	router.GET("/product-counts/stream", handler.streamTopic(relay.TopicProductCounts))
	router.GET("/alerts/stream", handler.streamTopic(relay.TopicAlerts))
	router.GET("/alerts", handler.handleListAlerts)

	verifyLimit := rate.Limit(float64(otpRate) / 60.0)
	verify := router.Group("/")
	verify.Use(rateLimitByIP(verifyLimit, otpBurst))
	verify.POST("/verify-otp", handler.handleVerifyUserOTP)
	verify.POST("/verify-operator-otp", handler.handleVerifyOperatorOTP)

	managers := router.Group("/")
	managers.Use(handler.authorizeRequest, requireSubjectKind(auth.SubjectKindUser))
	managers.POST("/alerts", handler.handleCreateAlert)
	managers.GET("/reports/download", handler.handleReportDownload)
	managers.GET("/reports/history", handler.handleReportHistory)

	adminStore := cache.New(cacheTTL, 2*cacheTTL)
	admin := router.Group("/admin")
	admin.Use(handler.authorizeRequest, requireSubjectKind(auth.SubjectKindUser), cacheResponses(adminStore, cacheTTL))
	admin.GET("/pending-intransit", handler.handlePendingInTransit)
	admin.GET("/dispatched-items", handler.handleDispatchedItems)
	admin.GET("/dispatched-details", handler.handleDispatchedDetails)

	operators := router.Group("/")
	operators.Use(handler.authorizeRequest, requireSubjectKind(auth.SubjectKindOperator))
	operators.POST("/operator/update", handler.handleOperatorUpdate)
	operators.GET("/operator-alerts", handler.handleUnreadAlerts)
	operators.POST("/operator-alerts", handler.handleMarkAlertsRead)

	if deps.Push != nil {
		router.GET("/push/vapid-key", handler.handleVAPIDKey)
		subscribers := router.Group("/push")
		subscribers.Use(handler.authorizeRequest)
		subscribers.POST("/subscribe", handler.handlePushSubscribe)
		subscribers.DELETE("/subscribe", handler.handlePushUnsubscribe)
	}

	return router, nil
}

type httpHandler struct {
	floorService    *floor.Service
	dispatchService *dispatch.Service
	alertsService   *alerts.Service
	reportsService  *reports.Service
	verifier        *auth.Verifier
	tokens          SessionTokenIssuer
	broadcaster     *relay.Broadcaster
	push            *notify.Pool
	vapidPublicKey  string
	validate        *validator.Validate
	logger          *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if !strings.HasPrefix(header, "Bearer ") || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	kind, id, err := auth.ParseSubject(subject)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectKindContextKey, kind)
	c.Set(subjectIDContextKey, id)
	c.Next()
}

func requireSubjectKind(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(subjectKindContextKey) != kind {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func (h *httpHandler) subjectID(c *gin.Context) uint {
	id, _ := c.Get(subjectIDContextKey)
	parsed, _ := id.(uint)
	return parsed
}
