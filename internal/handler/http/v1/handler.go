package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/service"
	"github.com/shenikar/emergency_dispatch_system/pkg/apperror"
	"github.com/sirupsen/logrus"
)

// WSServer принимает websocket-подключение от имени пользователя
type WSServer interface {
	Serve(w http.ResponseWriter, r *http.Request, userID string) error
}

type Handler struct {
	incidentService  service.IncidentService
	responderService service.ResponderService
	ws               WSServer
	logger           *logrus.Logger
	validate         *validator.Validate
	cfg              *config.Config
}

func NewHandler(
	incidentService service.IncidentService,
	responderService service.ResponderService,
	ws WSServer,
	logger *logrus.Logger,
	cfg *config.Config,
) *Handler {
	return &Handler{
		incidentService:  incidentService,
		responderService: responderService,
		ws:               ws,
		logger:           logger,
		validate:         validator.New(),
		cfg:              cfg,
	}
}

// statusFor сопоставляет вид ошибки HTTP-статусу
func statusFor(err error) int {
	switch apperror.KindOf(err) {
	case apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindUnauthorized:
		return http.StatusForbidden
	case apperror.KindInvalidState:
		return http.StatusUnprocessableEntity
	case apperror.KindNotAssigned, apperror.KindConflict:
		return http.StatusConflict
	case apperror.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError пишет ответ с ошибкой сервиса. Внутренние причины наружу не отдаются.
func (h *Handler) respondError(c *gin.Context, log *logrus.Entry, err error) {
	status := statusFor(err)
	kind := apperror.KindOf(err)

	switch {
	case status == http.StatusInternalServerError:
		log.WithError(err).Error("Request failed")
		c.JSON(status, ErrorResponse{Error: "internal server error"})
		return
	case status == http.StatusServiceUnavailable:
		log.WithError(err).Error("Dependency unavailable")
		c.Header("Retry-After", "1")
		c.JSON(status, ErrorResponse{Error: "service temporarily unavailable", Kind: string(kind)})
		return
	}

	log.WithError(err).Warn("Request rejected")
	message := err.Error()
	var appErr *apperror.Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}
	c.JSON(status, ErrorResponse{Error: message, Kind: string(kind)})
}

func (h *Handler) badRequest(c *gin.Context, log *logrus.Entry, err error, message string) {
	log.WithError(err).Warn(message)
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: message, Kind: string(apperror.KindValidation)})
}

// bindJSON разбирает и валидирует тело запроса; false - ответ уже отправлен
func (h *Handler) bindJSON(c *gin.Context, log *logrus.Entry, input any) bool {
	if err := c.ShouldBindJSON(input); err != nil {
		h.badRequest(c, log, err, "invalid request body")
		return false
	}
	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: string(apperror.KindValidation)})
		return false
	}
	return true
}

// @Summary Get application health status
// @Description Get health status of the application
// @Tags System
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string "Status OK"
// @Router /system/health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Open websocket stream
// @Description Upgrade to a websocket that receives events addressed to the caller. Send {"type":"join_incident","incident_id":"..."} to follow an incident room.
// @Tags Realtime
// @Security ApiKeyAuth
// @Param X-User-ID header string true "Caller identity"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} ErrorResponse "Missing identity"
// @Router /ws [get]
func (h *Handler) serveWS(c *gin.Context) {
	actor := actorFrom(c)
	log := h.logger.WithFields(logrus.Fields{"method": "serveWS", "user_id": actor.ID})

	if err := h.ws.Serve(c.Writer, c.Request, actor.ID.String()); err != nil {
		log.WithError(err).Warn("Websocket session ended with error")
	}
}
