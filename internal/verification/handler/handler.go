package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vicinity/internal/verification/models"
	"vicinity/internal/verification/service"
	id "vicinity/pkg/domain"
	"vicinity/pkg/platform/httputil"
	"vicinity/pkg/requestcontext"
)

// Service defines the interface for verification operations.
type Service interface {
	Enroll(ctx context.Context, req service.EnrollRequest) (*models.DeviceSubject, error)
	GetSubject(ctx context.Context, deviceID id.DeviceID) (*models.DeviceSubject, error)
	RecordMovement(ctx context.Context, report service.MovementReport) (*service.MovementResult, error)
	ConfirmNight(ctx context.Context, deviceID id.DeviceID) (*service.NightResult, error)
	SubmitCheckin(ctx context.Context, sub service.CheckinSubmission) (*service.CheckinResult, error)
	ScheduleCheckins(ctx context.Context, deviceID id.DeviceID, count int) (bool, error)
	RunDispatchSweep(ctx context.Context) (int, error)
	RunExpirySweep(ctx context.Context) (int, error)
}

// Handler wires verification endpoints to the verification service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a verification handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts verification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/verification/enroll", h.HandleEnroll)
	r.Get("/verification/subjects/{deviceID}", h.HandleGetSubject)
	r.Post("/verification/movement", h.HandleMovement)
	r.Post("/verification/night", h.HandleNight)
	r.Post("/verification/checkin", h.HandleCheckin)
	r.Post("/verification/schedule", h.HandleSchedule)
	r.Post("/verification/sweep/dispatch", h.HandleDispatchSweep)
	r.Post("/verification/sweep/expiry", h.HandleExpirySweep)
}

// HandleEnroll handles POST /verification/enroll requests.
func (h *Handler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[EnrollRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	subject, err := h.service.Enroll(ctx, service.EnrollRequest{
		DeviceID:     req.ParsedDeviceID(),
		ZoneID:       req.ParsedZoneID(),
		Subscription: models.Subscription(req.Subscription),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "enroll failed",
			"request_id", requestID,
			"device_id", req.DeviceID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "device enrolled",
		"request_id", requestID,
		"device_id", subject.DeviceID,
		"zone_id", subject.ZoneID,
	)
	httputil.WriteJSON(w, http.StatusOK, FromSubject(subject))
}

// HandleGetSubject handles GET /verification/subjects/{deviceID} requests.
func (h *Handler) HandleGetSubject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	deviceID, err := id.ParseDeviceID(chi.URLParam(r, "deviceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	subject, err := h.service.GetSubject(ctx, deviceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSubject(subject))
}

// HandleMovement handles POST /verification/movement requests.
func (h *Handler) HandleMovement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[MovementRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.RecordMovement(ctx, service.MovementReport{
		DeviceID: req.ParsedDeviceID(),
		Detected: req.MovementDetected,
		Geocell:  req.ParsedGeocell(),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "movement report failed",
			"request_id", requestID,
			"device_id", req.DeviceID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "movement scored",
		"request_id", requestID,
		"device_id", req.DeviceID,
		"detected", req.MovementDetected,
		"trust_score", result.TrustScore,
		"status", result.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromMovementResult(result))
}

// HandleNight handles POST /verification/night requests.
func (h *Handler) HandleNight(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[NightRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.ConfirmNight(ctx, req.ParsedDeviceID())
	if err != nil {
		h.logger.ErrorContext(ctx, "night confirmation failed",
			"request_id", requestID,
			"device_id", req.DeviceID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromNightResult(result))
}

// HandleCheckin handles POST /verification/checkin requests.
func (h *Handler) HandleCheckin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[CheckinRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.SubmitCheckin(ctx, service.CheckinSubmission{
		DeviceID:    req.ParsedDeviceID(),
		ChallengeID: req.ParsedChallengeID(),
		Points:      req.Points,
		DurationMs:  req.DurationMs,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "check-in failed",
			"request_id", requestID,
			"device_id", req.DeviceID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "check-in classified",
		"request_id", requestID,
		"device_id", req.DeviceID,
		"challenge_id", result.ChallengeID,
		"passed", result.Passed,
		"confidence", result.Confidence,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromCheckinResult(result))
}

// HandleSchedule handles POST /verification/schedule requests.
func (h *Handler) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ScheduleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	created, err := h.service.ScheduleCheckins(ctx, req.ParsedDeviceID(), req.Count)
	if err != nil {
		h.logger.ErrorContext(ctx, "schedule failed",
			"request_id", requestID,
			"device_id", req.DeviceID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &ScheduleResponse{Created: created})
}

// HandleDispatchSweep handles POST /verification/sweep/dispatch requests.
func (h *Handler) HandleDispatchSweep(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, "dispatch", h.service.RunDispatchSweep)
}

// HandleExpirySweep handles POST /verification/sweep/expiry requests.
func (h *Handler) HandleExpirySweep(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, "expiry", h.service.RunExpirySweep)
}

func (h *Handler) runSweep(w http.ResponseWriter, r *http.Request, name string, sweep func(context.Context) (int, error)) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	processed, err := sweep(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "sweep failed",
			"request_id", requestID,
			"sweep", name,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "sweep completed",
		"request_id", requestID,
		"sweep", name,
		"processed", processed,
	)
	httputil.WriteJSON(w, http.StatusOK, &SweepResponse{Processed: processed})
}
