package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/facegate/attendance/internal/faceclient"
	"github.com/facegate/attendance/internal/logging"
	authmw "github.com/facegate/attendance/internal/middleware/auth"
	"github.com/facegate/attendance/internal/models"
	"github.com/facegate/attendance/internal/mykafka"
	"github.com/facegate/attendance/internal/repo"
	"github.com/facegate/attendance/internal/service"
)

type FaceHandler struct {
	Repo       *repo.GormRepo
	Attendance *service.AttendanceService
	Gateway    faceclient.Gateway
	Producer   *mykafka.Producer
}

type userView struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Register forwards the uploaded face image to the recognition service and,
// on success, persists the profile reference for the authenticated user.
func (h *FaceHandler) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "face_register")

	userID, ok := authmw.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
	}

	image, filename, err := readImage(c)
	if err != nil {
		l.Warn("register_failed", "status", 400, "reason", "invalid_upload")
		return echo.NewHTTPError(http.StatusBadRequest, "invalid image file")
	}

	if _, err := h.Repo.FindUserByID(ctx, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "User not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	result, err := h.Gateway.Register(ctx, image, filename, userID)
	if err != nil {
		l.Error("register_failed", "reason", "gateway_error", "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "recognition service unavailable")
	}
	if !result.Success {
		l.Warn("register_failed", "reason", "gateway_rejected", "error", result.Error)
		msg := result.Error
		if msg == "" {
			msg = "face registration failed"
		}
		return echo.NewHTTPError(http.StatusBadRequest, msg)
	}

	profile := models.FaceProfile{
		UserID: userID,
		URI:    fmt.Sprintf("/uploads/faces/%s", filename),
	}
	if err := h.Repo.CreateFaceProfile(ctx, &profile); err != nil {
		l.Error("register_failed", "reason", "db_error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	// The matcher re-trains on its registered set; best effort.
	if err := h.Gateway.ReloadFaces(ctx); err != nil {
		l.Warn("reload_faces_failed", "error", err)
	}

	if h.Producer != nil {
		event := map[string]interface{}{
			"type":    "face_registered",
			"user_id": userID,
			"uri":     profile.URI,
		}
		if err := h.Producer.PublishEvent(ctx, mykafka.TopicAttendanceEvents, fmt.Sprint(userID), event); err != nil {
			l.Error("kafka_publish_failed", "error", err)
		}
	}

	l.Info("register_success", "user_id", userID)
	return c.JSON(http.StatusCreated, profile)
}

// Recognize matches the uploaded image against the external service and marks
// the recognized user present. A non-match is a normal outcome, not an error.
func (h *FaceHandler) Recognize(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "face_recognize")

	image, filename, err := readImage(c)
	if err != nil {
		l.Warn("recognize_failed", "status", 400, "reason", "invalid_upload")
		return echo.NewHTTPError(http.StatusBadRequest, "invalid image file")
	}

	recognition, err := h.Gateway.Recognize(ctx, image, filename)
	if err != nil {
		l.Error("recognize_failed", "reason", "gateway_error", "error", err)
		return c.JSON(http.StatusBadGateway, echo.Map{
			"success": false,
			"error":   "recognition service unavailable",
		})
	}

	if !recognition.Success || recognition.UserID == 0 {
		msg := recognition.Error
		if msg == "" {
			msg = "Face not recognized"
		}
		return c.JSON(http.StatusOK, echo.Map{
			"success": false,
			"error":   msg,
		})
	}

	mark, err := h.Attendance.MarkAttendance(ctx, recognition.UserID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return c.JSON(http.StatusOK, echo.Map{
				"success": false,
				"error":   "User not found",
			})
		}
		l.Error("recognize_failed", "reason", "mark_error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	user, err := h.Repo.FindUserByID(ctx, recognition.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"user":    userView{ID: user.ID, Name: user.Name, Email: user.Email},
		"attendance": echo.Map{
			"formattedDateTime": mark.FormattedDateTime,
			"status":            mark.Record.Status,
			"alreadyMarked":     mark.AlreadyMarked,
		},
		"confidence": recognition.Confidence,
	})
}

func (h *FaceHandler) ListUsers(c echo.Context) error {
	ctx := c.Request().Context()

	users, err := h.Repo.ListUsers(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	out := make([]userView, len(users))
	for i, u := range users {
		out[i] = userView{ID: u.ID, Name: u.Name, Email: u.Email}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *FaceHandler) ListProfiles(c echo.Context) error {
	ctx := c.Request().Context()

	profiles, err := h.Repo.ListFaceProfiles(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, profiles)
}

func readImage(c echo.Context) ([]byte, string, error) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		return nil, "", err
	}

	f, err := fileHeader.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", errors.New("empty image")
	}
	return data, fileHeader.Filename, nil
}
