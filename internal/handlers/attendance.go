package handlers

import (
	"net/http"
	"strconv"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/labstack/echo/v4"

	authmw "github.com/facegate/attendance/internal/middleware/auth"
	"github.com/facegate/attendance/internal/repo"
	"github.com/facegate/attendance/internal/service/search"
	"github.com/facegate/attendance/internal/util"
)

type AttendanceHandler struct {
	Repo *repo.GormRepo
	ES   *elasticsearch.Client
}

// History returns the authenticated user's own attendance records.
func (h *AttendanceHandler) History(c echo.Context) error {
	ctx := c.Request().Context()

	userID, ok := authmw.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
	}

	records, err := h.Repo.ListAttendanceForUser(ctx, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, records)
}

// Search queries the attendance index by user name, email, day or status.
func (h *AttendanceHandler) Search(c echo.Context) error {
	if h.ES == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "search not configured")
	}

	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query error")
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("size"))
	from, size := util.Calculate(page, size)

	ctx := c.Request().Context()

	total, docs, err := search.SearchAttendance(ctx, h.ES, q, from, size)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "search error")
	}
	return c.JSON(http.StatusOK, echo.Map{"total": total, "records": docs})
}
