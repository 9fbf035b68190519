package httpserver

import (
	"github.com/labstack/echo/v4"

	"github.com/facegate/attendance/internal/handlers"
	authmw "github.com/facegate/attendance/internal/middleware/auth"
)

type Deps struct {
	AuthHandler       *handlers.AuthHandler
	FaceHandler       *handlers.FaceHandler
	AttendanceHandler *handlers.AttendanceHandler
	Auth              *authmw.Middleware
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })

	auth := e.Group("/auth")

	auth.POST("/signup", d.AuthHandler.SignUp)
	auth.POST("/signin", d.AuthHandler.SignIn)
	auth.PATCH("/change-password", d.AuthHandler.ChangePassword, d.Auth.RequireAuth)
	auth.POST("/refresh-token", d.AuthHandler.RefreshToken, d.Auth.RequireAuth)
	auth.GET("/verify", d.AuthHandler.VerifyEmail)
	auth.GET("/google", d.AuthHandler.GoogleLogin)
	auth.GET("/google/callback", d.AuthHandler.GoogleCallback)

	face := e.Group("/face")

	face.POST("/register", d.FaceHandler.Register, d.Auth.RequireAuth)
	face.POST("/recognize", d.FaceHandler.Recognize)
	face.GET("/users", d.FaceHandler.ListUsers)
	face.GET("/all", d.FaceHandler.ListProfiles, d.Auth.RequireAuth)

	attendance := e.Group("/attendance")

	attendance.GET("/me", d.AttendanceHandler.History, d.Auth.RequireAuth)
	attendance.GET("/search", d.AttendanceHandler.Search, d.Auth.RequireAdmin)
}
