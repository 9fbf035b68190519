package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/facegate/attendance/internal/faceclient"
	"github.com/facegate/attendance/internal/models"
	"github.com/facegate/attendance/internal/oauth"
	"github.com/facegate/attendance/internal/repo"
	"github.com/facegate/attendance/internal/service"
	"github.com/facegate/attendance/internal/tokens"
)

type fakeGateway struct {
	recognizeResult *faceclient.RecognizeResult
	recognizeErr    error
	registerResult  *faceclient.RegisterResult
	registerErr     error
	reloads         int
}

func (g *fakeGateway) Recognize(context.Context, []byte, string) (*faceclient.RecognizeResult, error) {
	return g.recognizeResult, g.recognizeErr
}

func (g *fakeGateway) Register(context.Context, []byte, string, uint) (*faceclient.RegisterResult, error) {
	return g.registerResult, g.registerErr
}

func (g *fakeGateway) ReloadFaces(context.Context) error {
	g.reloads++
	return nil
}

type testEnv struct {
	T       *testing.T
	E       *echo.Echo
	DB      *gorm.DB
	Repo    *repo.GormRepo
	Tokens  *tokens.Service
	Auth    *AuthHandler
	Face    *FaceHandler
	Gateway *fakeGateway
}

func newTestEnv(t *testing.T) *testEnv {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.AttendanceRecord{}, &models.FaceProfile{}))

	store := repo.New(db)
	tokenService := &tokens.Service{
		AccessSecret:  []byte("test-access-secret"),
		RefreshSecret: []byte("test-refresh-secret"),
	}
	identity := &service.IdentityService{Repo: store, Tokens: tokenService}
	attendance := &service.AttendanceService{Repo: store}
	gateway := &fakeGateway{}

	return &testEnv{
		T:       t,
		E:       echo.New(),
		DB:      db,
		Repo:    store,
		Tokens:  tokenService,
		Auth:    &AuthHandler{Identity: identity},
		Face: &FaceHandler{
			Repo:       store,
			Attendance: attendance,
			Gateway:    gateway,
		},
		Gateway: gateway,
	}
}

func (env *testEnv) doJSONRequest(method, path string, payload interface{}) (*httptest.ResponseRecorder, echo.Context) {
	env.T.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(env.T, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := env.E.NewContext(req, rec)
	return rec, c
}

func (env *testEnv) doImageRequest(path string, image []byte) (*httptest.ResponseRecorder, echo.Context) {
	env.T.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", "face.jpg")
	require.NoError(env.T, err)
	_, err = part.Write(image)
	require.NoError(env.T, err)
	require.NoError(env.T, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	c := env.E.NewContext(req, rec)
	return rec, c
}

func (env *testEnv) createVerifiedUser(name, email string) *models.User {
	env.T.Helper()
	user := &models.User{
		Name:         name,
		Email:        email,
		PasswordHash: "x",
		Role:         models.RoleUser,
		IsVerified:   true,
	}
	require.NoError(env.T, env.DB.Create(user).Error)
	return user
}

func TestSignUpHandler(t *testing.T) {
	env := newTestEnv(t)

	payload := map[string]string{"name": "Ada", "email": "ada@x.com", "password": "pw123"}
	rec, c := env.doJSONRequest(http.MethodPost, "/auth/signup", payload)
	require.NoError(t, env.Auth.SignUp(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["refreshToken"])
	require.NotEmpty(t, resp["message"])

	// duplicate email
	_, c2 := env.doJSONRequest(http.MethodPost, "/auth/signup", payload)
	err := env.Auth.SignUp(c2)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusForbidden, he.Code)
}

func TestSignUpHandlerRejectsEmptyFields(t *testing.T) {
	env := newTestEnv(t)

	_, c := env.doJSONRequest(http.MethodPost, "/auth/signup", map[string]string{"email": "ada@x.com"})
	err := env.Auth.SignUp(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, he.Code)
}

func TestSignInHandler(t *testing.T) {
	env := newTestEnv(t)

	signup := map[string]string{"name": "Ada", "email": "ada@x.com", "password": "pw123"}
	_, c := env.doJSONRequest(http.MethodPost, "/auth/signup", signup)
	require.NoError(t, env.Auth.SignUp(c))

	// not verified yet
	_, c = env.doJSONRequest(http.MethodPost, "/auth/signin", map[string]string{"email": "ada@x.com", "password": "pw123"})
	err := env.Auth.SignIn(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusForbidden, he.Code)

	user, err := env.Repo.FindUserByEmail(context.Background(), "ada@x.com")
	require.NoError(t, err)
	require.NoError(t, env.DB.Model(user).Updates(map[string]interface{}{"is_verified": true}).Error)

	rec, c := env.doJSONRequest(http.MethodPost, "/auth/signin", map[string]string{"email": "ada@x.com", "password": "pw123"})
	require.NoError(t, env.Auth.SignIn(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["access_token"])
	require.NotEmpty(t, resp["refresh_token"])

	// wrong password
	_, c = env.doJSONRequest(http.MethodPost, "/auth/signin", map[string]string{"email": "ada@x.com", "password": "wrong"})
	err = env.Auth.SignIn(c)
	he, ok = err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusForbidden, he.Code)
}

func TestRefreshTokenHandler(t *testing.T) {
	env := newTestEnv(t)

	_, c := env.doJSONRequest(http.MethodPost, "/auth/refresh-token", map[string]string{"refreshToken": "bogus"})
	err := env.Auth.RefreshToken(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusUnauthorized, he.Code)

	_, c = env.doJSONRequest(http.MethodPost, "/auth/refresh-token", map[string]string{})
	err = env.Auth.RefreshToken(c)
	he, ok = err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, he.Code)
}

func TestVerifyEmailHandler(t *testing.T) {
	env := newTestEnv(t)

	signup := map[string]string{"name": "Ada", "email": "ada@x.com", "password": "pw123"}
	_, c := env.doJSONRequest(http.MethodPost, "/auth/signup", signup)
	require.NoError(t, env.Auth.SignUp(c))

	user, err := env.Repo.FindUserByEmail(context.Background(), "ada@x.com")
	require.NoError(t, err)
	require.NotNil(t, user.VerificationToken)

	req := httptest.NewRequest(http.MethodGet, "/auth/verify?token="+*user.VerificationToken, nil)
	rec := httptest.NewRecorder()
	c = env.E.NewContext(req, rec)
	require.NoError(t, env.Auth.VerifyEmail(c))
	require.Equal(t, http.StatusOK, rec.Code)

	// reuse fails
	req = httptest.NewRequest(http.MethodGet, "/auth/verify?token="+*user.VerificationToken, nil)
	c = env.E.NewContext(req, httptest.NewRecorder())
	err = env.Auth.VerifyEmail(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, he.Code)
}

func TestGoogleCallbackStateMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.Auth.OAuth = oauth.NewGoogleManager("test-client", "test-secret", "http://localhost/callback")

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=forged&code=abc", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "issued"})
	rec := httptest.NewRecorder()
	c := env.E.NewContext(req, rec)

	err := env.Auth.GoogleCallback(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, he.Code)

	// missing cookie entirely fails the same way
	req = httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=issued&code=abc", nil)
	c = env.E.NewContext(req, httptest.NewRecorder())
	err = env.Auth.GoogleCallback(c)
	he, ok = err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, he.Code)
}

func TestRecognizeNoMatch(t *testing.T) {
	env := newTestEnv(t)
	env.Gateway.recognizeResult = &faceclient.RecognizeResult{Success: false, Error: "No faces detected"}

	rec, c := env.doImageRequest("/face/recognize", []byte("imgbytes"))
	require.NoError(t, env.Face.Recognize(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, false, resp["success"])
	require.Equal(t, "No faces detected", resp["error"])

	var count int64
	require.NoError(t, env.DB.Table("attendance_records").Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestRecognizeUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.Gateway.recognizeErr = faceclient.ErrUnavailable

	rec, c := env.doImageRequest("/face/recognize", []byte("imgbytes"))
	require.NoError(t, env.Face.Recognize(c))
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var count int64
	require.NoError(t, env.DB.Table("attendance_records").Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestRecognizeMarksAttendance(t *testing.T) {
	env := newTestEnv(t)
	user := env.createVerifiedUser("Ada", "ada@x.com")
	env.Gateway.recognizeResult = &faceclient.RecognizeResult{
		Success:    true,
		UserID:     user.ID,
		Confidence: 42.5,
	}

	rec, c := env.doImageRequest("/face/recognize", []byte("imgbytes"))
	require.NoError(t, env.Face.Recognize(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success    bool     `json:"success"`
		User       userView `json:"user"`
		Confidence float64  `json:"confidence"`
		Attendance struct {
			FormattedDateTime string `json:"formattedDateTime"`
			Status            string `json:"status"`
			AlreadyMarked     bool   `json:"alreadyMarked"`
		} `json:"attendance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "Ada", resp.User.Name)
	require.Equal(t, service.StatusPresent, resp.Attendance.Status)
	require.False(t, resp.Attendance.AlreadyMarked)
	require.InDelta(t, 42.5, resp.Confidence, 0.001)

	// second scan the same day is a no-op
	rec2, c2 := env.doImageRequest("/face/recognize", []byte("imgbytes"))
	require.NoError(t, env.Face.Recognize(c2))
	require.Equal(t, http.StatusOK, rec2.Code)
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp))
	require.True(t, resp.Attendance.AlreadyMarked)

	var count int64
	require.NoError(t, env.DB.Table("attendance_records").Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRecognizeMissingImage(t *testing.T) {
	env := newTestEnv(t)

	_, c := env.doJSONRequest(http.MethodPost, "/face/recognize", nil)
	err := env.Face.Recognize(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, he.Code)
}

func TestRegisterFace(t *testing.T) {
	env := newTestEnv(t)
	user := env.createVerifiedUser("Ada", "ada@x.com")
	env.Gateway.registerResult = &faceclient.RegisterResult{Success: true, UserID: user.ID}

	rec, c := env.doImageRequest("/face/register", []byte("imgbytes"))
	c.Set("user_id", user.ID)
	require.NoError(t, env.Face.Register(c))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 1, env.Gateway.reloads)

	var profile models.FaceProfile
	require.NoError(t, env.DB.First(&profile).Error)
	require.Equal(t, user.ID, profile.UserID)
	require.Equal(t, "/uploads/faces/face.jpg", profile.URI)
}

func TestRegisterFaceRejected(t *testing.T) {
	env := newTestEnv(t)
	user := env.createVerifiedUser("Ada", "ada@x.com")
	env.Gateway.registerResult = &faceclient.RegisterResult{Success: false, Error: "No faces detected"}

	_, c := env.doImageRequest("/face/register", []byte("imgbytes"))
	c.Set("user_id", user.ID)
	err := env.Face.Register(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, he.Code)

	var count int64
	require.NoError(t, env.DB.Table("face_profiles").Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestAttendanceHistory(t *testing.T) {
	env := newTestEnv(t)
	user := env.createVerifiedUser("Ada", "ada@x.com")
	other := env.createVerifiedUser("Grace", "grace@x.com")

	attendance := &service.AttendanceService{Repo: env.Repo}
	_, err := attendance.MarkAttendance(context.Background(), user.ID)
	require.NoError(t, err)
	_, err = attendance.MarkAttendance(context.Background(), other.ID)
	require.NoError(t, err)

	h := &AttendanceHandler{Repo: env.Repo}
	req := httptest.NewRequest(http.MethodGet, "/attendance/me", nil)
	rec := httptest.NewRecorder()
	c := env.E.NewContext(req, rec)
	c.Set("user_id", user.ID)

	require.NoError(t, h.History(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var records []models.AttendanceRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	require.Equal(t, user.ID, records[0].UserID)
}

func TestListUsers(t *testing.T) {
	env := newTestEnv(t)
	env.createVerifiedUser("Ada", "ada@x.com")
	env.createVerifiedUser("Grace", "grace@x.com")

	req := httptest.NewRequest(http.MethodGet, "/face/users", nil)
	rec := httptest.NewRecorder()
	c := env.E.NewContext(req, rec)
	require.NoError(t, env.Face.ListUsers(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var users []userView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 2)
	require.NotEmpty(t, users[0].Email)
}
