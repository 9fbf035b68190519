package service

import (
	"context"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/facegate/attendance/internal/models"
	"github.com/facegate/attendance/internal/repo"
	"github.com/facegate/attendance/internal/tokens"
)

type testEnv struct {
	T          *testing.T
	DB         *gorm.DB
	Repo       *repo.GormRepo
	Tokens     *tokens.Service
	Identity   *IdentityService
	Attendance *AttendanceService
	Mailer     *recordingMailer
}

type recordingMailer struct {
	mu   sync.Mutex
	Sent []sentMail
	Fail bool
}

type sentMail struct {
	Email string
	Token string
}

func (m *recordingMailer) SendVerification(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return context.DeadlineExceeded
	}
	m.Sent = append(m.Sent, sentMail{Email: email, Token: token})
	return nil
}

func initTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.AttendanceRecord{}, &models.FaceProfile{}))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	db := initTestDB(t)
	store := repo.New(db)

	tokenService := &tokens.Service{
		AccessSecret:  []byte("test-access-secret"),
		RefreshSecret: []byte("test-refresh-secret"),
	}

	m := &recordingMailer{}

	env := &testEnv{
		T:      t,
		DB:     db,
		Repo:   store,
		Tokens: tokenService,
		Mailer: m,
		Identity: &IdentityService{
			Repo:   store,
			Tokens: tokenService,
			Mailer: m,
		},
		Attendance: &AttendanceService{
			Repo: store,
		},
	}

	return env
}

// signUpVerified walks through sign-up and email verification so tests start
// from a user who can sign in.
func (env *testEnv) signUpVerified(name, email, password string) *models.User {
	env.T.Helper()
	ctx := context.Background()

	_, err := env.Identity.SignUp(ctx, name, email, password)
	require.NoError(env.T, err)

	user, err := env.Repo.FindUserByEmail(ctx, email)
	require.NoError(env.T, err)
	require.NotNil(env.T, user.VerificationToken)

	require.NoError(env.T, env.Identity.VerifyEmail(ctx, *user.VerificationToken))

	user, err = env.Repo.FindUserByEmail(ctx, email)
	require.NoError(env.T, err)
	return user
}
