package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/facegate/attendance/internal/hash"
	"github.com/facegate/attendance/internal/logging"
	"github.com/facegate/attendance/internal/mailer"
	"github.com/facegate/attendance/internal/models"
	"github.com/facegate/attendance/internal/mykafka"
	"github.com/facegate/attendance/internal/repo"
	"github.com/facegate/attendance/internal/tokens"
)

type IdentityService struct {
	Repo     *repo.GormRepo
	Tokens   *tokens.Service
	Mailer   mailer.Sender
	Producer *mykafka.Producer
}

type SignUpResult struct {
	Message      string
	RefreshToken string
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

func (s *IdentityService) SignUp(ctx context.Context, name, email, password string) (*SignUpResult, error) {
	l := logging.FromContext(ctx).With("svc", "identity.signup")

	pwHash, err := hash.HashPassword(password)
	if err != nil {
		l.Error("signup_failed", "reason", "cannot hash the password", "error", err)
		return nil, err
	}

	verificationToken := uuid.NewString()
	user := models.User{
		Name:              name,
		Email:             email,
		PasswordHash:      pwHash,
		Role:              models.RoleUser,
		IsVerified:        false,
		VerificationToken: &verificationToken,
	}

	if err := s.Repo.CreateUser(ctx, &user); err != nil {
		if errors.Is(err, repo.ErrDuplicateEmail) {
			l.Warn("signup_failed", "reason", "duplicate_email")
			return nil, ErrDuplicateCredentials
		}
		l.Error("signup_failed", "reason", "db_error", "error", err)
		return nil, err
	}

	refreshToken, _, err := s.Tokens.IssueRefresh(user.ID)
	if err != nil {
		l.Error("signup_failed", "reason", "cannot create token", "error", err)
		return nil, err
	}
	if err := s.Repo.UpdateRefreshToken(ctx, user.ID, refreshToken); err != nil {
		l.Error("signup_failed", "reason", "cannot persist refresh token", "error", err)
		return nil, err
	}

	// The user row and tokens are already committed; a lost mail or event must
	// not roll sign-up back.
	if s.Mailer != nil {
		if err := s.Mailer.SendVerification(ctx, user.Email, verificationToken); err != nil {
			l.Error("verification_mail_failed", "error", err)
		}
	}
	s.publish(ctx, mykafka.TopicUserEvents, user.ID, map[string]interface{}{
		"type":    "user_signed_up",
		"user_id": user.ID,
		"email":   user.Email,
	})

	l.Info("signup_success", "user_id", user.ID)
	return &SignUpResult{
		Message:      "User successfully signed up. Please check your email for verification.",
		RefreshToken: refreshToken,
	}, nil
}

func (s *IdentityService) SignIn(ctx context.Context, email, password string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "identity.signin")

	user, err := s.Repo.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("signin_failed", "reason", "user_not_found")
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if !user.IsVerified {
		l.Warn("signin_failed", "reason", "not_verified", "user_id", user.ID)
		return nil, ErrNotVerified
	}

	if !hash.CheckPassword(user.PasswordHash, password) {
		l.Warn("signin_failed", "reason", "invalid_credentials", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		l.Error("signin_failed", "reason", "cannot create token", "error", err)
		return nil, err
	}

	s.publish(ctx, mykafka.TopicUserEvents, user.ID, map[string]interface{}{
		"type":    "user_signed_in",
		"user_id": user.ID,
	})

	l.Info("signin_success", "user_id", user.ID)
	return pair, nil
}

// Refresh rotates the token pair. The presented refresh token must verify,
// be unexpired, and byte-for-byte equal the value currently stored on the
// user; the stored value is replaced before the new pair is returned, so the
// old token is dead the moment the caller sees the response.
func (s *IdentityService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "identity.refresh")

	claims, err := s.Tokens.VerifyRefresh(refreshToken)
	if err != nil {
		l.Warn("refresh_failed", "reason", "verification")
		return nil, ErrInvalidToken
	}

	userID, err := tokens.SubjectID(claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}

	user, err := s.Repo.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("refresh_failed", "reason", "user_not_found")
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	if user.RefreshToken == nil || *user.RefreshToken != refreshToken {
		l.Warn("refresh_failed", "reason", "token_mismatch", "user_id", user.ID)
		return nil, ErrInvalidToken
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		l.Error("refresh_failed", "reason", "cannot create token", "error", err)
		return nil, err
	}

	l.Info("refresh_success", "user_id", user.ID)
	return pair, nil
}

func (s *IdentityService) ChangePassword(ctx context.Context, userID uint, oldPassword, newPassword string) error {
	l := logging.FromContext(ctx).With("svc", "identity.change_password", "user_id", userID)

	user, err := s.Repo.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	if !hash.CheckPassword(user.PasswordHash, oldPassword) {
		l.Warn("change_password_failed", "reason", "wrong_old_password")
		return ErrWrongOldPassword
	}

	if hash.CheckPassword(user.PasswordHash, newPassword) {
		l.Warn("change_password_failed", "reason", "same_password")
		return ErrSamePassword
	}

	newHash, err := hash.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.Repo.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
		return err
	}

	s.publish(ctx, mykafka.TopicUserEvents, user.ID, map[string]interface{}{
		"type":    "password_changed",
		"user_id": user.ID,
	})

	l.Info("change_password_success")
	return nil
}

func (s *IdentityService) VerifyEmail(ctx context.Context, token string) error {
	l := logging.FromContext(ctx).With("svc", "identity.verify_email")

	user, err := s.Repo.FindUserByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("verify_email_failed", "reason", "token_not_found")
			return ErrUserNotFound
		}
		return err
	}

	if err := s.Repo.MarkVerified(ctx, user.ID); err != nil {
		return err
	}

	s.publish(ctx, mykafka.TopicUserEvents, user.ID, map[string]interface{}{
		"type":    "email_verified",
		"user_id": user.ID,
	})

	l.Info("verify_email_success", "user_id", user.ID)
	return nil
}

// GoogleSignIn upserts the externally authenticated user and issues a fresh
// pair under the same single-active-session rule as password sign-in.
func (s *IdentityService) GoogleSignIn(ctx context.Context, email, name string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "identity.google_signin")

	user, err := s.Repo.UpsertOAuthUser(ctx, email, name)
	if err != nil {
		l.Error("google_signin_failed", "reason", "db_error", "error", err)
		return nil, err
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		l.Error("google_signin_failed", "reason", "cannot create token", "error", err)
		return nil, err
	}

	s.publish(ctx, mykafka.TopicUserEvents, user.ID, map[string]interface{}{
		"type":    "user_signed_in",
		"user_id": user.ID,
		"via":     "google",
	})

	l.Info("google_signin_success", "user_id", user.ID)
	return pair, nil
}

func (s *IdentityService) issuePair(ctx context.Context, user *models.User) (*TokenPair, error) {
	accessToken, _, err := s.Tokens.IssueAccess(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, err
	}

	refreshToken, _, err := s.Tokens.IssueRefresh(user.ID)
	if err != nil {
		return nil, err
	}

	// Commit the rotation before anything is returned to the caller.
	if err := s.Repo.UpdateRefreshToken(ctx, user.ID, refreshToken); err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (s *IdentityService) publish(ctx context.Context, topic string, userID uint, event map[string]interface{}) {
	if s.Producer == nil {
		return
	}
	if err := s.Producer.PublishEvent(ctx, topic, fmt.Sprint(userID), event); err != nil {
		logging.FromContext(ctx).Error("kafka_publish_failed", "topic", topic, "error", err)
	}
}
