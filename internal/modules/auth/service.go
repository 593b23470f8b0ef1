package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/campuslink/core/internal/models"
	"github.com/campuslink/core/internal/pkg/apperr"
	jwtpkg "github.com/campuslink/core/internal/pkg/jwt"
	"github.com/campuslink/core/internal/pkg/session"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultFailureDelay = time.Second

var errWrongCredentials = fmt.Errorf("%w: username or password is incorrect", apperr.ErrInvalidCredential)

type Service struct {
	db           *gorm.DB
	verifier     Verifier
	sessions     *session.Manager
	logger       *zap.Logger
	failureDelay time.Duration
	now          func() time.Time
}

func NewService(db *gorm.DB, verifier Verifier, sessions *session.Manager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:           db,
		verifier:     verifier,
		sessions:     sessions,
		logger:       logger.Named("Auth"),
		failureDelay: defaultFailureDelay,
		now:          time.Now,
	}
}

// Sessions exposes the credential gate shared with the gateway.
func (s *Service) Sessions() *session.Manager { return s.sessions }

// Login verifies the identity, makes sure a profile exists and issues a credential.
func (s *Service) Login(ctx context.Context, username, password, ip, ua string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperr.Validation("username and password are required")
	}

	ok, err := s.verifier.Verify(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Info("login rejected", zap.String("username", username), zap.String("ip", ip))
		if s.failureDelay > 0 {
			select {
			case <-time.After(s.failureDelay):
			case <-ctx.Done():
			}
		}
		return nil, errWrongCredentials
	}

	user, err := s.ensureProfile(ctx, username, ip)
	if err != nil {
		return nil, err
	}

	token, claims, err := s.sessions.Issue(user.ID, jwtpkg.Attributes{Name: user.Name})
	if err != nil {
		return nil, err
	}
	record := models.UserSession{
		UserID:    user.ID,
		TokenID:   claims.ID,
		IP:        ip,
		UA:        ua,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logger.Warn("session record not stored", zap.String("user", user.ID), zap.Error(err))
	}

	return &LoginResult{Token: token, ExpiresAt: claims.ExpiresAt.Time, Profile: toProfile(user)}, nil
}

// ensureProfile creates the profile of a verified subject on first login and
// stamps the login time.
func (s *Service) ensureProfile(ctx context.Context, username, ip string) (*models.UserModel, error) {
	db := s.db.WithContext(ctx)
	var u models.UserModel
	err := db.Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		u = models.UserModel{Username: username, Name: username}
		u.ID = username
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&u).Error; err != nil {
			return nil, apperr.Transient("create profile", err)
		}
		err = db.Where("username = ?", username).First(&u).Error
	}
	if err != nil {
		return nil, apperr.Transient("load profile", err)
	}

	now := s.now().UTC()
	if err := db.Model(&u).Updates(map[string]any{"last_login_time": now, "last_login_ip": ip}).Error; err != nil {
		s.logger.Warn("login stamp not stored", zap.String("user", u.ID), zap.Error(err))
	}
	u.LastLoginTime = &now
	u.LastLoginIP = ip
	return &u, nil
}

// Logout revokes the credential for its remaining lifetime. Repeating it is a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Revoke(ctx, token); err != nil {
		return err
	}
	claims, err := s.sessions.Issuer().Verify(session.NormalizeToken(token))
	if err != nil {
		return nil
	}
	now := s.now().UTC()
	if err := s.db.WithContext(ctx).
		Model(&models.UserSession{}).
		Where("token_id = ? AND revoked_at IS NULL", claims.ID).
		Update("revoked_at", now).Error; err != nil {
		s.logger.Warn("session record not updated", zap.String("user", claims.UserID), zap.Error(err))
	}
	return nil
}

// CreateUser adds a local account with a bcrypt password.
func (s *Service) CreateUser(ctx context.Context, username, password, name string) (*models.UserModel, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperr.Validation("username is required")
	}
	if len(password) < 6 {
		return nil, apperr.Validation("password must be at least 6 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := models.UserModel{Username: username, Name: displayName(strings.TrimSpace(name), username), Password: string(hash)}
	u.ID = username
	if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
		return nil, fmt.Errorf("create user %q: %w", username, err)
	}
	return &u, nil
}

// Exists reports whether a profile exists for subjectID.
func (s *Service) Exists(ctx context.Context, subjectID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.UserModel{}).Where("id = ?", subjectID).Count(&count).Error; err != nil {
		return false, apperr.Transient("find profile", err)
	}
	return count > 0, nil
}
