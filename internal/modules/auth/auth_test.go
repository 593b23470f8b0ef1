package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/campuslink/core/internal/config"
	"github.com/campuslink/core/internal/database"
	"github.com/campuslink/core/internal/middleware"
	"github.com/campuslink/core/internal/models"
	"github.com/campuslink/core/internal/modules/revocation"
	"github.com/campuslink/core/internal/pkg/apperr"
	jwtpkg "github.com/campuslink/core/internal/pkg/jwt"
	"github.com/campuslink/core/internal/pkg/session"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.Open(config.DriverSQLite, dsn, logger.Silent)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestService(t *testing.T, verifier func(db *gorm.DB) Verifier) (*Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	iss, err := jwtpkg.NewIssuer("abcdefghijklmnopqrstuvwxyz123456", time.Hour)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	svc := NewService(db, verifier(db), session.NewManager(iss, revocation.NewMemoryStore()), nil)
	svc.failureDelay = 0
	return svc, db
}

func local(db *gorm.DB) Verifier { return NewLocalVerifier(db) }

func TestLocalLoginIssuesTokenAndProfile(t *testing.T) {
	svc, db := newTestService(t, local)
	ctx := context.Background()
	if _, err := svc.CreateUser(ctx, "s1001", "hunter22", "Ada"); err != nil {
		t.Fatalf("create user: %v", err)
	}

	res, err := svc.Login(ctx, "s1001", "hunter22", "10.0.0.1", "test")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Profile.ID != "s1001" || res.Profile.Name != "Ada" || res.Profile.LastLoginTime == nil {
		t.Fatalf("unexpected profile %+v", res.Profile)
	}
	claims, err := svc.Sessions().Authenticate(ctx, res.Token)
	if err != nil || claims.UserID != "s1001" {
		t.Fatalf("token does not authenticate: %v", err)
	}

	var records int64
	db.Model(&models.UserSession{}).Where("user_id = ?", "s1001").Count(&records)
	if records != 1 {
		t.Fatalf("expected one session record, got %d", records)
	}
}

func TestLocalLoginRejectsWrongPassword(t *testing.T) {
	svc, _ := newTestService(t, local)
	ctx := context.Background()
	_, _ = svc.CreateUser(ctx, "s1", "correct-horse", "")

	for _, tc := range []struct{ user, pass string }{{"s1", "wrong"}, {"ghost", "whatever"}} {
		if _, err := svc.Login(ctx, tc.user, tc.pass, "", ""); !errors.Is(err, apperr.ErrInvalidCredential) {
			t.Fatalf("%s: expected invalid credential, got %v", tc.user, err)
		}
	}
	if _, err := svc.Login(ctx, "", "x", "", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLogoutRevokesAndRecords(t *testing.T) {
	svc, db := newTestService(t, local)
	ctx := context.Background()
	_, _ = svc.CreateUser(ctx, "s1", "secret-pass", "")
	res, err := svc.Login(ctx, "s1", "secret-pass", "", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.Logout(ctx, res.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Sessions().Authenticate(ctx, res.Token); !errors.Is(err, apperr.ErrTokenRevoked) {
		t.Fatalf("expected revoked, got %v", err)
	}
	if err := svc.Logout(ctx, res.Token); err != nil {
		t.Fatalf("second logout: %v", err)
	}

	var rec models.UserSession
	if err := db.Where("user_id = ?", "s1").First(&rec).Error; err != nil {
		t.Fatalf("load session record: %v", err)
	}
	if rec.RevokedAt == nil {
		t.Fatal("session record not marked revoked")
	}
}

func TestRemoteVerifierCreatesProfileLazily(t *testing.T) {
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req remoteVerifyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch {
		case req.ID == "down":
			w.WriteHeader(http.StatusBadGateway)
		case req.ID == "s7" && req.Secret == "pw":
			_ = json.NewEncoder(w).Encode(remoteVerifyResponse{Valid: true})
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer idp.Close()

	svc, _ := newTestService(t, func(*gorm.DB) Verifier { return NewRemoteVerifier(idp.URL, time.Second) })
	ctx := context.Background()

	ok, _ := svc.Exists(ctx, "s7")
	if ok {
		t.Fatal("profile must not exist before first login")
	}
	if _, err := svc.Login(ctx, "s7", "pw", "", ""); err != nil {
		t.Fatalf("login: %v", err)
	}
	if ok, _ := svc.Exists(ctx, "s7"); !ok {
		t.Fatal("profile not created on first login")
	}
	if _, err := svc.Login(ctx, "s7", "pw", "", ""); err != nil {
		t.Fatalf("second login: %v", err)
	}

	if _, err := svc.Login(ctx, "s7", "bad", "", ""); !errors.Is(err, apperr.ErrInvalidCredential) {
		t.Fatalf("expected invalid credential, got %v", err)
	}
	if _, err := svc.Login(ctx, "down", "pw", "", ""); !errors.Is(err, apperr.ErrTransientStore) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestHandlerLoginSetsCookieAndLogoutClears(t *testing.T) {
	svc, _ := newTestService(t, local)
	_, _ = svc.CreateUser(context.Background(), "s1", "secret-pass", "Sam")

	r := gin.New()
	NewHandler(svc, false).RegisterRoutes(r.Group(""))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"s1","password":"secret-pass"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Success bool    `json:"success"`
		Token   string  `json:"token"`
		Profile Profile `json:"profile"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if !body.Success || body.Token == "" || body.Profile.Name != "Sam" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	cookie := rec.Result().Cookies()
	if len(cookie) != 1 || cookie[0].Name != middleware.CookieName || !cookie[0].HttpOnly || cookie[0].Value != body.Token {
		t.Fatalf("unexpected cookie %+v", cookie)
	}
	if cookie[0].MaxAge <= 0 || cookie[0].MaxAge > 3600 {
		t.Fatalf("cookie max-age %d does not mirror the token lifetime", cookie[0].MaxAge)
	}

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(cookie[0])
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: %d %s", rec.Code, rec.Body.String())
	}
	cleared := rec.Result().Cookies()
	if len(cleared) != 1 || cleared[0].MaxAge >= 0 {
		t.Fatalf("cookie not cleared: %+v", cleared)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/logout", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("logout without credential: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"s1","password":"nope"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: %d", rec.Code)
	}
}
