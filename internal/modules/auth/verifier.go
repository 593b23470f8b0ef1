package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/campuslink/core/internal/models"
	"github.com/campuslink/core/internal/pkg/apperr"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Verifier checks an identity secret. It answers only yes or no; profile data is
// kept by the service.
type Verifier interface {
	Verify(ctx context.Context, id, secret string) (bool, error)
}

// dummyHash is compared against when the account does not exist, so unknown and
// known usernames cost the same.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("campus-dummy-password"), bcrypt.MinCost)

// LocalVerifier checks bcrypt hashes stored in the users table.
type LocalVerifier struct{ db *gorm.DB }

func NewLocalVerifier(db *gorm.DB) *LocalVerifier { return &LocalVerifier{db: db} }

func (v *LocalVerifier) Verify(ctx context.Context, id, secret string) (bool, error) {
	var u models.UserModel
	err := v.db.WithContext(ctx).Select("id, password").Where("username = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && u.Password == "") {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
		return false, nil
	}
	if err != nil {
		return false, apperr.Transient("verify local", err)
	}
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(secret)) == nil, nil
}

// RemoteVerifier asks the campus identity service. It POSTs {"id","secret"} and
// expects {"valid": bool}; 401 and 403 also mean "not valid".
type RemoteVerifier struct {
	url    string
	client *http.Client
}

func NewRemoteVerifier(url string, timeout time.Duration) *RemoteVerifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteVerifier{url: strings.TrimSpace(url), client: &http.Client{Timeout: timeout}}
}

type remoteVerifyRequest struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

type remoteVerifyResponse struct {
	Valid bool `json:"valid"`
}

func (v *RemoteVerifier) Verify(ctx context.Context, id, secret string) (bool, error) {
	body, err := json.Marshal(remoteVerifyRequest{ID: id, Secret: secret})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, apperr.Transient("verify remote", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	case resp.StatusCode >= 500:
		return false, apperr.Transient("verify remote", fmt.Errorf("identity service returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("identity service returned %d", resp.StatusCode)
	}

	var out remoteVerifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return false, fmt.Errorf("decode identity response: %w", err)
	}
	return out.Valid, nil
}
