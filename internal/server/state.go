package server

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	stateCookieName  = "perch_oauth_state"
	stateTTL         = 5 * time.Minute
	stateValueLength = 32
)

var errMissingStateSecret = errors.New("state secret required")

// stateCodec mints and verifies the single-use anti-forgery correlator bound
// to the browser for the redirect round-trip. The value is random; the
// signature ties it to this process so a forged callback cannot mint its own.
type stateCodec struct {
	secret []byte
}

func newStateCodec(secret []byte) (*stateCodec, error) {
	if len(secret) == 0 {
		return nil, errMissingStateSecret
	}
	return &stateCodec{secret: append([]byte(nil), secret...)}, nil
}

func (s *stateCodec) newState() (string, error) {
	value := make([]byte, stateValueLength)
	if _, err := rand.Read(value); err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(value)
	return encoded + "." + s.sign(encoded), nil
}

func (s *stateCodec) validate(state string) bool {
	value, signature, found := strings.Cut(state, ".")
	if !found || value == "" || signature == "" {
		return false
	}
	expected := s.sign(value)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func (s *stateCodec) sign(value string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func setStateCookie(c *gin.Context, state string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(stateTTL.Seconds()),
	})
}

func clearStateCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
