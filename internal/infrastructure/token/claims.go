package token

import (
	"errors"
	"fmt"
	"time"

	"browser-session/internal/application/port/output"
	"browser-session/internal/domain/entity"

	"github.com/golang-jwt/jwt/v5"
)

var _ output.TokenDecoder = (*Decoder)(nil)

var ErrInvalidToken = errors.New("invalid intent token")

const defaultScreenshotInterval = 5 * time.Second

type intentClaims struct {
	jwt.RegisteredClaims
	Record                    bool    `json:"record"`
	CaptureScreenshot         bool    `json:"captureScreenshot"`
	CaptureScreenshotInterval float64 `json:"captureScreenshotInterval"`
	SessionID                 string  `json:"sessionId"`
}

// Decoder reads intent-token claims without verifying the signature; the
// backend verifies the token on every request.
type Decoder struct {
	parser *jwt.Parser
}

func NewDecoder() *Decoder {
	return &Decoder{parser: jwt.NewParser()}
}

func (d *Decoder) Decode(intentToken string) (entity.IntentClaims, error) {
	claims := &intentClaims{}
	if _, _, err := d.parser.ParseUnverified(intentToken, claims); err != nil {
		return DefaultClaims(), fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	out := entity.IntentClaims{
		Record:             claims.Record,
		CaptureScreenshot:  claims.CaptureScreenshot,
		ScreenshotInterval: defaultScreenshotInterval,
		SessionID:          claims.SessionID,
	}
	if claims.CaptureScreenshotInterval > 0 {
		out.ScreenshotInterval = time.Duration(claims.CaptureScreenshotInterval * float64(time.Second))
	}
	return out, nil
}

// DefaultClaims is what a session runs with when the token cannot be read.
func DefaultClaims() entity.IntentClaims {
	return entity.IntentClaims{ScreenshotInterval: defaultScreenshotInterval}
}
