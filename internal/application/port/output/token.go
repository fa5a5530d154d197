package output

import "browser-session/internal/domain/entity"

type TokenDecoder interface {
	Decode(intentToken string) (entity.IntentClaims, error)
}
