package takehome

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TokenPayload is the data embedded in a bottle's QR label. The token is the
// base64url-encoded JSON of this struct; the bottle row stores the SHA-256
// hash of the token so a scanned label can be matched without indexing the
// full token text.
type TokenPayload struct {
	PatientID     uuid.UUID `json:"patient"`
	BottleNumber  int       `json:"bottle_number"`
	Medication    string    `json:"medication"`
	Dose          string    `json:"dose"`
	ScheduledDate string    `json:"scheduled_date"` // YYYY-MM-DD
	Nonce         string    `json:"nonce"`
	IssuedAt      time.Time `json:"issued_at"`
}

// GenerateToken encodes the payload as a QR token and returns the token
// together with its lookup hash. The nonce makes every token unique even for
// identical bottle parameters.
func GenerateToken(p TokenPayload) (token string, hash string, err error) {
	if p.Nonce == "" {
		nonce := make([]byte, 16)
		if _, err := rand.Read(nonce); err != nil {
			return "", "", fmt.Errorf("generate nonce: %w", err)
		}
		p.Nonce = hex.EncodeToString(nonce)
	}
	if p.IssuedAt.IsZero() {
		p.IssuedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", "", fmt.Errorf("marshal token payload: %w", err)
	}

	token = base64.RawURLEncoding.EncodeToString(raw)
	return token, HashToken(token), nil
}

// DecodeToken parses a scanned QR token back into its payload.
func DecodeToken(token string) (*TokenPayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var p TokenPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrInvalidToken
	}
	if p.PatientID == uuid.Nil || p.BottleNumber < 1 {
		return nil, ErrInvalidToken
	}
	return &p, nil
}

// HashToken returns the hex SHA-256 of a token, the form stored and looked up
// in the database.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
