package httpapi

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidOTP     = errors.New("invalid or expired code")
	ErrTooManyGuesses = errors.New("too many wrong codes, request a new one")
	ErrInvalidMobile  = errors.New("mobile number is required")
)

// otpGuessLimit caps wrong guesses per issued code before it is revoked.
const otpGuessLimit = 5

// AuthManager issues one-time login codes keyed by mobile number and mints
// bearer tokens once a code verifies. Codes are stored bcrypt-hashed; the
// plaintext exists only on the wire to the delivery channel.
type AuthManager struct {
	mu       sync.Mutex
	secret   []byte
	tokenTTL time.Duration
	otpTTL   time.Duration
	codes    map[string]otpEntry
	now      func() time.Time
}

type otpEntry struct {
	hash      string
	expiresAt time.Time
	guesses   int
}

type storefrontClaims struct {
	jwtlib.RegisteredClaims
}

func NewAuthManager(secret string, tokenTTL time.Duration, otpTTL time.Duration) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if otpTTL <= 0 {
		otpTTL = 5 * time.Minute
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		otpTTL:   otpTTL,
		codes:    make(map[string]otpEntry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RequestOTP issues a fresh six-digit code for the mobile, replacing any
// outstanding one. The plaintext code is returned for the delivery channel.
func (a *AuthManager) RequestOTP(mobile string) (string, error) {
	mobile = strings.TrimSpace(mobile)
	if mobile == "" {
		return "", ErrInvalidMobile
	}

	code, err := generateOTP()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.pruneLocked()
	a.codes[mobile] = otpEntry{hash: string(hash), expiresAt: a.now().Add(a.otpTTL)}
	a.mu.Unlock()

	return code, nil
}

// VerifyOTP checks a guess against the outstanding code. A correct guess
// consumes the code; repeated wrong guesses revoke it.
func (a *AuthManager) VerifyOTP(mobile string, code string) error {
	mobile = strings.TrimSpace(mobile)
	code = strings.TrimSpace(code)
	if mobile == "" || code == "" {
		return ErrInvalidOTP
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.codes[mobile]
	if !ok || a.now().After(entry.expiresAt) {
		delete(a.codes, mobile)
		return ErrInvalidOTP
	}
	if entry.guesses >= otpGuessLimit {
		delete(a.codes, mobile)
		return ErrTooManyGuesses
	}

	if bcrypt.CompareHashAndPassword([]byte(entry.hash), []byte(code)) != nil {
		entry.guesses++
		a.codes[mobile] = entry
		return ErrInvalidOTP
	}

	delete(a.codes, mobile)
	return nil
}

// IssueToken mints a bearer token whose subject is the verified mobile.
func (a *AuthManager) IssueToken(mobile string) (string, time.Time, error) {
	expiresAt := a.now().Add(a.tokenTTL)
	claims := storefrontClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   mobile,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "storefront",
		},
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ParseToken validates a bearer token and returns its mobile subject.
func (a *AuthManager) ParseToken(tokenStr string) (string, error) {
	claims := &storefrontClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return "", errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("invalid token subject")
	}
	return sub, nil
}

// pruneLocked drops expired codes so the map does not grow with abandoned
// login attempts.
func (a *AuthManager) pruneLocked() {
	now := a.now()
	for mobile, entry := range a.codes {
		if now.After(entry.expiresAt) {
			delete(a.codes, mobile)
		}
	}
}

func generateOTP() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	n := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	return fmt.Sprintf("%06d", n%1000000), nil
}
