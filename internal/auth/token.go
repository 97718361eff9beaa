package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/problem-service/internal/config"
	"github.com/spec-kit/problem-service/internal/domain"
)

const defaultIssuer = "problem-service"

// Subject is who a token speaks for. Staff tokens carry a role only as a hint;
// the stored staff role is authoritative.
type Subject struct {
	ID   string
	Type domain.SubjectType
	Role domain.StaffRole
}

// StaffSubject builds the subject for a staff member.
func StaffSubject(m *domain.StaffMember) Subject {
	return Subject{ID: m.ID, Type: domain.SubjectTypeStaff, Role: m.Role}
}

// ServiceSubject builds the subject for an automation account.
func ServiceSubject(name string, role domain.StaffRole) Subject {
	return Subject{ID: name, Type: domain.SubjectTypeService, Role: role}
}

// TokenManager issues and validates HS256 bearer tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewTokenManager builds a manager from auth settings.
func NewTokenManager(cfg config.AuthConfig) *TokenManager {
	ttl := time.Duration(cfg.AccessTokenTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = defaultIssuer
	}
	return &TokenManager{secret: []byte(cfg.JWTSecret), ttl: ttl, issuer: issuer, now: time.Now}
}

// Claims describes JWT payload.
type Claims struct {
	SubjectType domain.SubjectType `json:"subject_type"`
	Role        domain.StaffRole   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs a token for s and returns it with its expiry.
func (tm *TokenManager) Issue(s Subject) (string, time.Time, error) {
	if s.ID == "" {
		return "", time.Time{}, errors.New("token subject id is empty")
	}
	issuedAt := tm.now()
	expiresAt := issuedAt.Add(tm.ttl)
	claims := &Claims{
		SubjectType: s.Type,
		Role:        s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tm.issuer,
			Subject:   s.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates a token and returns its subject.
func (tm *TokenManager) Parse(tokenStr string) (Subject, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return Subject{}, err
	}
	if claims.Subject == "" {
		return Subject{}, errors.New("token without subject")
	}
	return Subject{ID: claims.Subject, Type: claims.SubjectType, Role: claims.Role}, nil
}
