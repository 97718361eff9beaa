package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/events"
	"github.com/spec-kit/problem-service/internal/repository"
	apperrors "github.com/spec-kit/problem-service/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	SubjectType domain.SubjectType
	SubjectID   string
	Staff       *domain.StaffMember
	Role        domain.StaffRole
}

// Actor attributes changes made by the caller.
func (p *Principal) Actor() events.Actor {
	if p == nil || p.SubjectType != domain.SubjectTypeStaff {
		return events.SystemActor()
	}
	return events.StaffActor(p.SubjectID)
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens *TokenManager
	staff  repository.StaffRepository
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, staff repository.StaffRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, staff: staff}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	subject, err := m.tokens.Parse(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	principal := &Principal{SubjectType: subject.Type, SubjectID: subject.ID, Role: subject.Role}

	switch subject.Type {
	case domain.SubjectTypeStaff:
		staff, err := m.staff.GetByID(c.UserContext(), subject.ID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewUnauthorized("staff not found")
			}
			return apperrors.MapError(err)
		}
		if !staff.Active {
			return apperrors.NewUnauthorized("staff inactive")
		}
		principal.Staff = staff
		principal.Role = staff.Role
	case domain.SubjectTypeService:
		if subject.Role == "" {
			return apperrors.NewUnauthorized("service token without role")
		}
	default:
		return apperrors.NewUnauthorized("unknown subject")
	}

	c.Locals(principalKey, principal)
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
