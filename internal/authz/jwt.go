package authz

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"

	"github.com/stanstork/invitation-api/internal/models"
)

// SignToken issues an HS256 bearer token for a user with site archetypes.
func SignToken(secret string, userID int64, roles []models.Archetype, ttl time.Duration) (string, error) {
	claims := make([]string, 0, len(roles))
	for _, role := range roles {
		claims = append(claims, string(role))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   strconv.FormatInt(userID, 10),
		"roles": claims,
		"exp":   time.Now().Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	return signed, errors.Wrap(err, "sign token")
}

// JWTMiddleware authenticates the bearer token and stores the identity on
// the request context. Requests without a valid token get 401.
func JWTMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(auth, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || !claims.VerifyExpiresAt(time.Now().Unix(), true) {
				http.Error(w, "Token expired", http.StatusUnauthorized)
				return
			}
			userID, ok := subjectID(claims)
			if !ok {
				http.Error(w, "Missing subject claim", http.StatusUnauthorized)
				return
			}
			roles, ok := rolesFromClaims(claims)
			if !ok {
				http.Error(w, "Invalid roles claim", http.StatusUnauthorized)
				return
			}

			ctx := WithIdentity(r.Context(), userID, roles)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func subjectID(claims jwt.MapClaims) (int64, bool) {
	switch v := claims["sub"].(type) {
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		return id, err == nil && id > 0
	case float64:
		id := int64(v)
		return id, id > 0 && float64(id) == v
	default:
		return 0, false
	}
}

func rolesFromClaims(claims jwt.MapClaims) ([]models.Archetype, bool) {
	raw, ok := claims["roles"]
	if !ok {
		return nil, true
	}

	var roles []models.Archetype
	switch v := raw.(type) {
	case []interface{}:
		for _, val := range v {
			str, ok := val.(string)
			if !ok || !models.IsValidArchetype(models.Archetype(str)) {
				return nil, false
			}
			roles = append(roles, models.Archetype(str))
		}
	case string:
		if !models.IsValidArchetype(models.Archetype(v)) {
			return nil, false
		}
		roles = []models.Archetype{models.Archetype(v)}
	default:
		return nil, false
	}
	return roles, true
}
