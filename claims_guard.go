package auth

import (
	"fmt"
)

// checkClaimShape rejects tokens that verified but lack a claim we rely on.
func checkClaimShape(claims *Claims) error {
	if claims == nil {
		return missingClaim("claims")
	}

	switch {
	case claims.RegisteredClaims.Subject == "":
		return missingClaim("sub")
	case claims.Role == "":
		return missingClaim("role")
	case claims.Type == "":
		return missingClaim("typ")
	case !claims.Type.IsValid():
		return malformedClaim("typ")
	case claims.RegisteredClaims.ExpiresAt == nil:
		return missingClaim("exp")
	case claims.RegisteredClaims.ID == "":
		return missingClaim("jti")
	}

	return nil
}

func missingClaim(field string) error {
	return claimViolation(field, fmt.Sprintf("missing claim: %s", field))
}

func malformedClaim(field string) error {
	return claimViolation(field, fmt.Sprintf("ill typed claim: %s", field))
}

func claimViolation(field, message string) error {
	clone := ErrTokenMalformed.Clone()
	if clone == nil {
		return ErrTokenMalformed
	}
	clone.Message = message
	clone.Source = ErrTokenMalformed
	return clone.WithMetadata(map[string]any{"claim": field})
}
