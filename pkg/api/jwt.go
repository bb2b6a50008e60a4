package api

import (
	"context"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// CustomClaims contains custom data we want from the token.
type CustomClaims struct {
	Scope string `json:"scope"`
}

func (c CustomClaims) Validate(ctx context.Context) error {
	return nil
}

// JWTValidator implements broker.TokenValidator against the identity
// provider's JWKS endpoint. Validation is local after the cached keys are
// fetched, so Subscribe never blocks on the network in steady state.
type JWTValidator struct {
	validator *validator.Validator
}

func NewJWTValidator() *JWTValidator {
	issuerURL, err := url.Parse("https://" + os.Getenv("SCHOOLRUN_AUTH_DOMAIN") + "/")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse the issuer url")
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)

	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{os.Getenv("SCHOOLRUN_AUTH_AUDIENCE")},
		validator.WithCustomClaims(
			func() validator.CustomClaims {
				return &CustomClaims{}
			},
		),
		validator.WithAllowedClockSkew(time.Minute),
	)
	if err != nil {
		log.Fatal().Msg("Failed to set up the jwt validator")
	}

	return &JWTValidator{validator: jwtValidator}
}

// Validate checks the bearer token and returns the subject it belongs to.
func (v *JWTValidator) Validate(token string) (string, error) {
	claimsI, err := v.validator.ValidateToken(context.Background(), token)
	if err != nil {
		return "", err
	}

	claims := claimsI.(*validator.ValidatedClaims)

	return claims.RegisteredClaims.Subject, nil
}

// EnsureValidToken is a middleware that will check the validity of the JWT on
// REST requests. The bearer token arrives in the Authorization header, or in
// the token query parameter for clients that cannot set headers.
func EnsureValidToken(tokenValidator interface {
	Validate(token string) (string, error)
}) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		jwtToken := c.Query("token")

		if authHeader := c.Get("Authorization"); authHeader != "" {
			jwtToken = strings.TrimPrefix(authHeader, "Bearer ")
		}

		if jwtToken == "" {
			c.SendStatus(fiber.StatusUnauthorized)
			return c.JSON(fiber.Map{
				"error": "An auth token is required",
			})
		}

		userID, jwtErr := tokenValidator.Validate(jwtToken)

		if jwtErr == nil {
			c.Locals("account_userid", userID)

			return c.Next()
		} else {
			c.SendStatus(fiber.StatusUnauthorized)
			return c.JSON(fiber.Map{
				"error": "Invalid auth token",
			})
		}
	}
}
