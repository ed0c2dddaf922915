package common

// AuthorizationHeaderName is the HTTP header and gRPC metadata key carrying
// the access token as "Bearer <token>".
const AuthorizationHeaderName = "authorization"

// BearerScheme prefixes the access token in AuthorizationHeaderName.
const BearerScheme = "Bearer"

// TokenType is returned to clients alongside a freshly minted access token.
const TokenType = "bearer"
