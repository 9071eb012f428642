// Package auth authenticates gateway API requests.
//
// Clients send `Authorization: Bearer <jwt>`. Tokens are HS256 signed with
// auth.jwt_secret, carry the principal id in "sub" and must name Issuer.
// They are minted with:
//
//	runstream-gateway token --sub alice --ttl 720h
//
// Middleware verifies the token and stores a *Principal in the request
// context; handlers read it with FromContext or PrincipalID. When no secret
// is configured the middleware runs in anonymous mode and every request is
// attributed to AnonymousID.
package auth
