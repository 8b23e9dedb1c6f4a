package domain

// Request/response types for the identity endpoints.

// SignUpRequest creates an account plus the initial profile document.
type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginRequest signs in with an email/password credential.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// FederatedLoginRequest signs in with an ID token issued by an external
// identity provider.
type FederatedLoginRequest struct {
	IDToken string `json:"idToken"`
}

// RefreshRequest exchanges a refresh token for a fresh token pair.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Session is the result of any successful sign-in flow.
type Session struct {
	UID          string `json:"uid"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PhotoURL     string `json:"photoURL"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}
