// Package service — IdentityService handles sign-up, credential and
// federated sign-in, JWT token management and sign-out, and publishes the
// current-identity-changed stream the synchronized store consumes.
// ProfileService handles profile reads and rate-limited profile updates.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/port"
	"github.com/evvofinance/evvo-sync-go/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var identityTracer = otel.Tracer("service/identity")

const (
	bcryptCost     = 12
	minPasswordLen = 6

	// identityNamespace is the reserved owner under which account and
	// refresh-token documents live. User data namespaces are UIDs, which
	// never collide with it.
	identityNamespace = "_identity"

	collectionAccounts = "accounts"
	collectionRefresh  = "refresh_tokens"
)

// IdentityService orchestrates the identity flows.
type IdentityService struct {
	store           port.Store
	jwtSecret       []byte
	federatedSecret []byte
	accessTTL       time.Duration
	refreshTTL      time.Duration
	logger          *zap.Logger

	// single-consumer stream; the synchronized store's Run loop drains it.
	events chan port.IdentityEvent
}

// NewIdentityService creates a new identity service.
func NewIdentityService(store port.Store, jwtSecret, federatedSecret string, accessTTL, refreshTTL time.Duration, logger *zap.Logger) *IdentityService {
	return &IdentityService{
		store:           store,
		jwtSecret:       []byte(jwtSecret),
		federatedSecret: []byte(federatedSecret),
		accessTTL:       accessTTL,
		refreshTTL:      refreshTTL,
		logger:          logger,
		events:          make(chan port.IdentityEvent, 8),
	}
}

// Events returns the current-identity-changed stream. A zero UID means
// signed out.
func (s *IdentityService) Events() <-chan port.IdentityEvent {
	return s.events
}

// announce publishes an identity change without ever blocking a request.
// Only the latest identity matters to the subscriber, so when the buffer is
// full the oldest queued event is discarded to make room.
func (s *IdentityService) announce(ev port.IdentityEvent) {
	for {
		select {
		case s.events <- ev:
			return
		default:
		}
		select {
		case <-s.events:
		default:
		}
	}
}

// ============================================================
// SignUp — POST /v1/auth/signup
// ============================================================

func (s *IdentityService) SignUp(ctx context.Context, req *domain.SignUpRequest) (*domain.Session, error) {
	ctx, span := identityTracer.Start(ctx, "IdentityService.SignUp")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !strings.Contains(email, "@") {
		return nil, &domain.ErrValidation{Field: "email", Message: "invalid email address"}
	}
	if len(req.Password) < minPasswordLen {
		return nil, &domain.ErrValidation{Field: "password", Message: fmt.Sprintf("password must be at least %d characters", minPasswordLen)}
	}

	existing, err := s.findAccountByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check existing account: %w", err)
	}
	if existing != nil {
		return nil, &domain.ErrConflict{Message: "email already registered"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	uid, err := s.store.Add(ctx, identityNamespace, collectionAccounts, map[string]any{
		"email":        email,
		"passwordHash": string(hash),
		"provider":     "password",
		"createdAt":    time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	profile, err := s.bootstrapProfile(ctx, uid, email, req.Name, "")
	if err != nil {
		return nil, err
	}

	s.logger.Info("account created", zap.String("uid", uid), zap.String("email", email))
	return s.openSession(ctx, uid, profile, true)
}

// ============================================================
// Login — POST /v1/auth/login
// ============================================================

func (s *IdentityService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.Session, error) {
	ctx, span := identityTracer.Start(ctx, "IdentityService.Login")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(req.Email))
	acct, err := s.findAccountByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if acct == nil || acct.passwordHash == "" {
		return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.passwordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("login: failed password attempt", zap.String("email", email))
		return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
	}

	profile, err := s.bootstrapProfile(ctx, acct.uid, acct.email, "", "")
	if err != nil {
		return nil, err
	}

	s.logger.Info("signed in", zap.String("uid", acct.uid))
	return s.openSession(ctx, acct.uid, profile, true)
}

// ============================================================
// FederatedLogin — POST /v1/auth/federated
// ============================================================

// FederatedLogin accepts an ID token minted by the external identity
// provider, provisions the account on first sight, and opens a session.
func (s *IdentityService) FederatedLogin(ctx context.Context, req *domain.FederatedLoginRequest) (*domain.Session, error) {
	ctx, span := identityTracer.Start(ctx, "IdentityService.FederatedLogin")
	defer span.End()

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(req.IDToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.federatedSecret, nil
	})
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid identity token"}
	}

	email, _ := claims["email"].(string)
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, &domain.ErrUnauthorized{Message: "identity token carries no email"}
	}
	name, _ := claims["name"].(string)
	picture, _ := claims["picture"].(string)
	span.SetAttributes(attribute.String("email", email))

	acct, err := s.findAccountByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if acct == nil {
		uid, err := s.store.Add(ctx, identityNamespace, collectionAccounts, map[string]any{
			"email":     email,
			"provider":  "federated",
			"createdAt": time.Now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
		acct = &account{uid: uid, email: email}
		s.logger.Info("federated account provisioned", zap.String("uid", uid), zap.String("email", email))
	}

	profile, err := s.bootstrapProfile(ctx, acct.uid, acct.email, name, picture)
	if err != nil {
		return nil, err
	}

	s.logger.Info("signed in via federated identity", zap.String("uid", acct.uid))
	return s.openSession(ctx, acct.uid, profile, true)
}

// ============================================================
// Refresh — POST /v1/auth/refresh
// ============================================================

func (s *IdentityService) Refresh(ctx context.Context, req *domain.RefreshRequest) (*domain.Session, error) {
	ctx, span := identityTracer.Start(ctx, "IdentityService.Refresh")
	defer span.End()

	tokenHash := hashToken(req.RefreshToken)
	docs, err := s.store.Find(ctx, port.Query{
		Owner:      identityNamespace,
		Collection: collectionRefresh,
		Filters:    []port.Filter{{Field: "tokenHash", Value: tokenHash}},
	})
	if err != nil {
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	if len(docs) == 0 {
		return nil, &domain.ErrUnauthorized{Message: "invalid refresh token"}
	}

	stored := docs[0]
	uid, _ := stored.Data["uid"].(string)
	expiresAt := docFieldTime(stored.Data["expiresAt"])

	// Rotation: the presented token is spent either way.
	_ = s.store.Delete(ctx, identityNamespace, collectionRefresh, stored.ID)

	if expiresAt.Before(time.Now()) {
		s.logger.Warn("refresh: expired token used", zap.String("uid", uid))
		return nil, &domain.ErrUnauthorized{Message: "refresh token expired"}
	}

	profile, err := s.bootstrapProfile(ctx, uid, "", "", "")
	if err != nil {
		return nil, err
	}
	// Same identity, so no announcement: re-scoping the live subscriptions
	// on every token rotation would churn them for nothing.
	return s.openSession(ctx, uid, profile, false)
}

// ============================================================
// Logout — POST /v1/auth/logout
// ============================================================

// Logout revokes every refresh token for the identity and announces the
// sign-out on the event stream, which deactivates the synchronized store.
func (s *IdentityService) Logout(ctx context.Context, uid string) error {
	ctx, span := identityTracer.Start(ctx, "IdentityService.Logout")
	defer span.End()

	docs, err := s.store.Find(ctx, port.Query{
		Owner:      identityNamespace,
		Collection: collectionRefresh,
		Filters:    []port.Filter{{Field: "uid", Value: uid}},
	})
	if err != nil {
		return fmt.Errorf("list refresh tokens: %w", err)
	}
	if len(docs) > 0 {
		err = s.store.RunBatch(ctx, identityNamespace, func(b port.Batch) {
			for _, d := range docs {
				b.Delete(collectionRefresh, d.ID)
			}
		})
		if err != nil {
			return fmt.Errorf("revoke refresh tokens: %w", err)
		}
	}

	s.announce(port.IdentityEvent{})
	s.logger.Info("signed out", zap.String("uid", uid))
	return nil
}

// ============================================================
// ValidateAccessToken — used by middleware
// ============================================================

// JWTClaims represents the custom claims in access tokens.
type JWTClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

func (s *IdentityService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Type != "access" {
		return nil, &domain.ErrUnauthorized{Message: "invalid token type"}
	}
	return claims, nil
}

// ============================================================
// Internal helpers
// ============================================================

type account struct {
	uid          string
	email        string
	passwordHash string
}

func (s *IdentityService) findAccountByEmail(ctx context.Context, email string) (*account, error) {
	docs, err := s.store.Find(ctx, port.Query{
		Owner:      identityNamespace,
		Collection: collectionAccounts,
		Filters:    []port.Filter{{Field: "email", Value: email}},
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	d := docs[0]
	hash, _ := d.Data["passwordHash"].(string)
	mail, _ := d.Data["email"].(string)
	return &account{uid: d.ID, email: mail, passwordHash: hash}, nil
}

// bootstrapProfile fetches the profile, creating it on first sign-in. When
// the profile can neither be fetched nor created the sign-in is abandoned
// and a sign-out is announced, so no session runs without a profile.
func (s *IdentityService) bootstrapProfile(ctx context.Context, uid, email, name, photoURL string) (*domain.UserProfile, error) {
	profile, err := EnsureProfile(ctx, s.store, uid, email, name, photoURL)
	if err != nil {
		s.logger.Error("profile bootstrap failed, abandoning sign-in",
			zap.String("uid", uid),
			zap.Error(err),
		)
		s.announce(port.IdentityEvent{})
		return nil, fmt.Errorf("bootstrap profile: %w", err)
	}
	return profile, nil
}

// openSession issues the token pair and, when announce is set, publishes
// the identity change.
func (s *IdentityService) openSession(ctx context.Context, uid string, profile *domain.UserProfile, announce bool) (*domain.Session, error) {
	accessToken, err := s.signAccessToken(uid, profile.Email)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, refreshHash, err := generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	_, err = s.store.Add(ctx, identityNamespace, collectionRefresh, map[string]any{
		"uid":       uid,
		"tokenHash": refreshHash,
		"expiresAt": time.Now().Add(s.refreshTTL).UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	if announce {
		s.announce(port.IdentityEvent{UID: uid})
	}

	return &domain.Session{
		UID:          uid,
		Name:         profile.Name,
		Email:        profile.Email,
		PhotoURL:     profile.PhotoURL,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}

func (s *IdentityService) signAccessToken(uid, email string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Sub:   uid,
		Email: email,
		Type:  "access",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			Issuer:    "evvo-sync",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func generateRefreshToken() (raw string, hashed string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(b)
	hashed = hashToken(raw)
	return raw, hashed, nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func docFieldTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// EnsureProfile returns the identity's profile document, creating it when
// absent. Creation is idempotent: concurrent first sign-ins converge on a
// single document keyed by the UID.
func EnsureProfile(ctx context.Context, store port.Store, uid, email, name, photoURL string) (*domain.UserProfile, error) {
	var profile domain.UserProfile
	err := store.RunAtomic(ctx, uid, func(tx port.Tx) error {
		doc, err := tx.Get(repository.CollectionProfiles, uid)
		if err == nil {
			profile = repository.DecodeProfile(*doc)
			return nil
		}
		var notFound *domain.ErrNotFound
		if !errors.As(err, &notFound) {
			return err
		}

		if name == "" {
			name = "User"
		}
		if photoURL == "" {
			photoURL = defaultPhotoURL(email, uid)
		}
		now := time.Now().UTC()
		fields := map[string]any{
			"uid":                 uid,
			"name":                name,
			"email":               email,
			"createdAt":           now,
			"photoURL":            photoURL,
			"usernameUpdateCount": 0,
			"lastUsernameUpdate":  time.Unix(0, 0).UTC(),
		}
		tx.Set(repository.CollectionProfiles, uid, fields)
		profile = repository.DecodeProfile(port.Document{ID: uid, Data: fields})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// defaultPhotoURL builds the generated-avatar URL used when an identity has
// no picture of its own.
func defaultPhotoURL(email, uid string) string {
	seed := email
	if seed == "" {
		seed = uid
	}
	return "https://api.dicebear.com/8.x/adventurer-neutral/svg?seed=" + url.QueryEscape(seed)
}
