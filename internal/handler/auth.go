package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/apperr"
	"github.com/iliyamo/event-booking/internal/auth"
	"github.com/iliyamo/event-booking/internal/config"
	"github.com/iliyamo/event-booking/internal/middleware"
	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/utils"
)

// UserStore is the account persistence used by AuthHandler and
// AdminHandler.
type UserStore interface {
	Create(ctx context.Context, u *model.User) (uint64, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	UpdateProfile(ctx context.Context, id uint64, name, email, phone string) error
	UpdatePassword(ctx context.Context, id uint64, hash string) error
	List(ctx context.Context, page, limit int) ([]model.User, int64, error)
}

// TokenStore persists refresh token hashes.
type TokenStore interface {
	StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error)
	Rotate(ctx context.Context, userID uint64, oldHash, newHash string, exp time.Time) error
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uint64) error
}

// AuthHandler bundles dependencies for account endpoints.
type AuthHandler struct {
	Cfg    config.Config
	Gate   *auth.Gate
	Users  UserStore
	Tokens TokenStore
}

func NewAuthHandler(cfg config.Config, gate *auth.Gate, u UserStore, t TokenStore) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Gate: gate, Users: u, Tokens: t}
}

// ----- DTOs -----

type registerReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Role     string `json:"role"` // user | organizer
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}
type profileReq struct {
	Name            *string `json:"name"`
	Email           *string `json:"email"`
	Phone           *string `json:"phone"`
	Password        string  `json:"password"`
	CurrentPassword string  `json:"current_password"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

// userView is the public shape of an account; the password hash never
// leaves the server.
type userView struct {
	ID        uint64     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone,omitempty"`
	Role      model.Role `json:"role"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
}

func newUserView(u model.User) userView {
	return userView{ID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone, Role: u.Role, IsActive: u.IsActive, CreatedAt: u.CreatedAt}
}

// issue creates an access token and a stored refresh token for u.
func (h *AuthHandler) issue(ctx context.Context, u model.User) (echo.Map, error) {
	access, err := auth.IssueAccessToken(h.Cfg.JWTSecret, u.ID, u.Role, time.Duration(h.Cfg.AccessTTLMin)*time.Minute)
	if err != nil {
		return nil, err
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return nil, err
	}
	if err := h.Tokens.StoreRefresh(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return nil, err
	}
	return echo.Map{
		"user":    newUserView(u),
		"access":  tokenPart{Token: access.Token, Expires: access.Exp},
		"refresh": tokenPart{Token: refresh.Raw, Expires: refresh.Exp}, // raw back to client
	}, nil
}

// Register creates a user or organizer account and returns tokens
// immediately. Admin accounts cannot be self-registered.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bind(c, &req); err != nil {
		return err
	}
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if name == "" || email == "" || !strings.Contains(email, "@") {
		return apperr.Invalid("name and a valid email are required")
	}
	role := model.RoleUser
	if req.Role != "" {
		r, ok := model.ParseRole(req.Role)
		if !ok || r == model.RoleAdmin {
			return apperr.Invalid("role must be user or organizer")
		}
		role = r
	}
	hash, err := utils.HashPassword(req.Password, h.Cfg.BcryptCost)
	if errors.Is(err, utils.ErrWeakPassword) {
		return apperr.Invalid(err.Error())
	}
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u := model.User{Name: name, Email: email, Phone: strings.TrimSpace(req.Phone), PasswordHash: hash, Role: role, IsActive: true}
	if _, err := h.Users.Create(ctx, &u); err != nil {
		return err
	}
	u.CreatedAt = time.Now().UTC()
	body, err := h.issue(ctx, u)
	if err != nil {
		return err
	}
	return success(c, http.StatusCreated, body)
}

// Login verifies credentials and returns a new token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return apperr.Invalid("email and password are required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.ErrUnauthenticated
	}
	if err != nil {
		return err
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return apperr.ErrUnauthenticated
	}
	if !u.IsActive {
		return apperr.ErrForbidden
	}
	body, err := h.issue(ctx, u)
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, body)
}

// Refresh exchanges a refresh token for a new pair. The old token is
// revoked in the same transaction, so it works once.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return err
	}
	raw := strings.TrimSpace(req.RefreshToken)
	if raw == "" {
		return apperr.Invalid("refresh_token required")
	}
	hash := utils.HashRefreshRaw(raw)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	uid, err := h.Tokens.ValidateRefresh(ctx, hash)
	if err != nil {
		return err
	}
	u, err := h.Users.GetByID(ctx, uid)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.ErrUnauthenticated
	}
	if err != nil {
		return err
	}
	if !u.IsActive {
		return apperr.ErrForbidden
	}

	access, err := auth.IssueAccessToken(h.Cfg.JWTSecret, u.ID, u.Role, time.Duration(h.Cfg.AccessTTLMin)*time.Minute)
	if err != nil {
		return err
	}
	next, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return err
	}
	if err := h.Tokens.Rotate(ctx, uid, hash, utils.HashRefreshRaw(next.Raw), next.Exp); err != nil {
		return err
	}
	return success(c, http.StatusOK, echo.Map{
		"user":    newUserView(u),
		"access":  tokenPart{Token: access.Token, Expires: access.Exp},
		"refresh": tokenPart{Token: next.Raw, Expires: next.Exp},
	})
}

// Logout revokes the refresh token in the body, or every refresh token of
// the bearer when no body token is given.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	_ = c.Bind(&req)
	raw := strings.TrimSpace(req.RefreshToken)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if raw != "" {
		hash := utils.HashRefreshRaw(raw)
		if _, err := h.Tokens.ValidateRefresh(ctx, hash); err != nil {
			return err
		}
		if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}

	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return apperr.Invalid("provide Authorization header or refresh_token")
	}
	s, err := h.Gate.AuthenticateHeader(header)
	if err != nil {
		return err
	}
	if err := h.Tokens.RevokeAllForUser(ctx, s.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Me echoes the identity carried by the access token.
func (h *AuthHandler) Me(c echo.Context) error {
	s, err := middleware.Subject(c)
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, echo.Map{"user_id": s.ID, "role": s.Role})
}

// Profile returns the caller's account.
func (h *AuthHandler) Profile(c echo.Context) error {
	s, err := middleware.Subject(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByID(ctx, s.ID)
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, echo.Map{"user": newUserView(u)})
}

// UpdateProfile edits name, email and phone. A new password is only
// accepted together with the correct current one.
func (h *AuthHandler) UpdateProfile(c echo.Context) error {
	s, err := middleware.Subject(c)
	if err != nil {
		return err
	}
	var req profileReq
	if err := bind(c, &req); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByID(ctx, s.ID)
	if err != nil {
		return err
	}
	if req.Name != nil {
		if u.Name = strings.TrimSpace(*req.Name); u.Name == "" {
			return apperr.Invalid("name cannot be empty")
		}
	}
	if req.Email != nil {
		if u.Email = strings.ToLower(strings.TrimSpace(*req.Email)); !strings.Contains(u.Email, "@") {
			return apperr.Invalid("a valid email is required")
		}
	}
	if req.Phone != nil {
		u.Phone = strings.TrimSpace(*req.Phone)
	}

	var newHash string
	if req.Password != "" {
		if req.CurrentPassword == "" {
			return apperr.Invalid("current_password is required to change the password")
		}
		if !utils.VerifyPassword(u.PasswordHash, req.CurrentPassword) {
			return apperr.Invalid("current password is incorrect")
		}
		newHash, err = utils.HashPassword(req.Password, h.Cfg.BcryptCost)
		if errors.Is(err, utils.ErrWeakPassword) {
			return apperr.Invalid(err.Error())
		}
		if err != nil {
			return err
		}
	}

	if err := h.Users.UpdateProfile(ctx, u.ID, u.Name, u.Email, u.Phone); err != nil {
		return err
	}
	if newHash != "" {
		if err := h.Users.UpdatePassword(ctx, u.ID, newHash); err != nil {
			return err
		}
		// other sessions must log in again with the new password
		if err := h.Tokens.RevokeAllForUser(ctx, u.ID); err != nil {
			return err
		}
	}
	return success(c, http.StatusOK, echo.Map{"message": "profile updated", "user": newUserView(u)})
}
