package dto

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type UpdateDetailsRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

func NewLoginRequestFromContext(ctx echo.Context) (*LoginRequest, error) {
	var body LoginRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	return &body, nil
}

func (r *LoginRequest) Validate() error {
	if strings.TrimSpace(r.Email) == "" && strings.TrimSpace(r.Username) == "" {
		return errors.New("email or username is required")
	}
	if r.Password == "" {
		return errors.New("password is required")
	}

	return nil
}

func NewRefreshRequestFromContext(ctx echo.Context) (*RefreshRequest, error) {
	var body RefreshRequest
	// The refresh token may arrive in the cookie alone, so an absent or
	// empty body is not an error here.
	if err := ctx.Bind(&body); err != nil {
		return &RefreshRequest{}, nil
	}

	return &body, nil
}

func NewChangePasswordRequestFromContext(ctx echo.Context) (*ChangePasswordRequest, error) {
	var body ChangePasswordRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	return &body, nil
}

func (r *ChangePasswordRequest) Validate() error {
	if r.OldPassword == "" || r.NewPassword == "" {
		return errors.New("old_password and new_password are required")
	}

	return nil
}

func NewUpdateDetailsRequestFromContext(ctx echo.Context) (*UpdateDetailsRequest, error) {
	var body UpdateDetailsRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	return &body, nil
}

func (r *UpdateDetailsRequest) Validate() error {
	if strings.TrimSpace(r.FullName) == "" && strings.TrimSpace(r.Email) == "" {
		return errors.New("full_name or email is required")
	}

	return nil
}
