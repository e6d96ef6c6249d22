package controller

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cliphive/ms-go-account/app/dto"
	"github.com/cliphive/ms-go-account/app/entity"
	"github.com/cliphive/ms-go-account/app/middleware"
	"github.com/cliphive/ms-go-account/app/service"
	"github.com/cliphive/ms-go-account/config"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const (
	accessTokenCookie  = middleware.AccessTokenCookie
	refreshTokenCookie = "refreshToken"
)

type AccountController struct {
	accounts   service.AccountService
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewAccountController(accounts service.AccountService, cfg *config.Config) *AccountController {
	return &AccountController{
		accounts:   accounts,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}
}

func (c *AccountController) Register(ctx echo.Context) error {
	in := &service.RegisterInput{
		FullName: ctx.FormValue("fullname"),
		Email:    ctx.FormValue("email"),
		Password: ctx.FormValue("password"),
		Username: ctx.FormValue("username"),
	}

	avatarFile, err := ctx.FormFile("avatar")
	if err != nil {
		logrus.WithField("username", in.Username).Debug("Register request without avatar")
		return errorJSON(ctx, http.StatusBadRequest, "avatar is required")
	}

	in.AvatarPath, err = stageUpload(avatarFile)
	if err != nil {
		logrus.WithError(err).Error("Failed to stage avatar upload")
		return errorJSON(ctx, http.StatusInternalServerError, "internal server error")
	}
	defer removeStaged(in.AvatarPath)

	if coverFile, coverErr := ctx.FormFile("coverImage"); coverErr == nil {
		in.CoverImagePath, err = stageUpload(coverFile)
		if err != nil {
			logrus.WithError(err).Error("Failed to stage cover image upload")
			return errorJSON(ctx, http.StatusInternalServerError, "internal server error")
		}
		defer removeStaged(in.CoverImagePath)
	}

	logrus.WithFields(logrus.Fields{"email": in.Email, "username": in.Username}).Info("Register request received")
	user, err := c.accounts.Register(ctx.Request().Context(), in)
	if err != nil {
		if errors.Is(err, service.ErrUserExists) {
			logrus.WithField("email", in.Email).Warn("Register failed: user already exists")
			return errorJSON(ctx, http.StatusConflict, "user with email or username already exists")
		}
		if errors.Is(err, service.ErrMissingField) || errors.Is(err, service.ErrMissingAvatar) || errors.Is(err, service.ErrUploadFailed) {
			logrus.WithField("email", in.Email).Warn("Register failed: invalid input")
			return errorJSON(ctx, http.StatusBadRequest, err.Error())
		}
		logrus.WithError(err).WithField("email", in.Email).Error("Register failed")
		return errorJSON(ctx, http.StatusInternalServerError, "internal server error")
	}

	logrus.WithFields(logrus.Fields{"user_id": user.ID, "username": user.Username}).Info("User registered")
	return successJSON(ctx, http.StatusCreated, dto.NewUserResponse(user), "user created successfully")
}

func (c *AccountController) Login(ctx echo.Context) error {
	req, err := dto.NewLoginRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind login request")
		return errorJSON(ctx, http.StatusBadRequest, "invalid request body")
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Login validation failed")
		return errorJSON(ctx, http.StatusBadRequest, err.Error())
	}

	logrus.WithFields(logrus.Fields{"email": req.Email, "username": req.Username}).Info("Login request received")
	result, err := c.accounts.Login(ctx.Request().Context(), &service.LoginInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		if errors.Is(err, service.ErrMissingIdentifier) {
			return errorJSON(ctx, http.StatusBadRequest, err.Error())
		}
		if errors.Is(err, service.ErrUserNotFound) {
			logrus.WithField("email", req.Email).Warn("Login failed: user not found")
			return errorJSON(ctx, http.StatusNotFound, "user not found")
		}
		if errors.Is(err, service.ErrInvalidCredentials) {
			logrus.WithField("email", req.Email).Warn("Login failed: invalid credentials")
			return errorJSON(ctx, http.StatusUnauthorized, "invalid credentials")
		}
		logrus.WithError(err).WithField("email", req.Email).Error("Login failed")
		return errorJSON(ctx, http.StatusInternalServerError, "internal server error")
	}

	c.setAuthCookies(ctx, result.Tokens.AccessToken, result.Tokens.RefreshToken)

	logrus.WithField("user_id", result.User.ID).Info("Login successful")
	return successJSON(ctx, http.StatusOK, &dto.LoginData{
		User:         dto.NewUserResponse(result.User),
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		ExpiresIn:    result.Tokens.ExpiresIn,
	}, "user logged in successfully")
}

func (c *AccountController) Logout(ctx echo.Context) error {
	user := middleware.UserFromContext(ctx)
	if user == nil {
		logrus.Warn("Logout failed: missing user in context")
		return errorJSON(ctx, http.StatusUnauthorized, "unauthorized")
	}

	if err := c.accounts.Logout(ctx.Request().Context(), user.ID); err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("Logout failed")
		return errorJSON(ctx, http.StatusInternalServerError, "internal server error")
	}

	c.clearAuthCookies(ctx)

	logrus.WithField("user_id", user.ID).Info("Logout successful")
	return successJSON(ctx, http.StatusOK, nil, "user logged out successfully")
}

func (c *AccountController) Refresh(ctx echo.Context) error {
	refreshToken := ""
	if cookie, err := ctx.Cookie(refreshTokenCookie); err == nil && cookie.Value != "" {
		refreshToken = cookie.Value
	} else if req, err := dto.NewRefreshRequestFromContext(ctx); err == nil {
		refreshToken = req.RefreshToken
	}

	pair, err := c.accounts.Refresh(ctx.Request().Context(), refreshToken)
	if err != nil {
		if errors.Is(err, service.ErrMissingRefreshToken) ||
			errors.Is(err, service.ErrInvalidRefreshToken) ||
			errors.Is(err, service.ErrStaleRefreshToken) {
			logrus.Warn("Refresh failed: invalid, stale or missing refresh token")
			return errorJSON(ctx, http.StatusUnauthorized, "invalid or expired refresh token")
		}
		if errors.Is(err, service.ErrUserNotFound) {
			logrus.Warn("Refresh failed: user not found")
			return errorJSON(ctx, http.StatusNotFound, "user not found")
		}
		logrus.WithError(err).Error("Refresh failed")
		return errorJSON(ctx, http.StatusInternalServerError, "internal server error")
	}

	c.setAuthCookies(ctx, pair.AccessToken, pair.RefreshToken)

	logrus.Info("Refresh successful")
	return successJSON(ctx, http.StatusOK, &dto.RefreshData{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, "tokens refreshed successfully")
}

func (c *AccountController) Me(ctx echo.Context) error {
	user := middleware.UserFromContext(ctx)
	if user == nil {
		return errorJSON(ctx, http.StatusUnauthorized, "unauthorized")
	}

	return successJSON(ctx, http.StatusOK, dto.NewUserResponse(user), "current user fetched successfully")
}

func (c *AccountController) ChangePassword(ctx echo.Context) error {
	req, err := dto.NewChangePasswordRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind change password request")
		return errorJSON(ctx, http.StatusBadRequest, "invalid request body")
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Change password validation failed")
		return errorJSON(ctx, http.StatusBadRequest, err.Error())
	}

	user := middleware.UserFromContext(ctx)
	if user == nil {
		return errorJSON(ctx, http.StatusUnauthorized, "unauthorized")
	}

	logrus.WithField("user_id", user.ID).Info("Change password request received")
	if err = c.accounts.ChangePassword(ctx.Request().Context(), user.ID, req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, service.ErrPasswordMismatch) {
			logrus.WithField("user_id", user.ID).Warn("Change password failed: current password mismatch")
			return errorJSON(ctx, http.StatusUnauthorized, "current password is incorrect")
		}
		if errors.Is(err, service.ErrMissingField) {
			return errorJSON(ctx, http.StatusBadRequest, err.Error())
		}
		if errors.Is(err, service.ErrUserNotFound) {
			return errorJSON(ctx, http.StatusNotFound, "user not found")
		}
		logrus.WithError(err).WithField("user_id", user.ID).Error("Change password failed")
		return errorJSON(ctx, http.StatusInternalServerError, "internal server error")
	}

	logrus.WithField("user_id", user.ID).Info("Password changed")
	return successJSON(ctx, http.StatusOK, nil, "password changed successfully")
}

func (c *AccountController) UpdateDetails(ctx echo.Context) error {
	req, err := dto.NewUpdateDetailsRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind update details request")
		return errorJSON(ctx, http.StatusBadRequest, "invalid request body")
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Update details validation failed")
		return errorJSON(ctx, http.StatusBadRequest, err.Error())
	}

	user := middleware.UserFromContext(ctx)
	if user == nil {
		return errorJSON(ctx, http.StatusUnauthorized, "unauthorized")
	}

	updated, err := c.accounts.UpdateDetails(ctx.Request().Context(), user.ID, req.FullName, req.Email)
	if err != nil {
		if errors.Is(err, service.ErrUserExists) {
			logrus.WithField("user_id", user.ID).Warn("Update details failed: email already taken")
			return errorJSON(ctx, http.StatusConflict, "email is already in use")
		}
		if errors.Is(err, service.ErrMissingField) {
			return errorJSON(ctx, http.StatusBadRequest, err.Error())
		}
		if errors.Is(err, service.ErrUserNotFound) {
			return errorJSON(ctx, http.StatusNotFound, "user not found")
		}
		logrus.WithError(err).WithField("user_id", user.ID).Error("Update details failed")
		return errorJSON(ctx, http.StatusInternalServerError, "internal server error")
	}

	logrus.WithField("user_id", user.ID).Info("Account details updated")
	return successJSON(ctx, http.StatusOK, dto.NewUserResponse(updated), "account details updated successfully")
}

func (c *AccountController) UpdateAvatar(ctx echo.Context) error {
	return c.updateMedia(ctx, "avatar", c.accounts.UpdateAvatar, "avatar updated successfully")
}

func (c *AccountController) UpdateCoverImage(ctx echo.Context) error {
	return c.updateMedia(ctx, "coverImage", c.accounts.UpdateCoverImage, "cover image updated successfully")
}

func (c *AccountController) updateMedia(
	ctx echo.Context,
	field string,
	update func(reqCtx context.Context, userID, localPath string) (*entity.User, error),
	message string,
) error {
	user := middleware.UserFromContext(ctx)
	if user == nil {
		return errorJSON(ctx, http.StatusUnauthorized, "unauthorized")
	}

	file, err := ctx.FormFile(field)
	if err != nil {
		logrus.WithField("user_id", user.ID).Debug("Media update without file")
		return errorJSON(ctx, http.StatusBadRequest, field+" file is required")
	}

	localPath, err := stageUpload(file)
	if err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("Failed to stage media upload")
		return errorJSON(ctx, http.StatusInternalServerError, "internal server error")
	}
	defer removeStaged(localPath)

	updated, err := update(ctx.Request().Context(), user.ID, localPath)
	if err != nil {
		if errors.Is(err, service.ErrUploadFailed) || errors.Is(err, service.ErrMissingAvatar) || errors.Is(err, service.ErrMissingField) {
			logrus.WithField("user_id", user.ID).Warn("Media upload failed")
			return errorJSON(ctx, http.StatusBadRequest, "error while uploading "+field)
		}
		if errors.Is(err, service.ErrUserNotFound) {
			return errorJSON(ctx, http.StatusNotFound, "user not found")
		}
		logrus.WithError(err).WithField("user_id", user.ID).Error("Media update failed")
		return errorJSON(ctx, http.StatusInternalServerError, "internal server error")
	}

	logrus.WithFields(logrus.Fields{"user_id": user.ID, "field": field}).Info("Media updated")
	return successJSON(ctx, http.StatusOK, dto.NewUserResponse(updated), message)
}

func (c *AccountController) setAuthCookies(ctx echo.Context, accessToken, refreshToken string) {
	ctx.SetCookie(newAuthCookie(accessTokenCookie, accessToken, c.accessTTL))
	ctx.SetCookie(newAuthCookie(refreshTokenCookie, refreshToken, c.refreshTTL))
}

func (c *AccountController) clearAuthCookies(ctx echo.Context) {
	ctx.SetCookie(expiredAuthCookie(accessTokenCookie))
	ctx.SetCookie(expiredAuthCookie(refreshTokenCookie))
}

func newAuthCookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}

func expiredAuthCookie(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}

// stageUpload copies a multipart file to a local temp file so the
// storage collaborator can consume (and afterwards remove) it.
func stageUpload(file *multipart.FileHeader) (string, error) {
	src, err := file.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(file.Filename))
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	if _, err = io.Copy(tmp, src); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}

	return tmp.Name(), nil
}

// removeStaged cleans up a staged file the uploader never consumed. The
// uploader removes consumed files itself, so a missing file is fine.
func removeStaged(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).WithField("path", path).Warn("Failed to remove staged upload")
	}
}

func successJSON(ctx echo.Context, status int, data interface{}, message string) error {
	return ctx.JSON(status, dto.SuccessResponse{Status: status, Data: data, Message: message})
}

func errorJSON(ctx echo.Context, status int, message string) error {
	return ctx.JSON(status, dto.ErrorResponse{Status: status, Error: message})
}
