package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/cliphive/ms-go-account/app/entity"
	"github.com/cliphive/ms-go-account/app/password"
	"github.com/cliphive/ms-go-account/app/repository"
	"github.com/cliphive/ms-go-account/app/storage"
	"github.com/cliphive/ms-go-account/app/token"
	"github.com/cliphive/ms-go-account/config"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrUserExists          = errors.New("user with email or username already exists")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrMissingField        = errors.New("all required fields must be provided")
	ErrMissingIdentifier   = errors.New("email or username is required")
	ErrMissingAvatar       = errors.New("avatar is required")
	ErrUploadFailed        = errors.New("file upload failed")
	ErrMissingRefreshToken = errors.New("refresh token is required")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrStaleRefreshToken   = errors.New("refresh token is no longer active")
	ErrInvalidAccessToken  = errors.New("invalid or expired access token")
	ErrPasswordMismatch    = errors.New("current password is incorrect")
)

type RegisterInput struct {
	FullName string
	Email    string
	Password string
	Username string

	// Local paths of the staged multipart files. AvatarPath is
	// mandatory, CoverImagePath may be empty.
	AvatarPath     string
	CoverImagePath string
}

type LoginInput struct {
	Email    string
	Username string
	Password string
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

type LoginResult struct {
	User   *entity.User
	Tokens TokenPair
}

type userRepository interface {
	Create(ctx context.Context, user *entity.User) error
	FindByID(ctx context.Context, id string) (*entity.User, error)
	FindByEmailOrUsername(ctx context.Context, email, username string) (*entity.User, error)
	SetRefreshToken(ctx context.Context, id, refreshToken string) error
	RotateRefreshToken(ctx context.Context, id, oldToken, newToken string) (bool, error)
	ClearRefreshToken(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateFullName(ctx context.Context, id, fullName string) error
	UpdateEmail(ctx context.Context, id, email string) error
	UpdateAvatarURL(ctx context.Context, id, avatarURL string) error
	UpdateCoverImageURL(ctx context.Context, id, coverImageURL string) error
}

type AccountService interface {
	Register(ctx context.Context, in *RegisterInput) (*entity.User, error)
	Login(ctx context.Context, in *LoginInput) (*LoginResult, error)
	Logout(ctx context.Context, userID string) error
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	Authenticate(ctx context.Context, accessToken string) (*entity.User, error)
	UpdateDetails(ctx context.Context, userID, fullName, email string) (*entity.User, error)
	UpdateAvatar(ctx context.Context, userID, localPath string) (*entity.User, error)
	UpdateCoverImage(ctx context.Context, userID, localPath string) (*entity.User, error)
}

type accountService struct {
	userRepo userRepository
	tokens   *token.Manager
	uploader storage.Uploader
	cfg      *config.Config
}

func NewAccountService(userRepo userRepository, tokens *token.Manager, uploader storage.Uploader, cfg *config.Config) AccountService {
	return &accountService{
		userRepo: userRepo,
		tokens:   tokens,
		uploader: uploader,
		cfg:      cfg,
	}
}

func (s *accountService) Register(ctx context.Context, in *RegisterInput) (*entity.User, error) {
	fullName := strings.TrimSpace(in.FullName)
	email := strings.TrimSpace(in.Email)
	username := strings.ToLower(strings.TrimSpace(in.Username))
	if fullName == "" || email == "" || username == "" || in.Password == "" {
		return nil, ErrMissingField
	}
	if in.AvatarPath == "" {
		return nil, ErrMissingAvatar
	}

	existing, err := s.userRepo.FindByEmailOrUsername(ctx, email, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	// The avatar goes to object storage before any record exists, so a
	// failed upload can never leave a user pointing at a missing file.
	avatarURL, err := s.uploader.Upload(ctx, in.AvatarPath)
	if err != nil || avatarURL == "" {
		logrus.WithError(err).WithField("username", username).Warn("Avatar upload failed")
		return nil, ErrUploadFailed
	}

	var coverImage sql.NullString
	if in.CoverImagePath != "" {
		coverURL, coverErr := s.uploader.Upload(ctx, in.CoverImagePath)
		if coverErr != nil {
			// The cover image is optional: a failed upload degrades to
			// an absent cover instead of failing the registration.
			logrus.WithError(coverErr).WithField("username", username).Warn("Cover image upload failed")
		} else if coverURL != "" {
			coverImage.String = coverURL
			coverImage.Valid = true
		}
	}

	hashed, err := password.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &entity.User{
		ID:            uuid.NewString(),
		Username:      username,
		Email:         email,
		FullName:      fullName,
		PasswordHash:  hashed,
		AvatarURL:     avatarURL,
		CoverImageURL: coverImage,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err = s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	return user, nil
}

func (s *accountService) Login(ctx context.Context, in *LoginInput) (*LoginResult, error) {
	email := strings.TrimSpace(in.Email)
	username := strings.ToLower(strings.TrimSpace(in.Username))
	if email == "" && username == "" {
		return nil, ErrMissingIdentifier
	}

	user, err := s.userRepo.FindByEmailOrUsername(ctx, email, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	if !password.Verify(in.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	pair, err := s.issueTokenPair(user.ID)
	if err != nil {
		return nil, err
	}

	// Unconditional overwrite: a login supersedes whatever session
	// existed before, wherever it lived.
	if err = s.userRepo.SetRefreshToken(ctx, user.ID, pair.RefreshToken); err != nil {
		return nil, err
	}

	return &LoginResult{User: user, Tokens: *pair}, nil
}

func (s *accountService) Logout(ctx context.Context, userID string) error {
	return s.userRepo.ClearRefreshToken(ctx, userID)
}

func (s *accountService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrMissingRefreshToken
	}

	claims, err := s.tokens.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		// Expired, malformed and bad-signature tokens are all the same
		// rejection from the client's point of view.
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	pair, err := s.issueTokenPair(user.ID)
	if err != nil {
		return nil, err
	}

	// Compare-and-set against the presented token. A well-formed,
	// unexpired token that is no longer the stored one loses here, which
	// is what makes reuse after a prior refresh or logout detectable.
	rotated, err := s.userRepo.RotateRefreshToken(ctx, user.ID, refreshToken, pair.RefreshToken)
	if err != nil {
		return nil, err
	}
	if !rotated {
		logrus.WithField("user_id", user.ID).Warn("Stale refresh token presented")
		return nil, ErrStaleRefreshToken
	}

	return pair, nil
}

func (s *accountService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return ErrMissingField
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	if !password.Verify(currentPassword, user.PasswordHash) {
		return ErrPasswordMismatch
	}

	hashed, err := password.Hash(newPassword)
	if err != nil {
		return err
	}

	if err = s.userRepo.UpdatePassword(ctx, user.ID, hashed); err != nil {
		return err
	}

	if s.cfg.RevokeSessionsOnPasswordChange {
		return s.userRepo.ClearRefreshToken(ctx, user.ID)
	}
	return nil
}

// Authenticate resolves a bearer access token to the user it identifies.
// Every failure collapses to ErrInvalidAccessToken: the caller has no
// business knowing whether the token or the account is the problem.
func (s *accountService) Authenticate(ctx context.Context, accessToken string) (*entity.User, error) {
	claims, err := s.tokens.Verify(accessToken, token.KindAccess)
	if err != nil {
		return nil, ErrInvalidAccessToken
	}

	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidAccessToken
	}

	return user, nil
}

func (s *accountService) UpdateDetails(ctx context.Context, userID, fullName, email string) (*entity.User, error) {
	fullName = strings.TrimSpace(fullName)
	email = strings.TrimSpace(email)
	if fullName == "" && email == "" {
		return nil, ErrMissingField
	}

	if fullName != "" {
		if err := s.userRepo.UpdateFullName(ctx, userID, fullName); err != nil {
			return nil, err
		}
	}
	if email != "" {
		if err := s.userRepo.UpdateEmail(ctx, userID, email); err != nil {
			if errors.Is(err, repository.ErrDuplicateEntry) {
				return nil, ErrUserExists
			}
			return nil, err
		}
	}

	return s.findExisting(ctx, userID)
}

func (s *accountService) UpdateAvatar(ctx context.Context, userID, localPath string) (*entity.User, error) {
	if localPath == "" {
		return nil, ErrMissingAvatar
	}

	avatarURL, err := s.uploader.Upload(ctx, localPath)
	if err != nil || avatarURL == "" {
		logrus.WithError(err).WithField("user_id", userID).Warn("Avatar upload failed")
		return nil, ErrUploadFailed
	}

	if err = s.userRepo.UpdateAvatarURL(ctx, userID, avatarURL); err != nil {
		return nil, err
	}

	return s.findExisting(ctx, userID)
}

func (s *accountService) UpdateCoverImage(ctx context.Context, userID, localPath string) (*entity.User, error) {
	if localPath == "" {
		return nil, ErrMissingField
	}

	coverURL, err := s.uploader.Upload(ctx, localPath)
	if err != nil || coverURL == "" {
		logrus.WithError(err).WithField("user_id", userID).Warn("Cover image upload failed")
		return nil, ErrUploadFailed
	}

	if err = s.userRepo.UpdateCoverImageURL(ctx, userID, coverURL); err != nil {
		return nil, err
	}

	return s.findExisting(ctx, userID)
}

func (s *accountService) findExisting(ctx context.Context, userID string) (*entity.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *accountService) issueTokenPair(userID string) (*TokenPair, error) {
	accessToken, err := s.tokens.Issue(userID, token.KindAccess)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.tokens.Issue(userID, token.KindRefresh)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.tokens.TTL(token.KindAccess).Seconds()),
	}, nil
}
