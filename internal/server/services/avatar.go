package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/contactkeeper/internal/common"
	sc "github.com/dmitrijs2005/contactkeeper/internal/server/config"
	"github.com/dmitrijs2005/contactkeeper/internal/server/models"
	"github.com/dmitrijs2005/contactkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const presignValidity = 15 * time.Minute

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// AvatarUpload is a presigned upload slot for a new avatar image.
type AvatarUpload struct {
	Key       string
	URL       string
	ExpiresAt time.Time
}

// AvatarService stores avatar images in an S3-compatible bucket. Clients
// upload directly with a presigned URL and then confirm the object key.
// Only admins may change avatars, their own or another account's.
type AvatarService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	users       *UserService
	config      *sc.Config
}

func NewAvatarService(db *sql.DB, repomanager repomanager.RepositoryManager, users *UserService, config *sc.Config) *AvatarService {
	return &AvatarService{
		db:          db,
		repomanager: repomanager,
		users:       users,
		config:      config,
	}
}

func avatarPrefix(userID string) string {
	return "avatars/" + userID + "/"
}

func NewAvatarKey(userID string) string {
	return avatarPrefix(userID) + uuid.NewString()
}

func (s *AvatarService) getPresignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		o.UsePathStyle = true
	})

	return newS3PresignClient(client), nil
}

// target resolves whose avatar the caller is changing. An empty email, or
// the caller's own, selects the caller. Non-admin callers get ErrorForbidden.
func (s *AvatarService) target(ctx context.Context, callerID, email string) (string, error) {
	caller, err := s.users.Profile(ctx, callerID)
	if err != nil {
		return "", err
	}
	if caller.Role != models.RoleAdmin {
		return "", fmt.Errorf("%w: role %q may not update avatars", common.ErrorForbidden, caller.Role)
	}

	email = NormalizeLogin(email)
	if email == "" || email == caller.Email {
		return callerID, nil
	}

	u, err := s.repomanager.Users(s.db).GetUserByLogin(ctx, email)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// PresignUpload reserves a fresh object key under the target user's prefix
// and returns a presigned PUT for it.
func (s *AvatarService) PresignUpload(ctx context.Context, callerID, email string) (*AvatarUpload, error) {
	userID, err := s.target(ctx, callerID, email)
	if err != nil {
		return nil, err
	}

	presignClient, err := s.getPresignClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("presign client: %w", err)
	}

	bucket := s.config.S3Bucket
	key := NewAvatarKey(userID)

	req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(presignValidity))
	if err != nil {
		return nil, fmt.Errorf("presign put: %w", err)
	}

	return &AvatarUpload{Key: key, URL: req.URL, ExpiresAt: time.Now().Add(presignValidity)}, nil
}

// Confirm records key as the target user's avatar once the upload is done.
func (s *AvatarService) Confirm(ctx context.Context, callerID, email, key string) error {
	userID, err := s.target(ctx, callerID, email)
	if err != nil {
		return err
	}

	if !strings.HasPrefix(key, avatarPrefix(userID)) || strings.Contains(key, "..") || len(key) == len(avatarPrefix(userID)) {
		return fmt.Errorf("%w: avatar key does not belong to user", common.ErrorValidation)
	}

	repo := s.repomanager.Users(s.db)
	if err := repo.SetAvatar(ctx, userID, key); err != nil {
		return err
	}
	s.users.InvalidateProfile(ctx, userID)
	return nil
}

// URL returns a presigned GET for an avatar object.
func (s *AvatarService) URL(ctx context.Context, key string) (string, error) {
	presignClient, err := s.getPresignClient(ctx)
	if err != nil {
		return "", fmt.Errorf("presign client: %w", err)
	}

	bucket := s.config.S3Bucket

	req, err := presignGetObject(presignClient, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(presignValidity))
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}

	return req.URL, nil
}
