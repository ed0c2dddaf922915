package users

import (
	"context"

	"github.com/dmitrijs2005/contactkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByLogin(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	// LockUser reads the user row with FOR UPDATE; call it inside a transaction.
	LockUser(ctx context.Context, id string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetAvatar(ctx context.Context, id, avatarKey string) error
}
