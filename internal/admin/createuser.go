// Package admin holds operator tooling that talks to the credential store
// directly, bypassing the HTTP API.
package admin

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/contactkeeper/internal/server/models"
	"github.com/dmitrijs2005/contactkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/contactkeeper/internal/server/services"
	"golang.org/x/crypto/bcrypt"
)

type CreateUserOptions struct {
	Email    string
	Role     string
	Inactive bool
	Verified bool
	HashCost int
}

// CreateUser migrates the schema and inserts one account.
func CreateUser(ctx context.Context, db *sql.DB, rm repomanager.RepositoryManager, o CreateUserOptions, password []byte) (*models.User, error) {
	email := services.NormalizeLogin(o.Email)
	if err := services.ValidateCredentials(email, string(password)); err != nil {
		return nil, err
	}

	role := o.Role
	switch role {
	case "":
		role = models.RoleUser
	case models.RoleUser, models.RoleAdmin:
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}

	cost := o.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword(password, cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return rm.Users(db).Create(ctx, &models.User{
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     !o.Inactive,
		IsVerified:   o.Verified,
		Role:         role,
	})
}
