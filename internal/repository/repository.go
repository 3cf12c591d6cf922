package repository

import (
	"context"

	"github.com/mauroas7/Tardia-Plataforma/internal/domain"
)

// UserRepository persists platform accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// BotRepository persists bot descriptors.
type BotRepository interface {
	CreateBot(ctx context.Context, bot *domain.Bot) error
	GetBotByID(ctx context.Context, id string) (*domain.Bot, error)
	GetBotByOwnerAndName(ctx context.Context, ownerID, name string) (*domain.Bot, error)
	ListBotsByOwner(ctx context.Context, ownerID string) ([]domain.Bot, error)
	CountBotsByOwner(ctx context.Context, ownerID string) (int, error)
	UpdateBotStatus(ctx context.Context, update domain.BotStatusUpdate) error
	DeleteBot(ctx context.Context, id string) error
}
