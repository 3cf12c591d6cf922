package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/mauroas7/Tardia-Plataforma/internal/domain"
	"github.com/mauroas7/Tardia-Plataforma/internal/feature"
	"github.com/mauroas7/Tardia-Plataforma/internal/repository"
	"github.com/mauroas7/Tardia-Plataforma/pkg/config"
)

var (
	// ErrMissingToken indicates no credential token was supplied.
	ErrMissingToken = errors.New("bot token required")
	// ErrNameTaken indicates the owner already has a bot with this name.
	ErrNameTaken = errors.New("bot name already in use")
	// ErrQuotaExceeded indicates the owner reached the bot limit.
	ErrQuotaExceeded = errors.New("bot quota exceeded")
	// ErrNotFailed indicates a retry was requested for a bot that is
	// not in the error state.
	ErrNotFailed = errors.New("bot is not in error state")
)

// Provisioner runs the asynchronous provisioning and teardown workflows.
type Provisioner interface {
	Submit(bot domain.Bot) error
	Teardown(ctx context.Context, bot domain.Bot) ([]domain.Removal, error)
}

// Service implements the bot management operations.
type Service struct {
	bots        repository.BotRepository
	provisioner Provisioner
	logger      *slog.Logger
	cfg         config.PlatformConfig
}

// New constructs a Service.
func New(bots repository.BotRepository, provisioner Provisioner, logger *slog.Logger, cfg config.PlatformConfig) Service {
	return Service{bots: bots, provisioner: provisioner, logger: logger, cfg: cfg}
}

// Create validates the request, persists the descriptor and starts the
// provisioning workflow. Validation failures leave no trace: the
// descriptor is only written once every check has passed.
func (s Service) Create(ctx context.Context, ownerID, name, token string, features []string) (*domain.Bot, error) {
	name = strings.TrimSpace(name)
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	normalized, err := feature.Validate(features)
	if err != nil {
		return nil, err
	}

	count, err := s.bots.CountBotsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if count >= s.cfg.MaxBotsPerOwner {
		return nil, ErrQuotaExceeded
	}

	if _, err := s.bots.GetBotByOwnerAndName(ctx, ownerID, name); err == nil {
		return nil, ErrNameTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	bot := &domain.Bot{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Token:     strings.TrimSpace(token),
		Features:  normalized,
		Status:    domain.StatusCreating,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.bots.CreateBot(ctx, bot); err != nil {
		return nil, err
	}
	if err := s.provisioner.Submit(*bot); err != nil {
		s.logger.Error("provisioning submit failed", "bot_id", bot.ID, "error", err)
		return nil, err
	}
	s.logger.Info("bot created", "bot_id", bot.ID, "owner_id", ownerID, "name", name)
	return bot, nil
}

// Get returns one of the owner's bots. Bots belonging to other owners
// are reported as not found.
func (s Service) Get(ctx context.Context, ownerID, botID string) (*domain.Bot, error) {
	bot, err := s.bots.GetBotByID(ctx, botID)
	if err != nil {
		return nil, err
	}
	if bot.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	return bot, nil
}

// List returns the owner's bots with credential tokens blanked.
func (s Service) List(ctx context.Context, ownerID string) ([]domain.Bot, error) {
	bots, err := s.bots.ListBotsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for i := range bots {
		bots[i].Token = ""
	}
	return bots, nil
}

// Delete tears down the bot's provisioned resources and removes the
// descriptor. The descriptor is deleted even when some resources could
// not be removed; leftover resources are reported in the removals.
func (s Service) Delete(ctx context.Context, ownerID, botID string) ([]domain.Removal, error) {
	bot, err := s.Get(ctx, ownerID, botID)
	if err != nil {
		return nil, err
	}
	removals, err := s.provisioner.Teardown(ctx, *bot)
	if err != nil {
		return nil, err
	}
	if err := s.bots.DeleteBot(ctx, botID); err != nil {
		return removals, err
	}
	s.logger.Info("bot deleted", "bot_id", botID, "owner_id", ownerID)
	return removals, nil
}

// Retry restarts provisioning for a bot stuck in the error state.
func (s Service) Retry(ctx context.Context, ownerID, botID string) (*domain.Bot, error) {
	bot, err := s.Get(ctx, ownerID, botID)
	if err != nil {
		return nil, err
	}
	if bot.Status != domain.StatusError {
		return nil, ErrNotFailed
	}
	prior := domain.BotStatusUpdate{
		BotID:         bot.ID,
		Status:        domain.StatusError,
		DeploymentRef: bot.DeploymentRef,
		Diagnostic:    bot.Diagnostic,
	}
	update := domain.BotStatusUpdate{
		BotID:  bot.ID,
		Status: domain.StatusCreating,
	}
	if err := s.bots.UpdateBotStatus(ctx, update); err != nil {
		return nil, err
	}
	bot.Status = domain.StatusCreating
	bot.Endpoint = ""
	bot.DeploymentRef = ""
	bot.Diagnostic = ""
	if err := s.provisioner.Submit(*bot); err != nil {
		// A run may still hold the slot. Put the row back in error so the
		// bot stays retryable instead of sticking in creating.
		if restoreErr := s.bots.UpdateBotStatus(ctx, prior); restoreErr != nil {
			s.logger.Error("status restore failed", "bot_id", bot.ID, "error", restoreErr)
		}
		return nil, err
	}
	s.logger.Info("bot provisioning retried", "bot_id", bot.ID, "owner_id", ownerID)
	return bot, nil
}
