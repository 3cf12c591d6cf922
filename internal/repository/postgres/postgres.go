package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mauroas7/Tardia-Plataforma/internal/domain"
	"github.com/mauroas7/Tardia-Plataforma/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository = (*Repository)(nil)
	_ repository.BotRepository  = (*Repository)(nil)
)

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.PasswordHash, user.CreatedAt)
	return err
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE email = $1`
	row := r.pool.QueryRow(ctx, query, email)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateBot inserts a bot descriptor in its initial state.
func (r *Repository) CreateBot(ctx context.Context, bot *domain.Bot) error {
	const query = `INSERT INTO bots (id, owner_id, name, token, features, status, endpoint, deployment_ref, diagnostic, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query,
		bot.ID, bot.OwnerID, bot.Name, bot.Token, bot.Features,
		bot.Status, bot.Endpoint, bot.DeploymentRef, bot.Diagnostic, bot.CreatedAt)
	return err
}

// GetBotByID retrieves a bot descriptor by identifier.
func (r *Repository) GetBotByID(ctx context.Context, id string) (*domain.Bot, error) {
	const query = `SELECT id, owner_id, name, token, features, status, endpoint, deployment_ref, diagnostic, created_at
		FROM bots WHERE id = $1`
	return r.scanBot(r.pool.QueryRow(ctx, query, id))
}

// GetBotByOwnerAndName retrieves a bot by its per-owner unique name.
func (r *Repository) GetBotByOwnerAndName(ctx context.Context, ownerID, name string) (*domain.Bot, error) {
	const query = `SELECT id, owner_id, name, token, features, status, endpoint, deployment_ref, diagnostic, created_at
		FROM bots WHERE owner_id = $1 AND LOWER(name) = LOWER($2)`
	return r.scanBot(r.pool.QueryRow(ctx, query, ownerID, name))
}

// ListBotsByOwner returns an owner's bots, newest first.
func (r *Repository) ListBotsByOwner(ctx context.Context, ownerID string) ([]domain.Bot, error) {
	const query = `SELECT id, owner_id, name, token, features, status, endpoint, deployment_ref, diagnostic, created_at
		FROM bots WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []domain.Bot
	for rows.Next() {
		var b domain.Bot
		if err := rows.Scan(&b.ID, &b.OwnerID, &b.Name, &b.Token, &b.Features,
			&b.Status, &b.Endpoint, &b.DeploymentRef, &b.Diagnostic, &b.CreatedAt); err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// CountBotsByOwner counts descriptors owned by a user.
func (r *Repository) CountBotsByOwner(ctx context.Context, ownerID string) (int, error) {
	const query = `SELECT COUNT(1) FROM bots WHERE owner_id = $1`
	row := r.pool.QueryRow(ctx, query, ownerID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateBotStatus persists a lifecycle transition.
func (r *Repository) UpdateBotStatus(ctx context.Context, update domain.BotStatusUpdate) error {
	const query = `UPDATE bots SET status = $2, endpoint = $3, deployment_ref = $4, diagnostic = $5
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		update.BotID, update.Status, update.Endpoint, update.DeploymentRef, update.Diagnostic)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteBot removes the descriptor record.
func (r *Repository) DeleteBot(ctx context.Context, id string) error {
	const query = `DELETE FROM bots WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) scanBot(row pgx.Row) (*domain.Bot, error) {
	var b domain.Bot
	if err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &b.Token, &b.Features,
		&b.Status, &b.Endpoint, &b.DeploymentRef, &b.Diagnostic, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}
