package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mauroas7/Tardia-Plataforma/internal/domain"
	"github.com/mauroas7/Tardia-Plataforma/internal/repository"
	"github.com/mauroas7/Tardia-Plataforma/pkg/config"
)

type stubBotRepository struct {
	bots    map[string]*domain.Bot
	deleted []string
	updates []domain.BotStatusUpdate
}

func newStubBotRepository() *stubBotRepository {
	return &stubBotRepository{bots: make(map[string]*domain.Bot)}
}

func (s *stubBotRepository) CreateBot(ctx context.Context, bot *domain.Bot) error {
	s.bots[bot.ID] = bot
	return nil
}

func (s *stubBotRepository) GetBotByID(ctx context.Context, id string) (*domain.Bot, error) {
	if bot, ok := s.bots[id]; ok {
		copied := *bot
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubBotRepository) GetBotByOwnerAndName(ctx context.Context, ownerID, name string) (*domain.Bot, error) {
	for _, bot := range s.bots {
		if bot.OwnerID == ownerID && strings.EqualFold(bot.Name, name) {
			copied := *bot
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubBotRepository) ListBotsByOwner(ctx context.Context, ownerID string) ([]domain.Bot, error) {
	var out []domain.Bot
	for _, bot := range s.bots {
		if bot.OwnerID == ownerID {
			out = append(out, *bot)
		}
	}
	return out, nil
}

func (s *stubBotRepository) CountBotsByOwner(ctx context.Context, ownerID string) (int, error) {
	bots, _ := s.ListBotsByOwner(ctx, ownerID)
	return len(bots), nil
}

func (s *stubBotRepository) UpdateBotStatus(ctx context.Context, update domain.BotStatusUpdate) error {
	s.updates = append(s.updates, update)
	bot, ok := s.bots[update.BotID]
	if !ok {
		return repository.ErrNotFound
	}
	bot.Status = update.Status
	bot.Endpoint = update.Endpoint
	bot.DeploymentRef = update.DeploymentRef
	bot.Diagnostic = update.Diagnostic
	return nil
}

func (s *stubBotRepository) DeleteBot(ctx context.Context, id string) error {
	if _, ok := s.bots[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.bots, id)
	s.deleted = append(s.deleted, id)
	return nil
}

type stubProvisioner struct {
	submitted []domain.Bot
	tornDown  []domain.Bot
	submitErr error
	removals  []domain.Removal
}

func (s *stubProvisioner) Submit(bot domain.Bot) error {
	if s.submitErr != nil {
		return s.submitErr
	}
	s.submitted = append(s.submitted, bot)
	return nil
}

func (s *stubProvisioner) Teardown(ctx context.Context, bot domain.Bot) ([]domain.Removal, error) {
	s.tornDown = append(s.tornDown, bot)
	return s.removals, nil
}

func newTestService(repo *stubBotRepository, prov *stubProvisioner) Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.PlatformConfig{MaxBotsPerOwner: 2}
	return New(repo, prov, log, cfg)
}

func TestCreateStartsProvisioning(t *testing.T) {
	repo := newStubBotRepository()
	prov := &stubProvisioner{}
	svc := newTestService(repo, prov)

	bot, err := svc.Create(context.Background(), "owner-1", "WeatherBot", "12345:abc", []string{"Clima", "clima", "ia"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if bot.Status != domain.StatusCreating {
		t.Fatalf("expected status creating, got %q", bot.Status)
	}
	if len(bot.Features) != 2 {
		t.Fatalf("expected deduplicated features, got %v", bot.Features)
	}
	if len(prov.submitted) != 1 || prov.submitted[0].ID != bot.ID {
		t.Fatalf("expected submitted run for %s, got %+v", bot.ID, prov.submitted)
	}
	if _, ok := repo.bots[bot.ID]; !ok {
		t.Fatal("expected descriptor to be persisted")
	}
}

func TestCreateValidationLeavesNoTrace(t *testing.T) {
	cases := []struct {
		name     string
		botName  string
		token    string
		features []string
		wantErr  error
	}{
		{"bad name", "bot", "12345:abc", []string{"clima"}, ErrInvalidName},
		{"no bot suffix", "weather", "12345:abc", []string{"clima"}, ErrInvalidName},
		{"double hyphen", "my--cool-bot", "12345:abc", []string{"clima"}, ErrInvalidName},
		{"trailing hyphen", "weatherbot-", "12345:abc", []string{"clima"}, ErrInvalidName},
		{"missing token", "weatherbot", " ", []string{"clima"}, ErrMissingToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newStubBotRepository()
			prov := &stubProvisioner{}
			svc := newTestService(repo, prov)

			_, err := svc.Create(context.Background(), "owner-1", tc.botName, tc.token, tc.features)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if len(repo.bots) != 0 || len(prov.submitted) != 0 {
				t.Fatal("expected no side effects from rejected request")
			}
		})
	}
}

func TestCreateRejectsUnknownFeature(t *testing.T) {
	svc := newTestService(newStubBotRepository(), &stubProvisioner{})
	_, err := svc.Create(context.Background(), "owner-1", "weatherbot", "12345:abc", []string{"bitcoin"})
	if err == nil || !strings.Contains(err.Error(), "bitcoin") {
		t.Fatalf("expected unknown feature error naming bitcoin, got %v", err)
	}
}

func TestCreateEnforcesQuotaBeforeDuplicateCheck(t *testing.T) {
	repo := newStubBotRepository()
	prov := &stubProvisioner{}
	svc := newTestService(repo, prov)

	for _, name := range []string{"firstbot", "secondbot"} {
		if _, err := svc.Create(context.Background(), "owner-1", name, "12345:abc", []string{"clima"}); err != nil {
			t.Fatalf("Create %s returned error: %v", name, err)
		}
	}
	if _, err := svc.Create(context.Background(), "owner-1", "thirdbot", "12345:abc", []string{"clima"}); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	// Another owner below quota is unaffected.
	if _, err := svc.Create(context.Background(), "owner-2", "thirdbot", "12345:abc", []string{"clima"}); err != nil {
		t.Fatalf("Create for second owner returned error: %v", err)
	}
}

func TestCreateRejectsDuplicateNameCaseInsensitively(t *testing.T) {
	repo := newStubBotRepository()
	svc := newTestService(repo, &stubProvisioner{})

	if _, err := svc.Create(context.Background(), "owner-1", "WeatherBot", "12345:abc", []string{"clima"}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := svc.Create(context.Background(), "owner-1", "weatherbot", "12345:abc", []string{"clima"}); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
}

func TestGetHidesOtherOwnersBots(t *testing.T) {
	repo := newStubBotRepository()
	svc := newTestService(repo, &stubProvisioner{})

	bot, err := svc.Create(context.Background(), "owner-1", "weatherbot", "12345:abc", []string{"clima"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := svc.Get(context.Background(), "owner-2", bot.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
}

func TestListBlanksTokens(t *testing.T) {
	repo := newStubBotRepository()
	svc := newTestService(repo, &stubProvisioner{})

	if _, err := svc.Create(context.Background(), "owner-1", "weatherbot", "12345:abc", []string{"clima"}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	bots, err := svc.List(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(bots) != 1 || bots[0].Token != "" {
		t.Fatalf("expected 1 bot with blank token, got %+v", bots)
	}
}

func TestDeleteTearsDownAndRemovesDescriptor(t *testing.T) {
	repo := newStubBotRepository()
	prov := &stubProvisioner{removals: []domain.Removal{
		{Resource: "deployment x", Outcome: domain.OutcomeRemoved},
		{Resource: "image y", Outcome: domain.OutcomeFailed, Err: errors.New("daemon unavailable")},
	}}
	svc := newTestService(repo, prov)

	bot, err := svc.Create(context.Background(), "owner-1", "weatherbot", "12345:abc", []string{"clima"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	removals, err := svc.Delete(context.Background(), "owner-1", bot.ID)
	if err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if len(removals) != 2 {
		t.Fatalf("expected 2 removals, got %d", len(removals))
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != bot.ID {
		t.Fatalf("expected descriptor deletion despite failed removal, got %v", repo.deleted)
	}
	if len(prov.tornDown) != 1 {
		t.Fatalf("expected 1 teardown, got %d", len(prov.tornDown))
	}
}

func TestRetryOnlyFromErrorState(t *testing.T) {
	repo := newStubBotRepository()
	prov := &stubProvisioner{}
	svc := newTestService(repo, prov)

	bot, err := svc.Create(context.Background(), "owner-1", "weatherbot", "12345:abc", []string{"clima"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := svc.Retry(context.Background(), "owner-1", bot.ID); !errors.Is(err, ErrNotFailed) {
		t.Fatalf("expected ErrNotFailed for creating bot, got %v", err)
	}

	repo.bots[bot.ID].Status = domain.StatusError
	repo.bots[bot.ID].Diagnostic = "build image: npm install failed"

	retried, err := svc.Retry(context.Background(), "owner-1", bot.ID)
	if err != nil {
		t.Fatalf("Retry returned error: %v", err)
	}
	if retried.Status != domain.StatusCreating || retried.Diagnostic != "" {
		t.Fatalf("expected reset descriptor, got %+v", retried)
	}
	if len(prov.submitted) != 2 {
		t.Fatalf("expected resubmission, got %d submissions", len(prov.submitted))
	}
}

func TestRetryRestoresErrorStateWhenSubmitRefused(t *testing.T) {
	repo := newStubBotRepository()
	prov := &stubProvisioner{}
	svc := newTestService(repo, prov)

	bot, err := svc.Create(context.Background(), "owner-1", "weatherbot", "12345:abc", []string{"clima"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	repo.bots[bot.ID].Status = domain.StatusError
	repo.bots[bot.ID].Diagnostic = "build image: npm install failed"

	// The previous run can still hold the slot when the retry lands.
	submitErr := errors.New("provisioning already in flight for bot")
	prov.submitErr = submitErr

	if _, err := svc.Retry(context.Background(), "owner-1", bot.ID); !errors.Is(err, submitErr) {
		t.Fatalf("expected submit error, got %v", err)
	}
	stored := repo.bots[bot.ID]
	if stored.Status != domain.StatusError {
		t.Fatalf("expected restored error status, got %q", stored.Status)
	}
	if stored.Diagnostic != "build image: npm install failed" {
		t.Fatalf("expected restored diagnostic, got %q", stored.Diagnostic)
	}
}
