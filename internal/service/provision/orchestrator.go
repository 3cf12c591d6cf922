package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mauroas7/Tardia-Plataforma/internal/cluster"
	"github.com/mauroas7/Tardia-Plataforma/internal/domain"
	"github.com/mauroas7/Tardia-Plataforma/internal/repository"
	"github.com/mauroas7/Tardia-Plataforma/pkg/config"
)

// maxDiagnosticLen bounds the failure detail stored on a bot so that a
// runaway build log cannot bloat the descriptor row.
const maxDiagnosticLen = 2048

// buildTailLines is how many trailing build output lines are kept for
// the diagnostic when an image build fails.
const buildTailLines = 20

// statusWriteTimeout bounds the terminal status write. The write runs on
// its own context, not the run's: a run that died to ProvisionTimeout
// must still be able to record its error state.
const statusWriteTimeout = 10 * time.Second

// ErrRunInFlight is returned when a provisioning run for the same bot
// is already executing.
var ErrRunInFlight = errors.New("provisioning already in flight for bot")

var provisionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tardia_provision_outcomes_total",
	Help: "Terminal provisioning outcomes by result.",
}, []string{"outcome"})

// Generator materializes and removes per-bot source workspaces.
type Generator interface {
	Generate(bot domain.Bot) (string, error)
	Remove(botID string) domain.Removal
}

// ImageBuilder builds and removes container images.
type ImageBuilder interface {
	BuildImage(ctx context.Context, dir, tag string, onOutput func(string)) error
	RemoveImage(ctx context.Context, tag string) error
}

// Deployer applies and removes cluster workloads.
type Deployer interface {
	Deploy(ctx context.Context, bot domain.Bot, image string) (cluster.Workload, error)
	Remove(ctx context.Context, bot domain.Bot) []domain.Removal
}

// StatusNotifier pushes lifecycle updates to connected clients.
type StatusNotifier interface {
	BroadcastStatus(ownerID string, update domain.BotStatusUpdate)
}

// Orchestrator drives a bot from descriptor to running workload and
// back. Each bot has at most one run in flight at a time.
type Orchestrator struct {
	bots      repository.BotRepository
	generator Generator
	images    ImageBuilder
	cluster   Deployer
	notifier  StatusNotifier
	logger    *slog.Logger
	cfg       config.PlatformConfig
	inFlight  sync.Map
	wg        sync.WaitGroup
}

// New constructs an Orchestrator. notifier may be nil when no status
// stream is wired.
func New(bots repository.BotRepository, gen Generator, images ImageBuilder, deployer Deployer, notifier StatusNotifier, logger *slog.Logger, cfg config.PlatformConfig) *Orchestrator {
	return &Orchestrator{
		bots:      bots,
		generator: gen,
		images:    images,
		cluster:   deployer,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
	}
}

// Submit starts an asynchronous provisioning run for the bot. The bot
// record must already exist with status creating.
func (o *Orchestrator) Submit(bot domain.Bot) error {
	if _, loaded := o.inFlight.LoadOrStore(bot.ID, struct{}{}); loaded {
		return ErrRunInFlight
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.inFlight.Delete(bot.ID)
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ProvisionTimeout)
		defer cancel()
		o.run(ctx, bot)
	}()
	return nil
}

// Drain blocks until all in-flight runs finish or ctx expires.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) run(ctx context.Context, bot domain.Bot) {
	o.logger.Info("provisioning started", "bot_id", bot.ID, "name", bot.Name)
	o.progress(bot, "generating bot sources")

	workdir, err := o.generator.Generate(bot)
	if err != nil {
		o.fail(bot, fmt.Errorf("generate sources: %w", err), "")
		return
	}

	tag := cluster.ImageTag(o.cfg.ImageRegistry, bot.Name, bot.ID)
	o.progress(bot, "building container image")
	tail := newTailBuffer(buildTailLines)
	buildCtx, cancelBuild := context.WithTimeout(ctx, o.cfg.BuildTimeout)
	err = o.images.BuildImage(buildCtx, workdir, tag, tail.Append)
	cancelBuild()
	if err != nil {
		o.fail(bot, fmt.Errorf("build image: %w", err), tail.String())
		return
	}

	o.progress(bot, "deploying workload")
	workload, err := o.cluster.Deploy(ctx, bot, tag)
	if err != nil {
		o.fail(bot, fmt.Errorf("deploy workload: %w", err), "")
		return
	}

	update := domain.BotStatusUpdate{
		BotID:         bot.ID,
		Status:        domain.StatusActive,
		Endpoint:      "https://t.me/" + strings.ToLower(bot.Name),
		DeploymentRef: workload.DeploymentName,
	}
	if err := o.persistStatus(update); err != nil {
		o.logger.Error("status update failed", "bot_id", bot.ID, "error", err)
		provisionOutcomes.WithLabelValues("error").Inc()
		return
	}
	o.notify(bot.OwnerID, update)
	provisionOutcomes.WithLabelValues("active").Inc()
	o.logger.Info("provisioning finished", "bot_id", bot.ID, "deployment", workload.DeploymentName)
}

// Teardown removes the cluster workload, built image and generated
// workspace for the bot, in reverse provisioning order. Removal of each
// resource is best effort; failures are reported, not fatal.
func (o *Orchestrator) Teardown(ctx context.Context, bot domain.Bot) ([]domain.Removal, error) {
	if _, busy := o.inFlight.Load(bot.ID); busy {
		return nil, ErrRunInFlight
	}

	removals := o.cluster.Remove(ctx, bot)

	tag := cluster.ImageTag(o.cfg.ImageRegistry, bot.Name, bot.ID)
	imageRemoval := domain.Removal{Resource: "image " + tag, Outcome: domain.OutcomeRemoved}
	if err := o.images.RemoveImage(ctx, tag); err != nil {
		imageRemoval = domain.Removal{Resource: "image " + tag, Outcome: domain.OutcomeFailed, Err: err}
	}
	removals = append(removals, imageRemoval)

	removals = append(removals, o.generator.Remove(bot.ID))

	for _, r := range removals {
		if !r.Converged() {
			o.logger.Warn("teardown left resource behind", "bot_id", bot.ID, "resource", r.Resource, "error", r.Err)
		}
	}
	return removals, nil
}

// fail records a terminal error state with a bounded diagnostic.
func (o *Orchestrator) fail(bot domain.Bot, cause error, detail string) {
	diag := cause.Error()
	if detail != "" {
		diag += "\n" + detail
	}
	diag = truncateDiagnostic(diag)

	update := domain.BotStatusUpdate{
		BotID:         bot.ID,
		Status:        domain.StatusError,
		DeploymentRef: bot.DeploymentRef,
		Diagnostic:    diag,
	}
	if err := o.persistStatus(update); err != nil {
		o.logger.Error("status update failed", "bot_id", bot.ID, "error", err)
	}
	o.notify(bot.OwnerID, update)
	provisionOutcomes.WithLabelValues("error").Inc()
	o.logger.Error("provisioning failed", "bot_id", bot.ID, "error", cause)
}

// persistStatus writes a terminal status on a fresh context so the write
// survives the expiry of the run that produced it.
func (o *Orchestrator) persistStatus(update domain.BotStatusUpdate) error {
	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()
	return o.bots.UpdateBotStatus(ctx, update)
}

// progress streams a non-terminal step to the owner's clients. Nothing
// is persisted; the bot stays in status creating until the run settles.
func (o *Orchestrator) progress(bot domain.Bot, step string) {
	o.notify(bot.OwnerID, domain.BotStatusUpdate{
		BotID:      bot.ID,
		Status:     domain.StatusCreating,
		Diagnostic: step,
	})
}

func (o *Orchestrator) notify(ownerID string, update domain.BotStatusUpdate) {
	if o.notifier == nil {
		return
	}
	o.notifier.BroadcastStatus(ownerID, update)
}

func truncateDiagnostic(s string) string {
	if len(s) <= maxDiagnosticLen {
		return s
	}
	return s[:maxDiagnosticLen]
}

// tailBuffer keeps the most recent lines of build output.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	lines []string
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Append(line string) {
	line = strings.TrimRight(line, "\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.limit {
		t.lines = t.lines[len(t.lines)-t.limit:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
