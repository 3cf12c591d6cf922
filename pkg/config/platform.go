package config

import "time"

// PlatformConfig holds runtime configuration for the bot platform API.
type PlatformConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	DockerHost         string
	ImageRegistry      string
	TemplatesDir       string
	WorkspaceRoot      string
	Namespace          string
	SecretName         string
	BotPort            int
	MaxBotsPerOwner    int
	BuildTimeout       time.Duration
	ReadinessTimeout   time.Duration
	ProvisionTimeout   time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadPlatformConfig constructs a PlatformConfig from environment variables.
func LoadPlatformConfig() PlatformConfig {
	return PlatformConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":3000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://tardia:tardia@db:5432/tardia?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "cloud-bot-secret-key"),
		AccessTokenTTL:     time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 60)) * time.Minute,
		RefreshTokenTTL:    time.Duration(GetInt("REFRESH_TOKEN_TTL_HOURS", 24)) * time.Hour,
		DockerHost:         GetString("DOCKER_HOST_OVERRIDE", ""),
		ImageRegistry:      GetString("IMAGE_REGISTRY", "local"),
		TemplatesDir:       GetString("BOT_TEMPLATES_DIR", "templates/bot"),
		WorkspaceRoot:      GetString("BOT_WORKSPACE_ROOT", "generated-bots"),
		Namespace:          GetString("KUBERNETES_NAMESPACE", "bot-platform"),
		SecretName:         GetString("BOT_SECRETS_NAME", "bot-secrets"),
		BotPort:            GetInt("BOT_PORT", 3000),
		MaxBotsPerOwner:    GetInt("MAX_BOTS_PER_OWNER", 20),
		BuildTimeout:       GetSeconds("BUILD_TIMEOUT_SECONDS", 600),
		ReadinessTimeout:   GetSeconds("READINESS_TIMEOUT_SECONDS", 120),
		ProvisionTimeout:   GetSeconds("PROVISION_TIMEOUT_SECONDS", 900),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}

// FeatureSecrets resolves platform-held API key values for the given secret
// env names. Missing keys resolve to empty strings; the generated bot decides
// how to degrade when a key is absent.
func FeatureSecrets(names []string) map[string]string {
	secrets := make(map[string]string, len(names))
	for _, name := range names {
		secrets[name] = GetString(name, "")
	}
	return secrets
}
