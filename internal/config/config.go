// Package config reads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	LogLevel string

	HTTP      HTTPConfig
	GRPC      GRPCConfig
	MySQL     MySQLConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Customer  ServiceConfig
	Inventory ServiceConfig
	Keycloak  KeycloakConfig
	Auth      AuthConfig

	GatewayTimeout    time.Duration
	EnrichConcurrency int
}

type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type GRPCConfig struct {
	Addr          string
	ProbeInterval time.Duration
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	PoolSize int
}

type KafkaConfig struct {
	Enabled     bool
	Brokers     []string
	GroupID     string
	CreateTopic string
	DeleteTopic string
}

// ServiceConfig locates a sibling HTTP service.
type ServiceConfig struct {
	Schema string
	Host   string
	Port   string
}

type KeycloakConfig struct {
	URL          string
	Realm        string
	ClientID     string
	ClientSecret string
}

// TokenURL is the realm's OpenID Connect token endpoint.
func (k KeycloakConfig) TokenURL() string {
	return strings.TrimRight(k.URL, "/") + "/realms/" + k.Realm + "/protocol/openid-connect/token"
}

type AuthConfig struct {
	AdminRole     string
	AdminUsername string
	AdminPassword string
	// UserRoles may add and remove items in addition to AdminRole.
	UserRoles []string
}

// Load reads .env files and the environment. Malformed numbers and durations
// are reported as errors.
func Load() (Config, error) {
	LoadDotEnv()

	r := reader{}
	cfg := Config{
		LogLevel: r.str("LOG_LEVEL", "info"),
		HTTP: HTTPConfig{
			Addr:            r.str("HTTP_ADDR", ":3000"),
			ShutdownTimeout: r.duration("HTTP_SHUTDOWN_TIMEOUT", 5*time.Second),
		},
		GRPC: GRPCConfig{
			Addr:          r.str("GRPC_ADDR", ":50051"),
			ProbeInterval: r.duration("HEALTH_PROBE_INTERVAL", 10*time.Second),
		},
		MySQL: MySQLConfig{
			DSN:             r.str("MYSQL_DSN", "root:root@tcp(localhost:3306)/shoppingcart?parseTime=true"),
			MaxOpenConns:    r.integer("MYSQL_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    r.integer("MYSQL_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: r.duration("MYSQL_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     r.str("REDIS_ADDR", "localhost:6379"),
			PoolSize: r.integer("REDIS_POOL_SIZE", 100),
		},
		Kafka: KafkaConfig{
			Enabled:     r.boolean("KAFKA_ENABLED", true),
			Brokers:     r.list("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID:     r.str("KAFKA_GROUP_ID", "shopping-cart"),
			CreateTopic: r.str("KAFKA_TOPIC_CREATE", "create-shopping-cart"),
			DeleteTopic: r.str("KAFKA_TOPIC_DELETE", "delete-shopping-cart"),
		},
		Customer: ServiceConfig{
			Schema: r.str("CUSTOMER_SERVICE_SCHEMA", "http"),
			Host:   r.str("CUSTOMER_SERVICE_HOST", "localhost"),
			Port:   r.str("CUSTOMER_SERVICE_PORT", "8080"),
		},
		Inventory: ServiceConfig{
			Schema: r.str("INVENTORY_SERVICE_SCHEMA", "http"),
			Host:   r.str("INVENTORY_SERVICE_HOST", "localhost"),
			Port:   r.str("INVENTORY_SERVICE_PORT", "8086"),
		},
		Keycloak: KeycloakConfig{
			URL:          r.str("KEYCLOAK_URL", "http://localhost:8880"),
			Realm:        r.str("KEYCLOAK_REALM", "GentleCorp-Ecosystem"),
			ClientID:     r.str("KEYCLOAK_CLIENT_ID", "gentlecorp-client"),
			ClientSecret: r.str("KEYCLOAK_CLIENT_SECRET", ""),
		},
		Auth: AuthConfig{
			AdminRole:     r.str("ADMIN_ROLE", "gentlecorp-admin"),
			AdminUsername: r.str("ADMIN_USERNAME", "admin"),
			AdminPassword: r.str("ADMIN_PASSWORD", "p"),
			UserRoles:     r.list("USER_ROLES", []string{"gentlecorp-user", "gentlecorp-customer"}),
		},
		GatewayTimeout:    r.duration("GATEWAY_TIMEOUT", 5*time.Second),
		EnrichConcurrency: r.integer("ENRICH_CONCURRENCY", 8),
	}

	if r.err != nil {
		return Config{}, r.err
	}
	if cfg.EnrichConcurrency <= 0 {
		return Config{}, fmt.Errorf("ENRICH_CONCURRENCY must be positive, got %d", cfg.EnrichConcurrency)
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return Config{}, fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	return cfg, nil
}

// reader keeps the first parse error so Load can build the whole struct in
// one expression.
type reader struct {
	err error
}

func (r *reader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(fmt.Errorf("%s: invalid integer %q", key, raw))
		return def
	}
	return v
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(fmt.Errorf("%s: invalid duration %q", key, raw))
		return def
	}
	return v
}

func (r *reader) boolean(key string, def bool) bool {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		r.fail(fmt.Errorf("%s: invalid boolean %q", key, raw))
		return def
	}
	return v
}

func (r *reader) list(key string, def []string) []string {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}
