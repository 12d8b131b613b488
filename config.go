package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"tasks-api/api"
	"tasks-api/storage"
)

type config struct {
	Debug     bool
	LogFormat string

	TasksFile  string
	ListenAddr string

	JWTSecret      []byte
	JWTKeyID       string
	JWTPrevious    map[string][]byte
	TokenTTL       time.Duration
	BcryptCost     int
	RedisConn      string
	DeduperTTL     time.Duration
	StorageConn    string
	EventsQueue    string
	EventsDispatch api.DispatcherConfig
}

func loadConfig() (config, error) {
	var cfg config
	var err error

	if cfg.Debug, err = envBool("DEBUG", false); err != nil {
		return cfg, err
	}
	cfg.LogFormat = strings.ToLower(envString("LOG_FORMAT", "text"))
	cfg.TasksFile = envString("TASKS_FILE", "tasks.json")

	port := envString("FUNCTIONS_CUSTOMHANDLER_PORT", envString("PORT", "8080"))
	cfg.ListenAddr = ":" + port

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return cfg, errors.New("missing JWT_SECRET")
	}
	cfg.JWTSecret = []byte(secret)
	cfg.JWTKeyID = envString("JWT_KEY_ID", api.DefaultKeyID)
	if cfg.JWTPrevious, err = parseKeySet(os.Getenv("JWT_PREVIOUS_SECRETS")); err != nil {
		return cfg, fmt.Errorf("invalid JWT_PREVIOUS_SECRETS: %w", err)
	}
	if cfg.TokenTTL, err = envDur("TOKEN_TTL", api.DefaultTokenTTL); err != nil {
		return cfg, err
	}
	if cfg.BcryptCost, err = envInt("BCRYPT_COST", storage.DefaultBcryptCost); err != nil {
		return cfg, err
	}

	cfg.RedisConn = os.Getenv("REDIS_CONNECTION_STRING")
	if cfg.DeduperTTL, err = envDur("DEDUPER_TTL", 24*time.Hour); err != nil {
		return cfg, err
	}

	cfg.StorageConn = os.Getenv("STORAGE_CONNECTION_STRING")
	cfg.EventsQueue = os.Getenv("TASK_EVENTS_QUEUE")
	if (cfg.StorageConn == "") != (cfg.EventsQueue == "") {
		return cfg, errors.New("STORAGE_CONNECTION_STRING and TASK_EVENTS_QUEUE must be set together")
	}
	d := &cfg.EventsDispatch
	if d.Workers, err = envInt("EVENTS_WORKERS", 4); err != nil {
		return cfg, err
	}
	if d.Buffer, err = envInt("EVENTS_BUFFER", 1024); err != nil {
		return cfg, err
	}
	if d.HandoffTimeout, err = envDur("EVENTS_HANDOFF_TIMEOUT", 10*time.Millisecond); err != nil {
		return cfg, err
	}
	if d.MaxAttempts, err = envInt("EVENTS_MAX_ATTEMPTS", 3); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return n, nil
}

func envDur(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// parseKeySet reads retired signing keys in the form "kid=secret,kid=secret".
func parseKeySet(raw string) (map[string][]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	keys := make(map[string][]byte)
	for _, part := range strings.Split(raw, ",") {
		kid, secret, ok := strings.Cut(strings.TrimSpace(part), "=")
		kid = strings.TrimSpace(kid)
		if !ok || kid == "" || secret == "" {
			return nil, fmt.Errorf("entry %q is not kid=secret", part)
		}
		if _, dup := keys[kid]; dup {
			return nil, fmt.Errorf("key id %q listed twice", kid)
		}
		keys[kid] = []byte(secret)
	}
	return keys, nil
}

// redisOptions accepts a redis:// URL or an Azure style "host:port,password=...,ssl=true"
// connection string.
func redisOptions(conn string) (*redis.Options, error) {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	addr := strings.TrimSpace(parts[0])
	if addr == "" || strings.Contains(addr, "=") {
		return nil, errors.New("invalid redis connection string")
	}
	opts := &redis.Options{Addr: addr}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
