package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string

	// Storage (a Supabase-style hosted Postgres).
	DatabaseURL      string
	DatabasePassword string

	// Target booking site.
	SiteBaseURL     string
	SiteOrg         string
	AccountLogin    string
	AccountPassword string
	FacilityTypes   []int
	RequestTimeout  time.Duration
	RatePerSecond   float64

	// Trigger-server operator auth.
	OperatorUser           string
	OperatorPasswordBcrypt string
	CookieHashKey          []byte // base64 in env
	CookieBlockKey         []byte // base64 in env

	DevMode bool
}

func FromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:       getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DatabasePassword: strings.TrimSpace(os.Getenv("DATABASE_PASSWORD")),
		SiteBaseURL:      getenv("ANC_BASE_URL", "https://anc.apm.activecommunities.com"),
		SiteOrg:          getenv("ANC_ORG", "seattle"),
		AccountLogin:     strings.TrimSpace(os.Getenv("ANC_LOGIN")),
		AccountPassword:  os.Getenv("ANC_PASSWORD"),
		OperatorUser:     getenv("OPERATOR_USER", "admin"),
		DevMode:          strings.TrimSpace(os.Getenv("DEV_MODE")) == "1",
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.AccountLogin == "" || cfg.AccountPassword == "" {
		return Config{}, fmt.Errorf("ANC_LOGIN and ANC_PASSWORD are required")
	}

	var err error
	cfg.FacilityTypes, err = parseIntList(getenv("ANC_FACILITY_TYPES", "39,115"))
	if err != nil {
		return Config{}, fmt.Errorf("ANC_FACILITY_TYPES: %w", err)
	}

	timeoutSec, err := strconv.Atoi(getenv("ANC_TIMEOUT_SECONDS", "60"))
	if err != nil || timeoutSec < 1 {
		return Config{}, fmt.Errorf("invalid ANC_TIMEOUT_SECONDS")
	}
	cfg.RequestTimeout = time.Duration(timeoutSec) * time.Second

	cfg.RatePerSecond, err = strconv.ParseFloat(getenv("ANC_RATE_PER_SECOND", "0.5"), 64)
	if err != nil || cfg.RatePerSecond <= 0 {
		return Config{}, fmt.Errorf("invalid ANC_RATE_PER_SECOND")
	}

	return cfg, nil
}

// LoadServerKeys decodes the cookie keys and operator credential the trigger
// server needs on top of FromEnv. Kept separate so `courtwatch run` works
// without them.
func (c *Config) LoadServerKeys() error {
	c.OperatorPasswordBcrypt = strings.TrimSpace(os.Getenv("OPERATOR_PASSWORD_BCRYPT"))
	if c.OperatorPasswordBcrypt == "" {
		return fmt.Errorf("OPERATOR_PASSWORD_BCRYPT is required")
	}
	var err error
	c.CookieHashKey, err = mustB64("COOKIE_HASH_KEY")
	if err != nil {
		return err
	}
	c.CookieBlockKey, err = mustB64("COOKIE_BLOCK_KEY")
	if err != nil {
		return err
	}
	return nil
}

// StorageDSN injects DATABASE_PASSWORD into the connection URL when the URL
// itself carries no password, so the credential can be supplied separately.
func (c Config) StorageDSN() string {
	if c.DatabasePassword == "" {
		return c.DatabaseURL
	}
	if strings.Contains(c.DatabaseURL, "password=") {
		return c.DatabaseURL
	}
	if strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		sep := "?"
		if strings.Contains(c.DatabaseURL, "?") {
			sep = "&"
		}
		return c.DatabaseURL + sep + "password=" + url.QueryEscape(c.DatabasePassword)
	}
	return c.DatabaseURL + " password=" + quoteKeywordValue(c.DatabasePassword)
}

// quoteKeywordValue quotes a keyword/value DSN value per libpq rules when it
// holds characters that would break unquoted parsing.
func quoteKeywordValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func getenv(k, d string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	return v
}

func parseIntList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	var out []int
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad int %q", p)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty list")
	}
	return out, nil
}

func mustB64(k string) ([]byte, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil, fmt.Errorf("%s is required (base64)", k)
	}
	if b, err := base64.StdEncoding.DecodeString(v); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
