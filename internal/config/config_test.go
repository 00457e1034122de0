package config

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://user@db.example.com:5432/postgres")
	t.Setenv("ANC_LOGIN", "courts@example.com")
	t.Setenv("ANC_PASSWORD", "hunter2")
}

func TestFromEnvDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, "https://anc.apm.activecommunities.com", cfg.SiteBaseURL)
	require.Equal(t, "seattle", cfg.SiteOrg)
	require.Equal(t, []int{39, 115}, cfg.FacilityTypes)
	require.Equal(t, 60*time.Second, cfg.RequestTimeout)
	require.Equal(t, 0.5, cfg.RatePerSecond)
	require.Equal(t, "admin", cfg.OperatorUser)
}

func TestFromEnvMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ANC_LOGIN", "courts@example.com")
	t.Setenv("ANC_PASSWORD", "hunter2")
	_, err := FromEnv()
	require.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://db.example.com/postgres")
	t.Setenv("ANC_PASSWORD", "")
	_, err = FromEnv()
	require.ErrorContains(t, err, "ANC_LOGIN and ANC_PASSWORD")
}

func TestFromEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ANC_FACILITY_TYPES", "39, 115, 7")
	t.Setenv("ANC_TIMEOUT_SECONDS", "30")
	t.Setenv("ANC_RATE_PER_SECOND", "2")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, []int{39, 115, 7}, cfg.FacilityTypes)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout)
	require.Equal(t, 2.0, cfg.RatePerSecond)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	setRequiredEnv(t)

	t.Setenv("ANC_FACILITY_TYPES", "39,banana")
	_, err := FromEnv()
	require.ErrorContains(t, err, "ANC_FACILITY_TYPES")

	t.Setenv("ANC_FACILITY_TYPES", "39")
	t.Setenv("ANC_TIMEOUT_SECONDS", "0")
	_, err = FromEnv()
	require.ErrorContains(t, err, "ANC_TIMEOUT_SECONDS")
}

func TestLoadServerKeys(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("OPERATOR_PASSWORD_BCRYPT", "$2a$10$abcdefghijklmnopqrstuv")
	t.Setenv("COOKIE_HASH_KEY", base64.StdEncoding.EncodeToString(make([]byte, 64)))
	t.Setenv("COOKIE_BLOCK_KEY", base64.StdEncoding.EncodeToString(make([]byte, 32)))

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.NoError(t, cfg.LoadServerKeys())
	require.Len(t, cfg.CookieHashKey, 64)
	require.Len(t, cfg.CookieBlockKey, 32)

	t.Setenv("COOKIE_BLOCK_KEY", "!!!not-base64!!!")
	require.Error(t, cfg.LoadServerKeys())

	t.Setenv("OPERATOR_PASSWORD_BCRYPT", "")
	require.ErrorContains(t, cfg.LoadServerKeys(), "OPERATOR_PASSWORD_BCRYPT")
}

func TestStorageDSN(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		password string
		want     string
	}{
		{
			name: "no separate password",
			url:  "postgres://user:pw@db.example.com/postgres",
			want: "postgres://user:pw@db.example.com/postgres",
		},
		{
			name:     "url gains password parameter",
			url:      "postgres://user@db.example.com/postgres",
			password: "pw",
			want:     "postgres://user@db.example.com/postgres?password=pw",
		},
		{
			name:     "url with existing query",
			url:      "postgres://user@db.example.com/postgres?sslmode=require",
			password: "pw",
			want:     "postgres://user@db.example.com/postgres?sslmode=require&password=pw",
		},
		{
			name:     "url password with reserved characters",
			url:      "postgres://user@db.example.com/postgres",
			password: "p&w #1",
			want:     "postgres://user@db.example.com/postgres?password=p%26w+%231",
		},
		{
			name:     "keyword password with space and quote",
			url:      "host=db.example.com user=user",
			password: `p w'x`,
			want:     `host=db.example.com user=user password='p w\'x'`,
		},
		{
			name:     "keyword dsn",
			url:      "host=db.example.com user=user dbname=postgres",
			password: "pw",
			want:     "host=db.example.com user=user dbname=postgres password=pw",
		},
		{
			name:     "password already present",
			url:      "host=db.example.com password=old",
			password: "pw",
			want:     "host=db.example.com password=old",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Config{DatabaseURL: tt.url, DatabasePassword: tt.password}
			require.Equal(t, tt.want, c.StorageDSN())
		})
	}
}
