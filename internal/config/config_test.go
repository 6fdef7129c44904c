package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "TradeCouncil", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, 10, cfg.Database.PoolSize)
	assert.Equal(t, 2, cfg.Analysis.MaxDebateRounds)
	assert.Equal(t, 1, cfg.Analysis.MaxRiskRounds)
	assert.Equal(t, 8, cfg.Analysis.MaxToolRounds)
	assert.Equal(t, 30*time.Minute, cfg.Analysis.SessionDeadline)
	assert.Equal(t, 15*time.Second, cfg.Gateway.QuoteTTL)
	assert.Equal(t, 10*time.Minute, cfg.Gateway.NewsTTL)
	assert.Equal(t, 5*time.Minute, cfg.Gateway.SeriesTTL)
	assert.Equal(t, 8, cfg.Gateway.QuoteFanoutCap)
	assert.Equal(t, 500, cfg.API.GlobalRate.MaxRequests)
	assert.Equal(t, 5, cfg.API.LoginRate.MaxRequests)
	assert.Equal(t, 5*time.Minute, cfg.API.LoginRate.Window)
	assert.Equal(t, 1536, cfg.Memory.Dimensions)
	assert.False(t, cfg.LLM.Enabled())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Analysis.MaxDebateRounds = 0
	assert.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.App.Environment = "qa"
	assert.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.Database.PoolSize = -1
	assert.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.Memory.Dimensions = 768
	assert.Error(t, cfg.Validate(), "dimensions must match the memory_entries column")
}

func TestGetDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "require"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=d sslmode=require", c.GetDSN())
}

func TestDebug(t *testing.T) {
	c := AppConfig{Environment: "production"}
	assert.False(t, c.Debug())
	c.Environment = "development"
	assert.True(t, c.Debug())
}
