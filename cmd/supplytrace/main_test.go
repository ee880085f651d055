package main

import (
	"context"
	"io"
	"testing"

	"supplytrace/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestBuildDryRunEnv_MinimalConfig(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	// 试运行跳过配置校验，chain段缺失也要能装配
	env := &appEnv{cfg: &config.Config{}, logger: logger}
	t.Cleanup(env.Close)

	assert.NoError(t, buildDryRunEnv(context.Background(), env))
	assert.NotNil(t, env.session)
	assert.Equal(t, "1337", env.session.ChainID)
	assert.NotNil(t, env.products)
	assert.NotNil(t, env.companies)
}

func TestBuildDryRunEnv_ChainIDFromConfig(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	env := &appEnv{
		cfg:    &config.Config{Chain: &config.ChainConfig{ChainID: "31337"}},
		logger: logger,
	}
	t.Cleanup(env.Close)

	assert.NoError(t, buildDryRunEnv(context.Background(), env))
	assert.Equal(t, "31337", env.session.ChainID)
}
