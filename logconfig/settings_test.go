package logconfig

import (
	"testing"

	myLogger "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestConfigure(t *testing.T) {
	t.Cleanup(ConfigInfoLogger)

	assert.NoError(t, Configure("debug", "json"))
	assert.Equal(t, myLogger.DebugLevel, myLogger.GetLevel())
	assert.IsType(t, &myLogger.JSONFormatter{}, myLogger.StandardLogger().Formatter)

	assert.NoError(t, Configure("warn", ""))
	assert.Equal(t, myLogger.WarnLevel, myLogger.GetLevel())
	assert.IsType(t, &myLogger.TextFormatter{}, myLogger.StandardLogger().Formatter)

	assert.Error(t, Configure("loud", "text"))
	assert.Error(t, Configure("info", "xml"))
}
