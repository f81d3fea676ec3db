package logconfig

import (
	"fmt"

	myLogger "github.com/sirupsen/logrus"
)

// This output format is used in the test (has terminal).
func ConfigDebugLogger() {
	// configure log facility in this test
	myLogger.SetReportCaller(true)
	myLogger.SetLevel(myLogger.DebugLevel)
	myLogger.SetFormatter(&myLogger.TextFormatter{
		ForceColors:            true,
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
}

func ConfigInfoLogger() {
	// configure log facility in this test
	myLogger.SetReportCaller(false)
	myLogger.SetLevel(myLogger.InfoLevel)
	myLogger.SetFormatter(&myLogger.TextFormatter{
		ForceColors:            true,
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
}

// This output format is used in production.
func ConfigProductionLogger() {
	myLogger.SetLevel(myLogger.InfoLevel)
	myLogger.SetFormatter(&myLogger.JSONFormatter{})
}

// Configure sets the level ("debug", "info", "warn", ...) and the
// format ("text" or "json") from the maintainer config.
func Configure(level string, format string) error {
	lvl, err := myLogger.ParseLevel(level)
	if err != nil {
		return err
	}

	switch format {
	case "json":
		ConfigProductionLogger()
	case "", "text":
		myLogger.SetFormatter(&myLogger.TextFormatter{
			FullTimestamp:          true,
			DisableLevelTruncation: true,
			PadLevelText:           true,
		})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	myLogger.SetLevel(lvl)
	myLogger.SetReportCaller(lvl >= myLogger.DebugLevel)
	return nil
}
