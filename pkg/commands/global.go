package commands

import (
	"fmt"
	"path"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func GlobalFlags() []cli.Flag {
	globalFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log Level",
			Aliases: []string{"l"},
			EnvVars: []string{"EASYPAGE_LOG_LEVEL", "LOGLEVEL"},
			Value:   "info",
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format, json or text",
			EnvVars: []string{"EASYPAGE_LOG_FORMAT"},
			Value:   "json",
		},
		&cli.BoolFlag{
			Name:  "log-caller",
			Usage: "log the caller (aka line number and file)",
		},
	}

	return globalFlags
}

func Before(c *cli.Context) error {
	prettyfier := func(f *runtime.Frame) (string, string) {
		return "", fmt.Sprintf("%s:%d", path.Base(f.File), f.Line)
	}
	if c.Bool("log-caller") {
		logrus.SetReportCaller(true)
	}

	switch c.String("log-format") {
	case "text":
		formatter := &logrus.TextFormatter{FullTimestamp: true}
		if c.Bool("log-caller") {
			formatter.CallerPrettyfier = prettyfier
		}
		logrus.SetFormatter(formatter)
	default:
		formatter := &logrus.JSONFormatter{}
		if c.Bool("log-caller") {
			formatter.CallerPrettyfier = prettyfier
		}
		logrus.SetFormatter(formatter)
	}

	switch c.String("log-level") {
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	}

	return nil
}
