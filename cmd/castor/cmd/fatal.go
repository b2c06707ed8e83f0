package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
)

var (
	// globals used to patch over calls to os.Exit() during test

	logFatalln = log.Fatalln
	logFatalf  = log.Fatalf
	osExit     = os.Exit

	// infoLogger wraps informative messages to os.Stdout without cluttering expected output in tests.
	infoLogger = log.New(os.Stdout, "", 0)

	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
)

func init() {
	log.SetFlags(0)
}

func wrapFatalln(msg string, err error) {
	if err == nil {
		logFatalln(msg)
	} else {
		logFatalf("%v", fmt.Errorf(msg+": %w", err))
	}
}

func logSuccess(format string, args ...interface{}) {
	infoLogger.Println(successColor.Sprintf(format, args...))
}

func logWarn(format string, args ...interface{}) {
	infoLogger.Println(warnColor.Sprintf(format, args...))
}
