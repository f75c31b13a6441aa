package util

import (
	"fmt"
	"log"
	"os"
	"time"
)

// Hello is a simple helper function to print a hello message and time.
func Hello(program, version string, flags Flags) {
	start := time.Now().UnixNano()

	logFlags := log.LstdFlags
	if flags.Debug {
		logFlags = logFlags + log.Lshortfile
	}
	logFlags = logFlags - log.Ldate // remove the date for now
	log.SetFlags(logFlags)
	log.SetOutput(os.Stderr)

	if program == "" {
		program = "<unknown>"
	}
	fmt.Printf("This is: %s, version: %s\n", program, version)
	log.Printf("main: start: %v", start)
}
