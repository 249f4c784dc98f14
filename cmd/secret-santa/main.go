package main

import (
	"errors"
	"fmt"
	"os"

	"telegram-secret-santa/internal/app"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code := exitOK
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "secret-santa terminated with error: %v\n", err)
		code = exitRuntime
		if errors.Is(err, app.ErrConfig) {
			code = exitConfig
		}
	}
	os.Exit(code)
}
