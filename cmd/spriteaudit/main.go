// Command spriteaudit recolors the dino frames of the sprite sheet and fails
// if any near-white pixel survives.
//
// Usage:
//
//	spriteaudit -src app/img/offline-sprite-1x.png -out visual/audit
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/hazyhaar/visreg/spriteaudit"
)

func main() {
	src := flag.String("src", "app/img/offline-sprite-1x.png", "sprite sheet")
	out := flag.String("out", "visual/audit", "directory for the recolored frames")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	rep, err := spriteaudit.Audit(*src, spriteaudit.DefaultFrames(), *out)
	if err != nil {
		fmt.Printf("[FAIL] %v\n", err)
		logger.Error("spriteaudit: fatal", "error", err)
		os.Exit(1)
	}
	if err := rep.Write(os.Stdout); err != nil {
		logger.Error("spriteaudit: write report", "error", err)
		os.Exit(1)
	}
	if !rep.Passed() {
		os.Exit(1)
	}
}
