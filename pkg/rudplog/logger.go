// Package rudplog wires the module's structured logging (github.com/rs/zerolog)
// and keeps the cosmetic startup banner/section helpers the teacher's
// hand-rolled logger offered, minus its colored level-printing, which
// zerolog's console writer already covers.
package rudplog

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// New builds a console-rendered zerolog.Logger at the given minimum
// level. levelName accepts zerolog's usual names ("debug", "info",
// "warn", "error"); an unrecognized name falls back to info.
func New(levelName string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(levelName)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Section prints a section header to stdout, independent of the
// structured log stream, for human-oriented CLI output.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n╔%s╗\n", border)
	fmt.Printf("║ %-57s ║\n", title)
	fmt.Printf("╚%s╝\n\n", border)
}

// Banner prints the application banner shown once at startup.
func Banner(title, version string) {
	banner := `
╔═══════════════════════════════════════════════════════════╗
║                                                           ║
║   ██████╗ ██╗   ██╗██████╗ ██████╗                       ║
║   ██╔══██╗██║   ██║██╔══██╗██╔══██╗                      ║
║   ██████╔╝██║   ██║██║  ██║██████╔╝                      ║
║   ██╔══██╗██║   ██║██║  ██║██╔═══╝                       ║
║   ██║  ██║╚██████╔╝██████╔╝██║                           ║
║   ╚═╝  ╚═╝ ╚═════╝ ╚═════╝ ╚═╝                           ║
║                                                           ║
║              %-37s║
║                    Version %-7s                      ║
║                                                           ║
╚═══════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, title, version)
}
