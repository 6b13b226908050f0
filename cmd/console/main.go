package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	tea "github.com/charmbracelet/bubbletea"
)

type ConsoleConfig struct {
	APIBaseURL string        `env:"API_BASE_URL" envDefault:"http://localhost:8080"`
	Language   string        `env:"GAME_LANGUAGE" envDefault:"en"`
	Speakers   bool          `env:"SHOW_SPEAKERS" envDefault:"true"` // fetch speaker segments for every turn
	Timeout    time.Duration `env:"CONSOLE_TIMEOUT" envDefault:"3m"` // a turn waits on several model calls
}

func main() {
	cfg, err := env.ParseAs[ConsoleConfig]()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid console configuration: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
	}

	if !testConnection(client, cfg.APIBaseURL) {
		fmt.Fprintf(os.Stderr, "Could not connect to API at %s. Please ensure the API is running.\n", cfg.APIBaseURL)
		os.Exit(1)
	}

	p := tea.NewProgram(NewConsoleUI(&cfg, client),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}
