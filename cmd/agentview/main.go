// Package main provides the agentview CLI: start an execution on a backend
// and watch its agent graph assemble live in the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tcmartin/agentview/pkg/client"
	"github.com/tcmartin/agentview/pkg/config"
	"github.com/tcmartin/agentview/pkg/graph"
	"github.com/tcmartin/agentview/pkg/ingest"
	"github.com/tcmartin/agentview/pkg/layout"
)

var (
	// Global flags
	serverURL  string
	configPath string
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "agentview",
		Short: "Agent execution viewer",
		Long:  "Observe a remote multi-agent execution: stream its frames, rebuild the agent graph, and render it as it grows",
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Backend base URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	startCmd := &cobra.Command{
		Use:   "start [task]",
		Short: "Start an execution and print its id",
		Args:  cobra.ExactArgs(1),
		RunE:  runStart,
	}

	watchCmd := &cobra.Command{
		Use:   "watch [execution-id]",
		Short: "Attach to an execution and watch its graph",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}
	watchCmd.Flags().Bool("tail", false, "Resume from the current tail instead of replaying history")

	rootCmd.AddCommand(startCmd, watchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return cfg, err
	}
	if serverURL != "" {
		cfg.Server.BaseURL = serverURL
	}
	return cfg, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	launcher := client.NewLauncher(cfg.Server.BaseURL)
	execID, err := launcher.Start(context.Background(), client.StartRequest{Task: args[0]})
	if err != nil {
		return err
	}

	fmt.Println(execID)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	execID := args[0]
	tail, _ := cmd.Flags().GetBool("tail")

	store := graph.NewStore()
	ingestor := ingest.NewIngestor(store)
	launcher := client.NewLauncher(cfg.Server.BaseURL)

	// Re-render at most a few times a second; the store still applies
	// every accepted frame regardless of render batching.
	var dirty atomic.Bool
	store.Subscribe(func() { dirty.Store(true) })

	manager := client.NewManager(client.ManagerConfig{
		StreamURL:      launcher.StreamURL(execID),
		ReconnectDelay: cfg.Connection.ReconnectDelay(),
		Active:         func() bool { return !store.Finished() },
		OnState: func(s client.State) {
			fmt.Fprintf(os.Stderr, "connection: %s\n", s)
		},
	}, ingestor)

	mode := client.ResumeReplay
	if tail {
		mode = client.ResumeTail
	}
	if err := manager.Connect(mode); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			manager.Stop()
			render(store, cfg.Layout)
			return nil
		case <-ticker.C:
			if dirty.Swap(false) {
				render(store, cfg.Layout)
			}
			if store.Finished() {
				manager.Stop()
				render(store, cfg.Layout)
				return nil
			}
		}
	}
}

// render prints the graph column by column, ordered by the computed layout.
func render(store *graph.Store, cfg layout.Config) {
	snap := store.Snapshot()
	positions := layout.Layout(snap.Nodes, snap.Edges, cfg)

	ids := make([]string, 0, len(snap.Nodes))
	for id := range snap.Nodes {
		ids = append(ids, id)
	}
	// Reading order: left to right, top to bottom.
	sortByPosition(ids, positions)

	fmt.Println("----------------------------------------")
	for _, id := range ids {
		n := snap.Nodes[id]
		pos := positions[id]
		name := n.Name
		if name == "" {
			name = n.ID
		}
		fmt.Printf("%*s[%s] %s (%s)", n.Depth*2, "", statusGlyph(n.Status), name, n.Status)
		if n.Error != "" {
			fmt.Printf(" error=%s", n.Error)
		}
		fmt.Printf("  @(%.0f,%.0f)\n", pos.X, pos.Y)
		if n.Output != "" {
			fmt.Printf("%*s  %s\n", n.Depth*2, "", lastLine(n.Output))
		}
	}
	if snap.Finished {
		fmt.Println("execution finished")
	}
}

func sortByPosition(ids []string, positions map[string]layout.Position) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := positions[ids[i]], positions[ids[j]]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return ids[i] < ids[j]
	})
}

func statusGlyph(s graph.Status) string {
	switch s {
	case graph.StatusRunning:
		return ">"
	case graph.StatusCompleted:
		return "+"
	case graph.StatusFailed:
		return "x"
	default:
		return "."
	}
}

// lastLine returns the tail of an agent's output, enough for a one-line
// progress view.
func lastLine(output string) string {
	const max = 80
	i := len(output)
	for i > 0 && (output[i-1] == '\n' || output[i-1] == '\r') {
		i--
	}
	start := i
	for start > 0 && output[start-1] != '\n' {
		start--
	}
	line := output[start:i]
	if len(line) > max {
		line = line[:max] + "..."
	}
	return line
}
