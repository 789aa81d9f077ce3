package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/antoniostano/voxline/internal/app"
	"github.com/antoniostano/voxline/internal/observability"
	"github.com/antoniostano/voxline/internal/session"
)

var (
	callAgentFile string
	callAgentID   string
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Run a single call in the foreground",
	Long: `call starts one call with the given agent and prints call events until
Ctrl+C or until the speech backend is lost.

Examples:
  voxline call --agent agents/pizzeria.yaml
  voxline call --agent-id 42`,
	Args: cobra.NoArgs,
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&callAgentFile, "agent", "", "agent definition file (YAML or JSON)")
	callCmd.Flags().StringVar(&callAgentID, "agent-id", "", "agent id to fetch from the backend")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if callAgentFile != "" {
		cfg.AgentFile = callAgentFile
	}
	if callAgentID != "" {
		cfg.AgentID = callAgentID
	}
	if cfg.AgentFile == "" && cfg.AgentID == "" {
		return errors.New("an agent is required: pass --agent or --agent-id")
	}
	log := observability.Logger()

	res, err := app.Build(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			log.Error("cleanup failed", "error", err)
		}
	}()

	agentCfg, err := res.Agents.GetAgent(cmd.Context(), cfg.AgentID)
	if err != nil {
		return fmt.Errorf("resolve agent: %w", err)
	}

	events, unsubscribe := res.Controller.Subscribe(64)
	defer unsubscribe()

	sess, err := res.Controller.Start(cmd.Context(), agentCfg)
	if err != nil {
		return fmt.Errorf("start call: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "call %s with agent %s (speech: %s). Ctrl+C to hang up.\n", sess.ID, agentCfg.ID, res.Speech.Provider)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-sigCh:
			res.Controller.Stop()
			fmt.Fprintln(out, "call ended")
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			printEvent(out, ev)
			if ev.Type == session.EventState && ev.State == session.StateIdle && ev.SessionID == sess.ID {
				fmt.Fprintln(out, "call ended")
				return nil
			}
		}
	}
}
