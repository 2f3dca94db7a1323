package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jwulff/voicememo/internal/app"
	"github.com/jwulff/voicememo/internal/daemon"
	"github.com/jwulff/voicememo/internal/mcpserver"
)

func newServeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the transcription daemon",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ff := c.ffmpeg()
			engine := c.engine(store, ff)
			srv := daemon.NewServer(engine, store,
				func(onProgress func(float64)) daemon.Concatenator {
					return c.concatenator(ff, onProgress)
				},
				daemon.WithLogger(c.logger),
				daemon.WithFs(c.fs),
			)

			c.logger.Info("daemon starting", "socket", c.cfg.SocketPath, "db", c.cfg.DBPath, "backend", c.cfg.Backend)
			return srv.ListenAndServe(c.ctx, c.cfg.SocketPath)
		},
	}
}

func newTUICommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "tui [memo-id]",
		Short:   "Watch and control transcription in the terminal",
		Example: "$ voicememo tui 6f1c2e3a-...",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var memoID string
			if len(args) == 1 {
				memoID = args[0]
			}
			p := tea.NewProgram(app.New(c.cfg.SocketPath, memoID), tea.WithAltScreen(), tea.WithContext(c.ctx))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			return nil
		},
	}
}

func newMCPCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve memos and transcripts as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return mcpserver.Serve(store, version)
		},
	}
}
