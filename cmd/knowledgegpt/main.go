// knowledgegpt is the document-grounded assistant CLI: it serves the web
// chat, runs interactive or one-shot questions, and manages the document
// set from the command line.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/inception881/knowledgeGPT/app"
	"github.com/inception881/knowledgeGPT/config"
	"github.com/inception881/knowledgeGPT/loader"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "knowledgegpt",
		Short:         "Document-grounded conversational assistant",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")

	root.AddCommand(
		newServeCmd(&configPath),
		newChatCmd(&configPath),
		newAskCmd(&configPath),
		newIngestCmd(&configPath),
		newDocsCmd(&configPath),
	)
	return root
}

func buildApp(ctx context.Context, configPath string) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(ctx, cfg)
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := &http.Server{
				Addr:    a.Config.ListenAddr,
				Handler: a.Server.Handler(),
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			a.Logger.Info("server listening", "addr", a.Config.ListenAddr)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.Logger.Info("shutting down")
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newChatCmd(configPath *string) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := buildApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			sess := a.Sessions.GetOrCreate(sessionID)
			fmt.Println("Ask about your documents. /clear resets the session, /quit exits.")

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch {
				case line == "":
					continue
				case line == "/quit", line == "/exit":
					return nil
				case line == "/clear":
					if err := a.Sessions.Clear(sessionID); err != nil {
						a.Logger.Error("clear failed", "err", err)
						continue
					}
					sess = a.Sessions.GetOrCreate(sessionID)
					fmt.Println("Session cleared.")
					continue
				}

				out, err := sess.Ask(ctx, line, func(delta string) {
					fmt.Print(delta)
				})
				if err != nil {
					fmt.Println()
					a.Logger.Error("turn failed", "err", err)
					continue
				}
				fmt.Println()
				printReferences(out.References)
			}
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "cli", "session id to resume")
	return cmd
}

func newAskCmd(configPath *string) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			sess := a.Sessions.GetOrCreate(sessionID)
			out, err := sess.Ask(cmd.Context(), strings.Join(args, " "), func(delta string) {
				fmt.Print(delta)
			})
			if err != nil {
				return err
			}
			fmt.Println()
			printReferences(out.References)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "cli", "session id to resume")
	return cmd
}

func newIngestCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest documents into the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var failed bool
			for _, path := range args {
				result, err := a.Loader.IngestFile(cmd.Context(), path)
				switch {
				case errors.Is(err, loader.ErrAlreadyProcessed):
					fmt.Printf("%s: already processed, skipped\n", path)
				case err != nil:
					log.Error("ingestion failed", "file", path, "err", err)
					failed = true
				default:
					fmt.Printf("%s: %d chunks indexed\n", result.DocID, result.Chunks)
				}
			}
			if failed {
				return errors.New("some documents failed to ingest")
			}
			return nil
		},
	}
}

func newDocsCmd(configPath *string) *cobra.Command {
	docs := &cobra.Command{
		Use:   "docs",
		Short: "Manage ingested documents",
	}

	docs.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List ingested documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			names := a.Loader.List()
			if len(names) == 0 {
				fmt.Println("No documents ingested.")
				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	})

	docs.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete one document and its vectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			removed, err := a.Loader.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d vectors removed\n", args[0], removed)
			return nil
		},
	})

	docs.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every document and reset the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Loader.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("All documents cleared.")
			return nil
		},
	})

	return docs
}

func printReferences(refs []string) {
	if len(refs) == 0 {
		return
	}
	fmt.Printf("\nSources: %s\n", strings.Join(refs, ", "))
}
