package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/cli"
	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/server"
)

const defaultServerURL = "http://localhost:8080"

func newServerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			components, err := initializeComponents(a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer components.Close()

			// The server answers /health while the embedding backend warms up;
			// requests that need embeddings fail fast until Connect succeeds.
			connectCtx, cancelConnect := context.WithCancel(context.Background())
			defer cancelConnect()
			go components.Embedding.Connect(connectCtx)

			srv := server.NewServer(components.Chat, components.Embedding, components.Blobs, a.cfg, a.logger)
			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			select {
			case <-sigChan:
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			}

			a.logger.Info("Shutting down...")
			cancelConnect()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(ctx)
		},
	}
}

func newIndexCmd(a *app) *cobra.Command {
	var (
		sessionID int64
		userID    int64
		title     string
	)
	cmd := &cobra.Command{
		Use:   "index [flags] <file>",
		Short: "Upload and index a document into a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			components, err := initializeComponents(a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer components.Close()
			ctx := cmd.Context()
			if err := components.connect(ctx); err != nil {
				return err
			}

			if sessionID == 0 {
				sess, err := components.Chat.CreateSession(ctx, userID, title)
				if err != nil {
					return err
				}
				sessionID = sess.ID
			}
			contentType := mime.TypeByExtension(filepath.Ext(path))
			file, err := components.Chat.Upload(ctx, userID, sessionID, filepath.Base(path), contentType, data)
			if err != nil {
				return err
			}
			chunks, err := components.Storage.GetChunksByFile(ctx, file.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %s as file %d in session %d (%d chunks)\n",
				file.FileName, file.ID, sessionID, len(chunks))
			return nil
		},
	}
	cmd.Flags().Int64VarP(&sessionID, "session", "s", 0, "session ID (0 = reuse or create an empty session)")
	cmd.Flags().Int64Var(&userID, "user", 1, "owning user ID")
	cmd.Flags().StringVar(&title, "title", "", "title for a newly created session")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var (
		sessionID int64
		topK      int
		serverURL string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "search [flags] <query>",
		Short: "Retrieve the chunks of a session most similar to a query",
		Long: `Retrieve the chunks of a session most similar to a query.

Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.
With --server "" the database is opened directly instead of going through a running server.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			query := &models.SearchQuery{Query: joinArgs(args), TopK: topK}
			if query.Query == "" {
				return fmt.Errorf("%w: query is required", models.ErrInvalidInput)
			}
			ctx := cmd.Context()

			var response *models.SearchResponse
			if serverURL != "" {
				response, err = newAPIClient(serverURL, 0).search(ctx, sessionID, query)
			} else {
				response, err = withComponents(ctx, a, func(c *Components) (*models.SearchResponse, error) {
					return c.Chat.Search(ctx, sessionID, query)
				})
			}
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), response, format)
		},
	}
	cmd.Flags().Int64VarP(&sessionID, "session", "s", 0, "session ID to search")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of results (0 = configured default)")
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL (empty = open storage directly)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, compact, or json")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newAskCmd(a *app) *cobra.Command {
	var (
		sessionID int64
		serverURL string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "ask [flags] <message>",
		Short: "Answer a question from the documents in a session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			message := joinArgs(args)
			ctx := cmd.Context()

			var answer *models.Answer
			if serverURL != "" {
				answer, err = newAPIClient(serverURL, 0).ask(ctx, sessionID, message)
			} else {
				answer, err = withComponents(ctx, a, func(c *Components) (*models.Answer, error) {
					if _, err := c.Chat.AddMessage(ctx, sessionID, models.RoleUser, message); err != nil {
						return nil, err
					}
					return c.Chat.Answer(ctx, sessionID, message)
				})
			}
			if err != nil {
				return fmt.Errorf("ask failed: %w", err)
			}
			return cli.WriteAnswer(cmd.OutOrStdout(), answer, format)
		},
	}
	cmd.Flags().Int64VarP(&sessionID, "session", "s", 0, "session ID")
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL (empty = open storage directly)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newSessionsCmd(a *app) *cobra.Command {
	var (
		userID    int64
		serverURL string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List a user's chat sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			var sessions []*models.ChatSession
			if serverURL != "" {
				sessions, err = newAPIClient(serverURL, userID).sessions(ctx)
			} else {
				sessions, err = withStorage(a, func(c *Components) ([]*models.ChatSession, error) {
					return c.Chat.ListSessions(ctx, userID)
				})
			}
			if err != nil {
				return fmt.Errorf("list sessions failed: %w", err)
			}
			return cli.WriteSessions(cmd.OutOrStdout(), sessions, format)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 1, "user ID")
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL (empty = open storage directly)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

// withComponents opens storage directly, waits for the embedding backend and runs fn.
func withComponents[T any](ctx context.Context, a *app, fn func(*Components) (T, error)) (T, error) {
	var zero T
	components, err := initializeComponents(a.cfg, a.logger)
	if err != nil {
		return zero, err
	}
	defer components.Close()
	if err := components.connect(ctx); err != nil {
		a.logger.Debug("embedding connect failed", zap.Error(err))
		return zero, err
	}
	return fn(components)
}

// withStorage is withComponents for commands that never embed.
func withStorage[T any](a *app, fn func(*Components) (T, error)) (T, error) {
	var zero T
	components, err := initializeComponents(a.cfg, a.logger)
	if err != nil {
		return zero, err
	}
	defer components.Close()
	return fn(components)
}
