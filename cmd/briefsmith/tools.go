package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/briefsmith/internal/api"
	"github.com/MikeSquared-Agency/briefsmith/internal/brief"
	"github.com/MikeSquared-Agency/briefsmith/internal/config"
	"github.com/MikeSquared-Agency/briefsmith/internal/conversation"
	"github.com/MikeSquared-Agency/briefsmith/internal/store"
	"github.com/MikeSquared-Agency/briefsmith/internal/template"
)

func newPromptCmd(cfg config.Config) *cobra.Command {
	var name, useCase, aesthetic, requirements string

	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Render the generation instruction for a set of answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := template.Load(cfg.TemplatesPath)
			if err != nil {
				return fmt.Errorf("load templates: %w", err)
			}
			machine, err := conversation.NewMachine(conversation.DefaultQuestions)
			if err != nil {
				return err
			}
			instructor := conversation.NewInstructor(machine, template.NewEngine(catalog, slog.Default()))

			state := conversation.State{
				Phase:              conversation.PhaseGenerating,
				QuestionsCompleted: true,
				Answers: map[string]string{
					conversation.QuestionProductName:  name,
					conversation.QuestionUseCase:      useCase,
					conversation.QuestionAesthetic:    aesthetic,
					conversation.QuestionRequirements: requirements,
				},
			}
			text, prompt, err := instructor.Generating(state, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Category:    %s\n", prompt.Category)
			fmt.Fprintf(out, "Positioning: %s\n", prompt.Positioning)
			fmt.Fprintf(out, "Price range: %s\n", prompt.PriceRange)
			if prompt.UsedDefault {
				fmt.Fprintln(out, "Template:    default")
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, text)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "product name")
	cmd.Flags().StringVar(&useCase, "use-case", "", "what the product does and who it is for")
	cmd.Flags().StringVar(&aesthetic, "aesthetic", "", "look and feel")
	cmd.Flags().StringVar(&requirements, "requirements", "", "hard constraints")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("use-case")
	return cmd
}

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract [FILE|-]",
		Short: "Extract a brief from an assistant reply and print the download form",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				in = f
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			ext, err := brief.Extract(string(data))
			if errors.Is(err, brief.ErrNoBrief) {
				// Accept a bare JSON brief too.
				ext, err = brief.Decode([]byte(strings.TrimSpace(string(data))))
			}
			if err != nil {
				return err
			}
			if len(ext.Mismatches) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: ignored fields with unexpected types: %s\n", strings.Join(ext.Mismatches, ", "))
			}

			out, err := brief.MarshalDownload(ext.Brief)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newTokenCmd(cfg config.Config) *cobra.Command {
	var user string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.JWTSecret == "" {
				return errors.New("BRIEFSMITH_JWT_SECRET is required")
			}
			auth, err := api.NewAuthenticator(cfg.JWTSecret)
			if err != nil {
				return err
			}
			token, err := auth.Issue(user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user id (token subject)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newMigrateCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			db, err := store.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer db.Close()
			if err := db.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}
