package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"briefline/internal/bus"
	"briefline/internal/config"
	"briefline/internal/generate"
	"briefline/internal/logger"
	"briefline/internal/metrics"
	"briefline/internal/orchestrator"
	"briefline/internal/server"
	"briefline/internal/store"
	brieflinesdk "briefline/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "briefline",
	Short: "Briefline CLI",
	Long: `Briefline runs long-form research jobs and streams their progress live.
- Submit a topic and a depth (1-5); the job is decomposed into report
  sections that are generated concurrently and persisted as they finish.
- Watch a job's live event stream, or recover full state at any time from
  the persisted job and section records.
- Cancel a running job or resume a cancelled/failed one from scratch.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BRIEFLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "API server base URL")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(sectionsCmd())
	rootCmd.AddCommand(artifactsCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(watchCmd())
}

func client() *brieflinesdk.Client {
	return brieflinesdk.New(viper.GetString("server"))
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the briefline API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			log := logger.New(cfg.Log.Level, cfg.Log.Format)

			dsn := cfg.Database.URL
			if env := viper.GetString("database-url"); env != "" {
				dsn = env
			}
			st, err := store.Open(cmd.Context(), dsn, workspace)
			if err != nil {
				return err
			}
			defer st.Close()

			var gen generate.Generator
			if key := os.Getenv(cfg.Generator.APIKeyEnv); key != "" {
				gen, err = generate.NewOpenAI(generate.OpenAIOptions{
					APIKey:    key,
					Model:     cfg.Generator.Model,
					BaseURL:   cfg.Generator.BaseURL,
					MaxTokens: cfg.Generator.MaxTokens,
					Timeout:   cfg.GeneratorTimeout(),
				})
				if err != nil {
					return err
				}
				log.Info("content generation enabled", "model", cfg.Generator.Model)
			} else {
				gen = generate.Static{}
				log.Warn("no generator API key set, using static content", "env", cfg.Generator.APIKeyEnv)
			}

			m := metrics.New(prometheus.DefaultRegisterer)
			registry := bus.NewRegistry()
			orch := orchestrator.New(st, gen, registry, m, log)

			handler, err := server.New(server.Config{
				Orchestrator: orch,
				Store:        st,
				Bus:          registry,
				Metrics:      m,
				BasePath:     cfg.Server.BasePath,
				Log:          log,
			})
			if err != nil {
				return err
			}

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			errCh := make(chan error, 1)
			go func() {
				log.Info("server listening", "addr", cfg.Server.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
					return
				}
				errCh <- nil
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-stop:
			}
			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default briefline.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	return cfg
}

func submitCmd() *cobra.Command {
	var topic string
	var depth int
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a research job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if topic == "" {
				return fmt.Errorf("--topic required")
			}
			job, err := client().Submit(cmd.Context(), topic, depth)
			if err != nil {
				return err
			}
			return printJob(job)
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "research topic")
	cmd.Flags().IntVar(&depth, "depth", 3, "research depth 1-5")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := client().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJob(job)
		},
	}
	return cmd
}

func sectionsCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "sections <job-id>",
		Short: "List a job's sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sections, err := client().Sections(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(sections)
			}
			if full {
				for _, s := range sections {
					fmt.Printf("## %s\n\n%s\n\n", s.Title, s.Content)
				}
				return nil
			}
			t := newTable()
			t.AppendHeader(table.Row{"KEY", "TITLE", "BYTES", "CREATED"})
			for _, s := range sections {
				t.AppendRow(table.Row{s.Key, s.Title, len(s.Content), s.CreatedAt})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "print full section content")
	return cmd
}

func artifactsCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "artifacts <job-id>",
		Short: "List a job's artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			artifacts, err := client().Artifacts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(artifacts)
			}
			if full {
				for _, a := range artifacts {
					fmt.Printf("## %s\n\n%s\n\n", a.Title, a.Content)
				}
				return nil
			}
			t := newTable()
			t.AppendHeader(table.Row{"SECTION", "KIND", "TITLE", "BYTES", "CREATED"})
			for _, a := range artifacts {
				t.AppendRow(table.Row{a.SectionKey, a.Kind, a.Title, len(a.Content), a.CreatedAt})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "print full artifact content")
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List all jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := client().History(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(jobs)
			}
			t := newTable()
			t.AppendHeader(table.Row{"ID", "TOPIC", "DEPTH", "STATUS", "CREATED"})
			for _, j := range jobs {
				t.AppendRow(table.Row{j.ID, j.Topic, j.Depth, j.Status, j.CreatedAt})
			}
			t.Render()
			return nil
		},
	}
	return cmd
}

func cancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := client().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJob(job)
		},
	}
	return cmd
}

func resumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Resume a cancelled or failed job from scratch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := client().Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJob(job)
		},
	}
	return cmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job's live event stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			done := errors.New("stream finished")
			err := client().Stream(cmd.Context(), args[0], func(ev brieflinesdk.Event) error {
				printEvent(ev)
				switch ev.Kind {
				case "job_complete", "error", "cancelled":
					return done
				}
				return nil
			})
			if errors.Is(err, done) {
				return nil
			}
			return err
		},
	}
	return cmd
}

func printEvent(ev brieflinesdk.Event) {
	if viper.GetBool("json") {
		_ = printJSON(ev)
		return
	}
	line := ev.Kind
	if ev.SectionKey != "" {
		line += " [" + ev.SectionKey + "]"
	}
	if ev.Progress != nil {
		line += fmt.Sprintf(" %d%%", *ev.Progress)
	}
	if ev.Text != "" && ev.Kind != "content" {
		line += " " + ev.Text
	}
	fmt.Println(line)
	if ev.FullReport != "" {
		fmt.Println("\n" + ev.FullReport)
	}
}

func printJob(job brieflinesdk.Job) error {
	if viper.GetBool("json") {
		return printJSON(job)
	}
	t := newTable()
	t.AppendHeader(table.Row{"ID", "TOPIC", "DEPTH", "STATUS", "CREATED"})
	t.AppendRow(table.Row{job.ID, job.Topic, job.Depth, job.Status, job.CreatedAt})
	t.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}
