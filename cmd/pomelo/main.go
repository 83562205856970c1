package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pomelo-db/pomelo"
)

var (
	dbPath     string
	configPath string
	tableName  string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "pomelo",
	Short: "CLI for the pomelo document store",
	Long:  `A command-line interface for inspecting and mutating a pomelo database file, and for serving it over WebSocket.`,
}

func loadConfig() (pomelo.Config, error) {
	if configPath != "" {
		return pomelo.LoadConfig(configPath)
	}
	return pomelo.DefaultConfig(dbPath), nil
}

func openDB() (*pomelo.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := pomelo.Open(dbPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if tableName != "" {
		db = db.Table(tableName)
	}
	return db, nil
}

func printDocs(docs []*pomelo.Document) error {
	for _, doc := range docs {
		out, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	}
	return nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new database",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		fmt.Printf("Database initialized at %s\n", dbPath)
		return nil
	},
}

var insertCmd = &cobra.Command{
	Use:   "insert <json>",
	Short: "Insert a record given as a JSON object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := pomelo.ParseDocument([]byte(args[0]))
		if err != nil {
			return fmt.Errorf("invalid record: %w", err)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		id, err := db.Insert(doc)
		if err != nil {
			return err
		}
		fmt.Printf("Inserted record %d\n", id)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [json]",
	Short: "Search records, optionally by a partial record",
	Long:  `Without arguments, lists every record of the table. With a JSON object, returns records sharing at least one field/value pair with it. With --pattern, matches a case-insensitive pattern against every value.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern, _ := cmd.Flags().GetString("pattern")
		rate, _ := cmd.Flags().GetInt("limit")

		q := pomelo.MatchAll()
		switch {
		case pattern != "":
			q = pomelo.MatchPattern(pattern)
		case len(args) == 1:
			doc, err := pomelo.ParseDocument([]byte(args[0]))
			if err != nil {
				return fmt.Errorf("invalid query record: %w", err)
			}
			q = pomelo.Match(doc)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		cur, err := db.SearchRate(q, rate)
		if err != nil {
			return err
		}
		return printDocs(cur.All())
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <json>",
	Short: "Delete records matching a partial record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		first, _ := cmd.Flags().GetBool("first")

		doc, err := pomelo.ParseDocument([]byte(args[0]))
		if err != nil {
			return fmt.Errorf("invalid query record: %w", err)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		deleted, err := db.Delete(pomelo.Match(doc), !first)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d record(s)\n", len(deleted))
		return nil
	},
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the tables of the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		names, err := db.Tables()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reset the database to a single empty table",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		if err := db.Clear(); err != nil {
			return err
		}
		fmt.Println("Database cleared")
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the database over WebSocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		metrics, _ := cmd.Flags().GetBool("metrics")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if addr != "" {
			cfg.Server.Addr = addr
		}
		if metrics {
			cfg.Server.EnableMetrics = true
		}

		db, err := pomelo.Open(dbPath, cfg)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() { _ = db.Close() }()

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		srv := pomelo.NewServer(db, cfg.Server, logger)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() { _ = srv.Close() }()

		fmt.Printf("Serving %s on ws://%s%s\n", dbPath, srv.Addr(), cfg.Server.WSPath)

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		fmt.Println("Shutting down")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "pomelo.json", "Database file path")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&tableName, "table", "t", "", "Table to operate on")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	searchCmd.Flags().String("pattern", "", "Case-insensitive pattern matched against every value")
	searchCmd.Flags().Int("limit", 0, "Maximum number of results (0 = unlimited)")
	deleteCmd.Flags().Bool("first", false, "Delete only the first match")
	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")
	serveCmd.Flags().Bool("metrics", false, "Expose Prometheus metrics on /metrics")

	rootCmd.AddCommand(initCmd, insertCmd, searchCmd, deleteCmd, tablesCmd, clearCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
