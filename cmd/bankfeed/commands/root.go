package commands

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"bankfeed-backend/lib/configutil"
	"bankfeed-backend/lib/restyutil"
	"bankfeed-backend/lib/scrapers/bancaweb"
	"bankfeed-backend/lib/serviceutil"
	"bankfeed-backend/lib/sqliteutil"
	"bankfeed-backend/lib/statementstore/db"
	"bankfeed-backend/lib/telemetry"
	"bankfeed-backend/services/bankfeed"
)

type LoginConfig struct {
	MaxAttempts       int `json:"max_attempts"`
	RetryDelaySeconds int `json:"retry_delay_seconds"`
	MinAnswers        int `json:"min_answers"`
}

type PortalConfig struct {
	BaseUrl           string            `json:"base_url"`
	UserAgent         string            `json:"user_agent"`
	TimeoutSeconds    int               `json:"timeout_seconds"`
	Cookies           map[string]string `json:"cookies"`
	Username          string            `json:"username"`
	Secret            string            `json:"secret"`
	SecurityQuestions string            `json:"security_questions"`
	Login             LoginConfig       `json:"login"`
	MaxPages          int               `json:"max_pages"`
}

func (c PortalConfig) scraperConfig() bancaweb.Config {
	return bancaweb.Config{
		BaseUrl:   c.BaseUrl,
		UserAgent: c.UserAgent,
		Timeout:   time.Duration(c.TimeoutSeconds) * time.Second,
		Cookies:   c.Cookies,
		Credentials: bancaweb.Credentials{
			Username: c.Username,
			Secret:   c.Secret,
		},
		SecurityQuestions: c.SecurityQuestions,
		Login: bancaweb.LoginSettings{
			MaxAttempts: c.Login.MaxAttempts,
			RetryDelay:  time.Duration(c.Login.RetryDelaySeconds) * time.Second,
			MinAnswers:  c.Login.MinAnswers,
		},
		MaxPages: c.MaxPages,
	}
}

type Config struct {
	Database string         `json:"database"`
	Portals  []PortalConfig `json:"portals"`
}

var configFile *string
var verbose *bool

var rootCmd = &cobra.Command{
	Use:   "bankfeed",
	Short: "bankfeed pulls accounts and statements out of a WebForms banking portal.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)
		if *verbose {
			bancaweb.SetRestyInstrumentOutput(restyutil.NewFilesystemOutput(".dev/resty/bancaweb"))
		}
	},
}

func init() {
	configFile = rootCmd.PersistentFlags().String("config", "config.json5", "The config file to read portals from.")
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging/instrumentation.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func readConfig() Config {
	cfg, err := configutil.ReadConfig[Config](*configFile)
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	return cfg
}

// portalFor picks the portal entry for --user, defaulting to the first
// one configured.
func portalFor(cfg Config, username string) PortalConfig {
	if len(cfg.Portals) == 0 {
		serviceutil.Fatal("failed to pick portal", fmt.Errorf("config declares no portals"))
	}
	if username == "" {
		return cfg.Portals[0]
	}
	for _, portal := range cfg.Portals {
		if portal.Username == username {
			return portal
		}
	}
	serviceutil.Fatal("failed to pick portal", fmt.Errorf("no portal configured for user %q", username))
	return PortalConfig{}
}

// newSession builds a scraper for the portal and runs the login dance.
func newSession(ctx context.Context, portal PortalConfig) *bancaweb.Client {
	client, err := bancaweb.New(portal.scraperConfig())
	if err != nil {
		serviceutil.Fatal("failed to initialize scraper", err)
	}

	slog.Info("logging in", "username", portal.Username, "portal", portal.BaseUrl)
	res := client.Login(ctx)
	if !res.Success {
		client.Close()
		serviceutil.Fatal("failed to login", fmt.Errorf("%s", res.Message))
	}
	return client
}

func openService(cfg Config) (bankfeed.Service, *sql.DB) {
	database, err := sqliteutil.OpenDB(db.Schema, cfg.Database)
	if err != nil {
		serviceutil.Fatal("failed to open database", err)
	}

	portals := make([]bancaweb.Config, len(cfg.Portals))
	for i, portal := range cfg.Portals {
		portals[i] = portal.scraperConfig()
	}
	service, err := bankfeed.NewService(bankfeed.ServiceOptions{
		Database: database,
		Portals:  portals,
	})
	if err != nil {
		database.Close()
		serviceutil.Fatal("failed to initialize service", err)
	}
	return service, database
}
