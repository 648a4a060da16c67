package commands

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentworkforce/gtaskfs/internal/config"
	"github.com/agentworkforce/gtaskfs/internal/diagnostics"
	"github.com/agentworkforce/gtaskfs/internal/docfs"
	"github.com/agentworkforce/gtaskfs/internal/printer"
	"github.com/agentworkforce/gtaskfs/internal/taskdoc"
	"github.com/agentworkforce/gtaskfs/internal/tasksapi"
)

var versionString = "dev"

// SetVersionInfo sets the version shown by --version.
func SetVersionInfo(v, c, d string) {
	versionString = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

// Execute runs the CLI with the process arguments. Errors not already
// shown by the printer are written to stderr.
func Execute() error {
	root, a := newRootCmd(nil)
	return execute(root, a)
}

// execute runs root and releases what setup built even when the command
// fails, since cobra skips post-run hooks after an error.
func execute(root *cobra.Command, a *app) error {
	defer a.close()
	executed, err := root.ExecuteC()
	if err != nil && !printer.Reported(err) {
		_ = printer.New(executed.OutOrStdout(), executed.ErrOrStderr()).Error(err.Error(), "", nil)
	}
	return err
}

type globalFlags struct {
	configPath   string
	apiBaseURL   string
	token        string
	tokenFile    string
	logLevel     string
	strictSchema bool
}

// app holds everything built from configuration for one invocation.
type app struct {
	flags      globalFlags
	httpClient *http.Client

	cfg         config.Config
	logger      zerolog.Logger
	printer     *printer.Printer
	session     *tasksapi.Session
	tasks       *tasksapi.HTTPClient
	diagnostics diagnostics.Sink
	schema      *taskdoc.Schema
	provider    *docfs.Provider
}

// NewRootCmd builds the command tree. httpClient is used for calls to the
// tasks service; nil means a client with the configured timeout.
func NewRootCmd(httpClient *http.Client) *cobra.Command {
	root, _ := newRootCmd(httpClient)
	return root
}

func newRootCmd(httpClient *http.Client) (*cobra.Command, *app) {
	a := &app{httpClient: httpClient}
	root := &cobra.Command{
		Use:   "gtaskfs",
		Short: "Edit Google Tasks as JSON documents",
		Long: `gtaskfs exposes each task as a JSON document addressed as
gtask-json:/<list>/<task>.json. Documents can be read and written directly,
mirrored to local files, mounted with FUSE or served over HTTP.`,
		Version:       versionString,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipSetup(cmd) {
				return nil
			}
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			a.close()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.flags.configPath, "config", "", "config file (default gtaskfs.yml)")
	flags.StringVar(&a.flags.apiBaseURL, "api-base-url", "", "tasks API base URL")
	flags.StringVar(&a.flags.token, "token", "", "OAuth access token")
	flags.StringVar(&a.flags.tokenFile, "token-file", "", "file holding the OAuth access token")
	flags.StringVar(&a.flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&a.flags.strictSchema, "strict-schema", false, "validate written documents against the JSON schema")

	root.AddCommand(
		newReadCmd(a),
		newWriteCmd(a),
		newStatCmd(a),
		newAddressCmd(a),
		newSchemaCmd(a),
		newCompleteCmd(a),
		newRenameCmd(a),
		newDeleteTaskCmd(a),
		newAddTaskCmd(a),
		newListsCmd(a),
		newTasksCmd(a),
		newAddListCmd(a),
		newDeleteListCmd(a),
		newEditCmd(a),
		newMountCmd(a),
		newServeCmd(a),
		newTokenCmd(a),
	)
	return root, a
}

// skipSetup reports the root and commands that only format values; they
// need no configuration.
func skipSetup(cmd *cobra.Command) bool {
	if !cmd.HasParent() {
		return true
	}
	switch cmd.Name() {
	case "address", "schema", "help", "completion":
		return true
	}
	return false
}

func (a *app) setup(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(a.flags.configPath, a.flags.configPath != "")
	if err != nil {
		return err
	}
	a.applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	a.printer = printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
	a.logger = newLogger(cmd.ErrOrStderr(), cfg.LogLevel)

	a.diagnostics, err = diagnostics.BuildSinkFromDSN(cfg.DiagnosticsDSN, &a.logger)
	if err != nil {
		return fmt.Errorf("build diagnostics sink: %w", err)
	}

	httpClient := a.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}
	a.session = tasksapi.NewSession()
	if tokens := cfg.TokenProvider(); tokens != nil {
		a.tasks = tasksapi.NewHTTPClient(tasksapi.HTTPClientOptions{
			BaseURL:       cfg.APIBaseURL,
			TokenProvider: tokens,
			HTTPClient:    httpClient,
			UserAgent:     "gtaskfs/" + strings.Fields(versionString)[0],
			MaxRetries:    maxRetries,
		})
		a.session.SignIn(a.tasks)
	} else {
		a.logger.Warn().Msg("no token configured, documents are served as placeholders")
	}

	if cfg.StrictSchema {
		a.schema, err = taskdoc.CompileSchema()
		if err != nil {
			return err
		}
	}
	a.provider = docfs.NewProvider(docfs.Options{
		Clients:     a.session.Current,
		SchemaRef:   cfg.SchemaRef,
		Schema:      a.schema,
		Logger:      &a.logger,
		Diagnostics: a.diagnostics,
	})
	return nil
}

func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("api-base-url") {
		cfg.APIBaseURL = a.flags.apiBaseURL
	}
	if flags.Changed("token") {
		cfg.Token = a.flags.token
	}
	if flags.Changed("token-file") {
		cfg.TokenFile = a.flags.tokenFile
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.flags.logLevel
	}
	if flags.Changed("strict-schema") {
		cfg.StrictSchema = a.flags.strictSchema
	}
}

// close is safe to call more than once.
func (a *app) close() {
	if a.provider != nil {
		a.provider.Close()
		a.provider = nil
	}
	if closer, ok := a.diagnostics.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Debug().Err(err).Msg("close diagnostics sink")
		}
	}
	a.diagnostics = nil
}

// requireTasks returns the remote client for commands that bypass the
// document surface.
func (a *app) requireTasks() (*tasksapi.HTTPClient, error) {
	if a.tasks == nil {
		return nil, a.printer.Error(
			"Google Tasks client is not initialized yet",
			"No access token is configured.",
			[]string{"pass --token or --token-file", "set GTASKFS_TOKEN or GTASKFS_TOKEN_FILE"},
		)
	}
	return a.tasks, nil
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: os.Getenv("NO_COLOR") != ""}).
		Level(parsed).
		With().
		Timestamp().
		Logger()
}

// resolveAddress accepts either a full address or a list id and task id.
func resolveAddress(args []string) (string, error) {
	switch len(args) {
	case 1:
		if _, err := taskdoc.Decode(args[0]); err != nil {
			return "", fmt.Errorf("invalid address %q: %w", args[0], err)
		}
		return args[0], nil
	case 2:
		if strings.TrimSpace(args[0]) == "" || strings.TrimSpace(args[1]) == "" {
			return "", fmt.Errorf("list id and task id must not be empty")
		}
		return taskdoc.Encode(args[0], args[1]), nil
	}
	return "", fmt.Errorf("expected ADDRESS or LIST_ID TASK_ID")
}
