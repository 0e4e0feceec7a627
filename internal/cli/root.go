// Package cli implements chxfer, a command-line client that drives the
// transfer engine directly against a ClickHouse server.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/JonMunkholm/chxfer/internal/clickhouse"
	"github.com/JonMunkholm/chxfer/internal/core"
	"github.com/JonMunkholm/chxfer/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd(nil)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := core.FormatUserError(err); hint != "" {
			fmt.Fprintf(os.Stderr, "%s\n", hint)
		}
		return 1
	}
	return 0
}

// app is the state shared by every command once flags are resolved.
type app struct {
	dial clickhouse.Dialer

	conn        clickhouse.ConnectionConfig
	output      string
	profile     string
	profilePath string
	askPassword bool

	logLevel    string
	logFormat   string
	dialTimeout time.Duration
	timeout     time.Duration
	chunkSize   int
}

// newRootCmd builds the command tree. A nil dial uses the real driver.
func newRootCmd(dial clickhouse.Dialer) *cobra.Command {
	a := &app{dial: dial}

	rootCmd := &cobra.Command{
		Use:           "chxfer",
		Short:         "Move tables between ClickHouse and delimited files",
		Long:          "Export ClickHouse tables to CSV/TSV files and import delimited files into ClickHouse tables.",
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.resolve(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.conn.Host, "host", "localhost", "ClickHouse host")
	flags.IntVar(&a.conn.Port, "port", 8123, "ClickHouse port")
	flags.StringVarP(&a.conn.Database, "database", "d", "default", "Database name")
	flags.StringVarP(&a.conn.Username, "user", "u", "default", "Username")
	flags.StringVar(&a.conn.Password, "password", "", "Password")
	flags.StringVar(&a.conn.JWTToken, "jwt-token", "", "JWT token, used instead of the password")
	flags.StringVar((*string)(&a.conn.Protocol), "protocol", "http", "Wire protocol (http, https, native)")
	flags.BoolVar(&a.askPassword, "ask-password", false, "Read the password from the terminal or stdin")
	flags.StringVarP(&a.profile, "profile", "p", "", "Connection profile to use")
	flags.StringVar(&a.profilePath, "profiles-file", "", "Profiles file (default $CHXFER_PROFILES or ~/.chxfer/profiles.yaml)")
	flags.StringVarP(&a.output, "output", "o", "table", "Output format (table, json)")
	flags.StringVar(&a.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "text", "Log format (text, json)")
	flags.DurationVar(&a.dialTimeout, "dial-timeout", 10*time.Second, "Connect timeout")
	flags.DurationVar(&a.timeout, "timeout", core.DefaultTransferTimeout, "Maximum duration of one transfer")
	flags.IntVar(&a.chunkSize, "chunk-size", core.DefaultChunkSize, "Rows per insert")

	// Schema discovery
	rootCmd.AddCommand(newCheckCmd(a))
	rootCmd.AddCommand(newTablesCmd(a))
	rootCmd.AddCommand(newColumnsCmd(a))
	rootCmd.AddCommand(newDescribeCmd(a))
	rootCmd.AddCommand(newPreviewCmd(a))

	// Transfers
	rootCmd.AddCommand(newExportCmd(a))
	rootCmd.AddCommand(newImportCmd(a))

	rootCmd.AddCommand(newProfileCmd(a))

	return rootCmd
}

// resolve applies precedence flag > env > profile > default to the
// connection settings.
func (a *app) resolve(cmd *cobra.Command) error {
	if a.profilePath == "" {
		a.profilePath = DefaultProfilesPath()
	}

	var prof Profile
	profiles, err := LoadProfiles(a.profilePath)
	switch {
	case err == nil:
		if prof, err = profiles.Active(a.profile); err != nil {
			return err
		}
	case errors.Is(err, fs.ErrNotExist):
		// The profiles file is optional unless a profile was named.
		if a.profile != "" {
			return fmt.Errorf("profile %q not found: no profiles file at %s", a.profile, a.profilePath)
		}
	default:
		return err
	}

	port := ""
	if prof.Port != 0 {
		port = strconv.Itoa(prof.Port)
	}

	flags := cmd.Flags()
	a.conn.Host = pick(flags.Lookup("host"), "CHXFER_HOST", prof.Host)
	a.conn.Database = pick(flags.Lookup("database"), "CHXFER_DATABASE", prof.Database)
	a.conn.Username = pick(flags.Lookup("user"), "CHXFER_USER", prof.Username)
	a.conn.Password = pick(flags.Lookup("password"), "CHXFER_PASSWORD", prof.Password)
	a.conn.JWTToken = pick(flags.Lookup("jwt-token"), "CHXFER_JWT_TOKEN", prof.JWTToken)
	a.conn.Protocol = clickhouse.Protocol(pick(flags.Lookup("protocol"), "CHXFER_PROTOCOL", string(prof.Protocol)))
	a.output = pick(flags.Lookup("output"), "CHXFER_OUTPUT", prof.Output)

	p, err := strconv.Atoi(pick(flags.Lookup("port"), "CHXFER_PORT", port))
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	a.conn.Port = p

	if a.output != "table" && a.output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", a.output)
	}

	if a.askPassword {
		pw, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		a.conn.Password = pw
	}
	return nil
}

// pick returns the first of: an explicitly set flag, the environment
// variable, the profile value, the flag's default.
func pick(f *pflag.Flag, envKey, profileVal string) string {
	if f != nil && f.Changed {
		return f.Value.String()
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if profileVal != "" {
		return profileVal
	}
	if f != nil {
		return f.DefValue
	}
	return ""
}

// readPassword prompts without echo on a terminal, otherwise reads one
// line.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		return string(b), err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// run builds a Service for one command and tears it down afterwards.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context, svc *core.Service) error) error {
	log := logging.New(a.logLevel, a.logFormat, cmd.ErrOrStderr())

	dial := a.dial
	if dial == nil {
		dial = clickhouse.NewDialer(a.dialTimeout)
	}
	pool := core.NewPool(dial, core.PoolOptions{Logger: log})
	streams := core.NewStreamRegistry(core.RegistryOptions{Logger: log})
	svc := core.NewService(pool, streams, core.Options{
		ChunkSize:       a.chunkSize,
		TransferTimeout: a.timeout,
		Logger:          log,
	})

	err := fn(cmd.Context(), svc)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 10*time.Second)
	defer cancel()
	if closeErr := svc.Close(closeCtx); closeErr != nil {
		log.Warn("failed to close connections", "error", closeErr)
	}
	return err
}
