package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/santiagomed/plmgen/config"
	"github.com/santiagomed/plmgen/fs"
	"github.com/santiagomed/plmgen/history"
	"github.com/santiagomed/plmgen/logger"
	"github.com/spf13/cobra"
)

var (
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFBA08"))
	nameStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	checkStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("202"))
)

// errPushFailures makes the process exit 1 after the report was printed.
var errPushFailures = errors.New("push completed with failures")

// app holds what every command needs once flags are parsed.
type app struct {
	cfg    *config.Config
	logger logger.Logger
	store  *history.Store
	fs     *fs.FileSystem
	out    io.Writer
	// newClient overrides the LLM client constructor in tests.
	newClient ClientFactory
}

func newApp(configDir string, debug bool, out io.Writer) (*app, error) {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return nil, err
	}
	logger.InitLogger(cfg.DataDir, debug || cfg.Debug)
	l := logger.GetLogger()

	store, err := history.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("error opening history: %w", err)
	}
	return &app{
		cfg:    cfg,
		logger: l,
		store:  store,
		fs:     fs.NewOsFileSystem(),
		out:    out,
	}, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

func NewRootCommand() *cobra.Command {
	var (
		configDir string
		debug     bool
		a         *app
	)

	rootCmd := &cobra.Command{
		Use:           "plmgen",
		Short:         "plmgen generates PLM items, BOMs and requirements and pushes them to Teamcenter",
		Long:          `plmgen uses an LLM to generate industrial item lists, engineering bills of material and requirement specifications, keeps every batch in a local history and creates them as linked objects in Teamcenter.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = newApp(configDir, debug, cmd.OutOrStdout())
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a != nil {
				a.Close()
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", "", "Directory containing config.yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Write debug output to the log file")

	getApp := func() *app { return a }
	rootCmd.AddCommand(newGenerateCommand(getApp))
	rootCmd.AddCommand(newPushCommand(getApp))
	rootCmd.AddCommand(newHistoryCommand(getApp))
	return rootCmd
}

func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		if !errors.Is(err, errPushFailures) {
			fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("Error: %v", err)))
		}
		os.Exit(1)
	}
}
