package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/searchsync/internal/config"
	"github.com/openmined/searchsync/internal/utils"
	"github.com/openmined/searchsync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

// logCloser releases the rotating log file opened by setupLogger.
var logCloser io.Closer = io.NopCloser(nil)

var rootCmd = &cobra.Command{
	Use:     "searchsync",
	Short:   "Mirror a markdown document collection into a hosted search index",
	Version: version.Detailed(),
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "searchsync config file")
	rootCmd.PersistentFlags().StringP("posts-dir", "p", config.DefaultPostsDir, "document root")
	rootCmd.PersistentFlags().StringP("mirror", "m", config.DefaultMirrorPath, "local mirror file")
	rootCmd.PersistentFlags().StringP("index", "i", "", "search index name")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log debug output to the console")
}

func main() {
	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	logCloser.Close()
	if err != nil {
		os.Exit(1)
	}
}

// setup loads the config and installs the default logger. Every command that
// touches documents or the mirror calls it first.
func setup(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	closer, err := setupLogger(cmd.ErrOrStderr(), cfg.LogFile, verbose)
	if err != nil {
		return nil, err
	}
	logCloser = closer
	slog.Debug("config loaded", "path", cfg.Path, "posts", cfg.PostsDir, "mirror", cfg.MirrorPath)
	return cfg, nil
}

func setupLogger(console io.Writer, logFile string, verbose bool) (io.Closer, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	noColor := true
	if f, ok := console.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}
	consoleHandler := tint.NewHandler(console, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	})

	if logFile == "" {
		slog.SetDefault(slog.New(consoleHandler))
		return io.NopCloser(nil), nil
	}

	if err := utils.EnsureParent(logFile); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	rotating := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	fileHandler := slog.NewTextHandler(rotating, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(consoleHandler, fileHandler)))
	return rotating, nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	// config path
	if f := cmd.Flag("config"); f != nil && f.Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		v.SetConfigFile(configFilePath)
	} else {
		v.AddConfigPath(".")                     // First check the working directory
		v.AddConfigPath(config.DefaultConfigDir) // Then check ~/.searchsync
		v.SetConfigName(config.ConfigName)       // Name of config file (without extension)
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	// credentials usually live in a .env beside the config
	envDir := "."
	if used := v.ConfigFileUsed(); used != "" && utils.FileExists(used) {
		envDir = filepath.Dir(used)
	}
	if err := config.LoadDotEnv(envDir); err != nil {
		return nil, err
	}

	// Bind flags to viper
	v.BindPFlag("posts_dir", cmd.Flags().Lookup("posts-dir"))
	v.BindPFlag("mirror_path", cmd.Flags().Lookup("mirror"))
	v.BindPFlag("index_name", cmd.Flags().Lookup("index"))

	// Set up environment variables
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()

	configPath := v.ConfigFileUsed()
	if !utils.FileExists(configPath) {
		configPath = ""
	}
	return config.FromViper(v, configPath)
}
