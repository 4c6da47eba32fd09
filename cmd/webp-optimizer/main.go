package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/binuengoor/Image-Optimizer-for-Web/internal/config"
	"github.com/binuengoor/Image-Optimizer-for-Web/internal/converter"
	"github.com/binuengoor/Image-Optimizer-for-Web/internal/logger"
	"github.com/binuengoor/Image-Optimizer-for-Web/internal/scanner"
	"github.com/binuengoor/Image-Optimizer-for-Web/internal/statistics"
	"github.com/binuengoor/Image-Optimizer-for-Web/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	inputDir    string
	outputDir   string
	presetName  string
	maxDim      int
	clearInput  bool
	clearOutput bool
	verbose     bool
	quiet       bool
	port        int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "webp-optimizer",
	Short: "Convert images to WebP with optimized compression settings",
	Long: `WebP Optimizer converts raster images (PNG, JPG, TIFF, BMP, GIF, WEBP)
to the WebP format at one of three quality presets, optionally downscaling
them to a maximum dimension while keeping the aspect ratio.

Compression presets:
- balanced: 80% quality, good balance (recommended)
- high:     90% quality, larger file size
- max:      60% quality, smallest file size

Place images in the input folder and run without arguments, or start the
web interface with the serve command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert()
	},
}

// serveCmd starts the web interface server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web interface server",
	Long: `Starts a web server with a drag-and-drop interface for WebP Optimizer.
Upload images, pick a quality preset and an optional maximum dimension,
and download the converted files.

Access the interface at http://localhost:<port> (default: 8080)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// inspectCmd decodes a file and prints its properties.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Inspect an image file",
	Long: `Decodes an image file and prints its format, pixel dimensions, and
whether it carries transparency. Useful for debugging files that fail to
convert.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().StringVar(&inputDir, "input", "", "input directory containing source images")
	rootCmd.Flags().StringVar(&outputDir, "output", "", "output directory for converted WebP files")
	rootCmd.Flags().StringVar(&presetName, "preset", "", "quality preset: balanced, high, or max")
	rootCmd.Flags().IntVar(&maxDim, "max-dim", -1, "maximum dimension in pixels (0 disables resizing)")
	rootCmd.Flags().BoolVar(&clearInput, "clear-input", false, "clear the input folder after a successful run")
	rootCmd.Flags().BoolVar(&clearOutput, "clear-output", false, "clear the output folder before converting")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run web server on (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inspectCmd)
}

// initConfig loads configuration file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// runConvert executes a one-shot batch conversion of the input directory.
func runConvert() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	if clearOutput {
		if err := scanner.ClearDir(cfg.OutputDirectory); err != nil {
			return fmt.Errorf("clear output folder: %w", err)
		}
		if !quiet {
			fmt.Println("Output folder cleared")
		}
	}

	files, err := scanner.CollectFiles(cfg.InputDirectory, converter.AcceptedExtensions())
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Printf("No files found. Place images in the input folder: %s\n", cfg.InputDirectory)
		return nil
	}

	preset := cfg.Preset()
	reqs := make([]converter.Request, 0, len(files))
	stats := statistics.NewStatistics()
	for _, f := range files {
		stats.IncrementFilesFound()
		stats.IncrementFormat(filepath.Ext(f))
		reqs = append(reqs, converter.Request{
			InputPath:    f,
			Preset:       preset,
			MaxDimension: cfg.Conversion.MaxDimension,
		})
	}

	conv := converter.NewDefaultConverter(log)
	results, err := conv.ConvertBatch(context.Background(), cfg.OutputDirectory, reqs)
	if err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}

	for _, res := range results {
		stats.RecordResult(res)
		if quiet {
			continue
		}
		if res.Success {
			fmt.Printf("Converted: %s (%.1f%% saved)\n", filepath.Base(res.InputPath), res.SavedPercent())
		} else {
			fmt.Printf("Failed: %s - %s\n", filepath.Base(res.InputPath), res.Message)
		}
	}
	stats.Finalize()

	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
		if stats.GetFilesFailed() > 0 {
			fmt.Println("\n" + stats.GetErrorSummary())
		}
		fmt.Printf("\nConverted images saved in: %s\n", cfg.OutputDirectory)
	}

	if clearInput && stats.GetFilesFailed() == 0 {
		if err := scanner.ClearDir(cfg.InputDirectory); err != nil {
			return fmt.Errorf("clear input folder: %w", err)
		}
		if !quiet {
			fmt.Println("Input folder cleared")
		}
	}

	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	serverPort := cfg.Server.Port
	if port > 0 {
		serverPort = port
	}

	conv := converter.NewDefaultConverter(log)
	server := web.NewServer(cfg, log, conv)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(serverPort); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("WebP Optimizer web interface started\n")
	fmt.Printf("Open your browser and go to: http://localhost:%d\n", serverPort)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// runInspect decodes a file and prints its properties.
func runInspect(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	info, err := converter.Inspect(filePath)
	if err != nil {
		fmt.Printf("Error decoding %s: %v\n", filePath, err)
		return nil
	}

	fmt.Printf("File: %s\n", filePath)
	fmt.Printf("Format: %s\n", info.Format)
	fmt.Printf("Dimensions: %dx%d\n", info.Width, info.Height)
	fmt.Printf("Transparency: %t\n", info.HasAlpha)
	fmt.Printf("Output name: %s\n", converter.OutputName(filePath))
	return nil
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	if inputDir != "" {
		cfg.InputDirectory = inputDir
	}
	if outputDir != "" {
		cfg.OutputDirectory = outputDir
	}
	if presetName != "" {
		cfg.Conversion.Preset = presetName
	}
	if maxDim >= 0 {
		cfg.Conversion.MaxDimension = maxDim
	}

	// Re-validate after overrides so a bad flag value is rejected before
	// any batch runs.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if cfg.Server.Debug || verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
