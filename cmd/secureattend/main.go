package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/secureattend/secureattend/pkg/camera"
	"github.com/secureattend/secureattend/pkg/config"
	"github.com/secureattend/secureattend/pkg/gallery"
	"github.com/secureattend/secureattend/pkg/ledger"
	"github.com/secureattend/secureattend/pkg/logging"
	"github.com/secureattend/secureattend/pkg/session"
	"github.com/secureattend/secureattend/pkg/store"
	"github.com/secureattend/secureattend/pkg/tracker"
)

const version = "1.0.0"

// Command represents a CLI command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(args []string) error
}

var (
	cfg      *config.Config
	commands map[string]*Command
)

func init() {
	commands = map[string]*Command{
		"register": {
			Name:        "register",
			Description: "Register a new user from camera or image directory",
			Usage:       "secureattend register <user_id> <name> <regno> [image-dir]",
			Run:         cmdRegister,
		},
		"track": {
			Name:        "track",
			Description: "Run a live attendance tracking session",
			Usage:       "secureattend track [frame-dir]",
			Run:         cmdTrack,
		},
		"list": {
			Name:        "list",
			Description: "List registered users",
			Usage:       "secureattend list",
			Run:         cmdList,
		},
		"remove": {
			Name:        "remove",
			Description: "Remove a user and their face data",
			Usage:       "secureattend remove <user_id>",
			Run:         cmdRemove,
		},
		"report": {
			Name:        "report",
			Description: "Show attendance records for a date",
			Usage:       "secureattend report [YYYY-MM-DD]",
			Run:         cmdReport,
		},
		"export": {
			Name:        "export",
			Description: "Export attendance records to CSV",
			Usage:       "secureattend export <file> [YYYY-MM-DD]",
			Run:         cmdExport,
		},
		"verify-ledger": {
			Name:        "verify-ledger",
			Description: "Verify the integrity of the attendance ledger",
			Usage:       "secureattend verify-ledger",
			Run:         cmdVerifyLedger,
		},
		"fetch-models": {
			Name:        "fetch-models",
			Description: "Download the dlib face recognition models",
			Usage:       "secureattend fetch-models [model-dir]",
			Run:         cmdFetchModels,
		},
		"config": {
			Name:        "config",
			Description: "Show current configuration",
			Usage:       "secureattend config",
			Run:         cmdConfig,
		},
		"version": {
			Name:        "version",
			Description: "Show version information",
			Usage:       "secureattend version",
			Run:         cmdVersion,
		},
		"help": {
			Name:        "help",
			Description: "Show help information",
			Usage:       "secureattend help [command]",
			Run:         cmdHelp,
		},
	}
}

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	args := flag.Args()

	// .env is optional; it can override config file locations.
	_ = godotenv.Load()

	var err error
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultConfig()
	}

	cfg.ExpandPaths()

	logLevel := cfg.Logging.Level
	if *debug {
		logLevel = "debug"
	}
	if err := logging.Init(logLevel, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	logging.Debugf("SecureAttend v%s starting", version)
	logging.Debugf("Config loaded, data dir: %s", cfg.Storage.DataDir)

	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmdName)
		printUsage()
		os.Exit(1)
	}

	if err := cmd.Run(args[1:]); err != nil {
		logging.WithError(err).Errorf("Command '%s' failed", cmdName)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("SecureAttend - Face Recognition Attendance with Liveness Detection")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Usage: secureattend [options] <command> [arguments]")
	fmt.Println("\nOptions:")
	fmt.Println("  -config <file>   Path to configuration file")
	fmt.Println("  -debug           Enable debug logging")
	fmt.Println("\nCommands:")
	for _, name := range []string{"register", "track", "list", "remove", "report", "export", "verify-ledger", "fetch-models", "config", "version", "help"} {
		cmd := commands[name]
		fmt.Printf("  %-14s %s\n", cmd.Name, cmd.Description)
	}
	fmt.Println("\nExamples:")
	fmt.Println("  secureattend register s101 \"Jane Doe\" REG-2024-101")
	fmt.Println("  secureattend track                # Track from camera")
	fmt.Println("  secureattend track ./frames      # Replay saved frames")
	fmt.Println("  secureattend report 2026-08-29")
	fmt.Println("\nRun 'secureattend help <command>' for more information on a command.")
}

// openSource returns a camera source, or a directory replay source when
// dir is non-empty.
func openSource(dir string) (camera.Source, error) {
	if dir != "" {
		return camera.OpenDir(dir)
	}
	return camera.OpenDevice(cfg.Camera.Index, cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
}

func openStore() (*store.Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return store.Open(cfg.Storage.DatabaseFile)
}

// Command implementations

func cmdRegister(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("user id, name and registration number required\nUsage: %s", commands["register"].Usage)
	}
	userID, name, regNo := args[0], args[1], args[2]
	imageDir := ""
	if len(args) > 3 {
		imageDir = args[3]
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	faces, err := gallery.Open(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return err
	}
	if faces.Exists(userID) {
		return fmt.Errorf("user '%s' is already registered. Use 'secureattend remove %s' first", userID, userID)
	}

	fmt.Printf("Registering '%s' (%s)...\n", name, regNo)
	entry, err := captureDescriptors(userID, name, regNo, imageDir)
	if err != nil {
		return err
	}

	if err := faces.Register(*entry); err != nil {
		return err
	}
	if err := db.AddUser(store.User{
		UserID:             userID,
		Name:               name,
		RegistrationNumber: regNo,
		RegistrationDate:   time.Now().Format(store.DateLayout),
		Active:             true,
	}); err != nil {
		// Keep gallery and database consistent on failure.
		_ = faces.Delete(userID)
		return err
	}

	fmt.Printf("Registered '%s' with %d face samples.\n", name, len(entry.Descriptors))
	return nil
}

func cmdTrack(args []string) error {
	frameDir := ""
	if len(args) > 0 {
		frameDir = args[0]
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	faces, err := gallery.Open(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return err
	}
	registered, err := faces.LoadAll()
	if err != nil {
		return err
	}

	var chain *ledger.Chain
	if cfg.Features.Ledger {
		chain, err = ledger.Open(cfg.Ledger.File, cfg.Ledger.MiningDifficulty)
		if err != nil {
			return fmt.Errorf("failed to open ledger: %w", err)
		}
	}

	rec, err := loadRecognizer()
	if err != nil {
		return err
	}
	defer rec.Close()

	sess, err := session.New(cfg, rec, db, chain, registered)
	if err != nil {
		return err
	}
	sess.OnEvent = printEvent

	src, err := openSource(frameDir)
	if err != nil {
		return err
	}
	defer src.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("Tracking started. Press Ctrl-C to stop.")
	result, err := sess.Run(ctx, src)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("Session Summary")
	fmt.Println("===============")
	fmt.Printf("  Frames processed:  %d / %d read\n", result.FramesProcessed, result.FramesRead)
	fmt.Printf("  Attendance marked: %d\n", len(result.Marked))
	for _, id := range result.Marked {
		fmt.Printf("    - %s\n", id)
	}
	fmt.Printf("  Class engagement:  %.1f\n", result.Engagement)
	fmt.Printf("  Dominant emotion:  %s\n", result.DominantEmotion)
	fmt.Printf("  Duration:          %s\n", result.Finished.Sub(result.Started).Round(time.Second))
	return nil
}

// printEvent renders one tracking observation. Transitions worth the
// user's attention get their own line.
func printEvent(ev session.Event) {
	switch {
	case ev.Marked:
		fmt.Printf("[frame %d] %s: ATTENDANCE MARKED (liveness %.3f)\n", ev.Frame, ev.Name, ev.LivenessScore)
	case ev.Status == tracker.StatusSpoofing:
		fmt.Printf("[frame %d] %s: SPOOFING SUSPECTED (smoothed %.3f)\n", ev.Frame, ev.Name, ev.Smoothed)
	}
}

func cmdList(args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	users, err := db.Users(false)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("No users registered.")
		return nil
	}

	fmt.Printf("%-12s %-24s %-16s %-12s %s\n", "USER ID", "NAME", "REG NO", "ATTENDANCE", "LAST SEEN")
	for _, u := range users {
		last := u.LastAttendance
		if last == "" {
			last = "-"
		}
		fmt.Printf("%-12s %-24s %-16s %-12d %s\n", u.UserID, u.Name, u.RegistrationNumber, u.TotalAttendance, last)
	}
	fmt.Printf("\nTotal: %d user(s)\n", len(users))
	return nil
}

func cmdRemove(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("user id required\nUsage: %s", commands["remove"].Usage)
	}
	userID := args[0]

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	faces, err := gallery.Open(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return err
	}

	if err := db.DeleteUser(userID); err != nil {
		return err
	}
	if err := faces.Delete(userID); err != nil && err != gallery.ErrNotRegistered {
		return err
	}

	fmt.Printf("User '%s' removed.\n", userID)
	return nil
}

func cmdReport(args []string) error {
	date := time.Now().Format(store.DateLayout)
	if len(args) > 0 {
		date = args[0]
	}
	if _, err := time.Parse(store.DateLayout, date); err != nil {
		return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := db.Attendance(date, "", 0)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("No attendance records for %s.\n", date)
		return nil
	}

	fmt.Printf("Attendance for %s\n", date)
	fmt.Printf("%-10s %-12s %-24s %-10s %-10s %s\n", "TIME", "USER ID", "NAME", "LIVENESS", "EMOTION", "ENGAGEMENT")
	for _, r := range records {
		fmt.Printf("%-10s %-12s %-24s %-10.3f %-10s %.1f\n",
			r.Time, r.UserID, r.Name, r.LivenessScore, r.Emotion, r.EngagementScore)
	}

	summary, err := db.AttendanceSummary(date)
	if err != nil {
		return err
	}
	fmt.Printf("\nPresent: %d   Avg liveness: %.3f   Avg engagement: %.1f\n",
		summary.Total, summary.AvgLiveness, summary.AvgEngagement)
	return nil
}

func cmdExport(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("output file required\nUsage: %s", commands["export"].Usage)
	}
	outPath := args[0]
	date := ""
	if len(args) > 1 {
		date = args[1]
		if _, err := time.Parse(store.DateLayout, date); err != nil {
			return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
		}
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer out.Close()

	n, err := db.ExportCSV(out, date, cfg.Storage.AnonymizeExports)
	if err != nil {
		return err
	}

	fmt.Printf("Exported %d record(s) to %s", n, outPath)
	if cfg.Storage.AnonymizeExports {
		fmt.Print(" (anonymized)")
	}
	fmt.Println()
	return nil
}

func cmdVerifyLedger(args []string) error {
	if !cfg.Features.Ledger {
		return fmt.Errorf("ledger feature is disabled in configuration")
	}

	chain, err := ledger.Open(cfg.Ledger.File, cfg.Ledger.MiningDifficulty)
	if err != nil {
		return err
	}

	ok, badIndex := chain.Validate()
	if !ok {
		fmt.Printf("LEDGER INVALID: block %d failed verification\n", badIndex)
		os.Exit(1)
	}

	fmt.Printf("Ledger valid: %d block(s), %d attendance record(s)\n",
		chain.Len(), len(chain.AttendanceRecords()))
	return nil
}

func cmdConfig(args []string) error {
	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println()
	fmt.Println("[Camera]")
	fmt.Printf("  Index:           %d\n", cfg.Camera.Index)
	fmt.Printf("  Resolution:      %dx%d @ %d FPS\n", cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
	fmt.Println()
	fmt.Println("[Recognition]")
	fmt.Printf("  Tolerance:       %.2f\n", cfg.Recognition.FaceTolerance)
	fmt.Printf("  Model Path:      %s\n", cfg.Recognition.ModelPath)
	fmt.Println()
	fmt.Println("[Liveness Detection]")
	fmt.Printf("  Threshold:       %.2f\n", cfg.Liveness.Threshold)
	fmt.Printf("  Texture:         %.1f\n", cfg.Liveness.TextureThreshold)
	fmt.Printf("  Color Diversity: %.1f\n", cfg.Liveness.ColorDiversityThreshold)
	fmt.Printf("  Frequency:       %.1f\n", cfg.Liveness.FrequencyThreshold)
	fmt.Println()
	fmt.Println("[Tracking]")
	fmt.Printf("  Frame Stride:    %d\n", cfg.Tracking.ProcessEveryNFrames)
	fmt.Printf("  Stability:       %d consecutive detections\n", cfg.Tracking.DetectionThreshold)
	fmt.Printf("  Liveness Window: %d scores, smoothed threshold %.2f\n", cfg.Tracking.LivenessWindow, cfg.Tracking.SmoothedThreshold)
	fmt.Printf("  Location:        %s\n", cfg.Tracking.Location)
	fmt.Println()
	fmt.Println("[Features]")
	fmt.Printf("  Anti-Spoofing:   %t\n", cfg.Features.AntiSpoofing)
	fmt.Printf("  Ledger:          %t\n", cfg.Features.Ledger)
	fmt.Printf("  Emotion:         %t\n", cfg.Features.Emotion)
	fmt.Println()
	fmt.Println("[Ledger]")
	fmt.Printf("  File:            %s\n", cfg.Ledger.File)
	fmt.Printf("  Difficulty:      %d\n", cfg.Ledger.MiningDifficulty)
	fmt.Println()
	fmt.Println("[Storage]")
	fmt.Printf("  Data Dir:        %s\n", cfg.Storage.DataDir)
	fmt.Printf("  Database:        %s\n", cfg.Storage.DatabaseFile)
	fmt.Printf("  Encryption:      %t\n", cfg.Storage.EncryptionEnabled)
	fmt.Printf("  Anonymize CSV:   %t\n", cfg.Storage.AnonymizeExports)
	fmt.Println()
	fmt.Println("[Logging]")
	fmt.Printf("  Level:           %s\n", cfg.Logging.Level)
	fmt.Printf("  File:            %s\n", cfg.Logging.File)
	return nil
}

func cmdVersion(args []string) error {
	fmt.Printf("SecureAttend v%s\n", version)
	fmt.Println("Face Recognition Attendance with Liveness Detection")
	fmt.Println()
	fmt.Println("Build Information:")
	fmt.Printf("  Go version: %s\n", "1.21+")
	fmt.Printf("  Platform:   linux/amd64\n")
	return nil
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s", cmdName)
	}

	fmt.Printf("Command: %s\n", cmd.Name)
	fmt.Printf("Description: %s\n", cmd.Description)
	fmt.Printf("Usage: %s\n", cmd.Usage)

	switch cmdName {
	case "register":
		fmt.Println("\nRegistration Process:")
		fmt.Println("  1. Position the user in front of the camera")
		fmt.Println("  2. Several face samples are captured and averaged")
		fmt.Println("  3. Face data is encrypted and stored locally")
		fmt.Println("  4. Pass an image directory instead to register offline")
	case "track":
		fmt.Println("\nTracking Process:")
		fmt.Println("  1. All registered faces are loaded")
		fmt.Println("  2. Each frame is matched, liveness-scored and tracked")
		fmt.Println("  3. Attendance is marked once per user per day")
		fmt.Println("  4. Pass a frame directory instead to replay a recording")
	case "config":
		fmt.Println("\nConfiguration Locations:")
		fmt.Println("  System: /etc/secureattend/secureattend.yaml")
		fmt.Println("  User:   ~/.config/secureattend/secureattend.yaml")
		fmt.Println("\nUse -config flag to specify a custom config file.")
	}

	return nil
}
