package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/intentops/intent-eval/internal/progress"
	"github.com/intentops/intent-eval/internal/samplelib"
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Inspect and manage the sample library",
}

var libraryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all samples in the library",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		lib, err := samplelib.Load(cfg.Calibration.LibraryPath, cfg.Calibration.LibraryMaxSize)
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		entries := lib.List()

		if asJSON {
			out, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		fmt.Printf("%d samples (max %d)\n", lib.Size(), lib.MaxSize())
		for _, e := range entries {
			fmt.Printf("  [%s] %s\n", e.Output.Intent, e.Input)
		}
		return nil
	},
}

var libraryImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import samples from a JSON file and rebuild the retrieval index",
	Long: `Reads a JSON array of samples and loads them into the library. By
default the file replaces the current library; with --merge, samples are
added to the existing set instead. The retrieval mirror is re-embedded
and rebuilt from scratch either way.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		merge, _ := cmd.Flags().GetBool("merge")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading import file: %w", err)
		}
		var entries []samplelib.Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("parsing import file: %w", err)
		}

		lib, err := samplelib.Load(cfg.Calibration.LibraryPath, cfg.Calibration.LibraryMaxSize)
		if err != nil {
			return err
		}

		// Backup before any bulk change, same discipline as calibration.
		backupPath, err := lib.Backup(cfg.Calibration.BackupDir)
		if err != nil {
			return fmt.Errorf("backing up library: %w", err)
		}
		if backupPath != "" {
			fmt.Fprintf(os.Stderr, "Backed up library to %s\n", backupPath)
		}

		imported, skipped := 0, 0
		if merge {
			for _, e := range entries {
				switch err := lib.Insert(e); err {
				case nil:
					imported++
				default:
					skipped++
				}
			}
		} else {
			lib.Replace(entries)
			imported = lib.Size()
		}

		if err := lib.Save(); err != nil {
			return fmt.Errorf("saving library: %w", err)
		}

		embedder, err := createEmbedderFromConfig(cfg)
		if err != nil {
			return err
		}
		mirror, err := samplelib.NewMirror(embedder)
		if err != nil {
			return err
		}

		// Re-embed in chunks so large imports show progress.
		all := lib.List()
		reporter := progress.NewReporter()
		reporter.Start(len(all))
		const chunk = 50
		for i := 0; i < len(all); i += chunk {
			end := i + chunk
			if end > len(all) {
				end = len(all)
			}
			if err := mirror.Add(cmd.Context(), all[i:end]); err != nil {
				reporter.Finish()
				return fmt.Errorf("rebuilding retrieval mirror: %w", err)
			}
			reporter.Update(end, fmt.Sprintf("embedded %d/%d", end, len(all)))
		}
		reporter.Finish()

		if mirror.Count() != lib.Size() {
			return fmt.Errorf("index verification failed: %d indexed, %d in library", mirror.Count(), lib.Size())
		}

		fmt.Printf("Imported %d samples (%d skipped), library now holds %d\n", imported, skipped, lib.Size())
		return nil
	},
}

var libraryBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a timestamped backup of the sample library",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		lib, err := samplelib.Load(cfg.Calibration.LibraryPath, cfg.Calibration.LibraryMaxSize)
		if err != nil {
			return err
		}

		path, err := lib.Backup(cfg.Calibration.BackupDir)
		if err != nil {
			return err
		}
		if path == "" {
			fmt.Println("Library file does not exist yet, nothing to back up")
			return nil
		}
		fmt.Printf("Backup written to %s\n", path)
		return nil
	},
}

func init() {
	libraryListCmd.Flags().Bool("json", false, "output as JSON")
	libraryImportCmd.Flags().Bool("merge", false, "add to the current library instead of replacing it")
	libraryCmd.AddCommand(libraryListCmd)
	libraryCmd.AddCommand(libraryImportCmd)
	libraryCmd.AddCommand(libraryBackupCmd)
	rootCmd.AddCommand(libraryCmd)
}
