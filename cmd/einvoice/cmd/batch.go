package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoice-engine/internal/batch"
	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/queue"
	"github.com/rezonia/einvoice-engine/internal/report"
)

var (
	batchOwner  string
	batchFormat string
	batchOutput string
	batchJSON   bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Submit and follow batch extraction jobs",
}

var batchSubmitCmd = &cobra.Command{
	Use:   "submit [files...]",
	Short: "Upload scanned documents as a batch job",
	Long: `Submit stores the documents, creates a pending job and queues it for
'einvoice worker'. Arguments may be files, directories or glob patterns.

Examples:
  einvoice batch submit --owner acme scans/
  einvoice batch submit --owner acme --format xrechnung-ubl "inbox/*.pdf"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatchSubmit,
}

var batchStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show a batch job and its segment results",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchStatus,
}

var batchExportCmd = &cobra.Command{
	Use:   "export [job-id]",
	Short: "Export batch results as an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchExport,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.AddCommand(batchSubmitCmd, batchStatusCmd, batchExportCmd)

	batchSubmitCmd.Flags().StringVar(&batchOwner, "owner", "", "Account charged for the batch")
	batchSubmitCmd.Flags().StringVarP(&batchFormat, "format", "f", "", "Target format id; empty stores extractions only")
	_ = batchSubmitCmd.MarkFlagRequired("owner")

	batchStatusCmd.Flags().BoolVar(&batchJSON, "json", false, "Print the job as JSON")

	batchExportCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "Output file (default <job-id>.xlsx)")
}

func runBatchSubmit(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no supported files found")
	}

	uploads := make([]batch.Upload, 0, len(files))
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		printVerbose("Adding %s (%d bytes)\n", path, len(content))
		uploads = append(uploads, batch.Upload{Filename: filepath.Base(path), Content: content})
	}

	ctx := cmd.Context()
	db, closeDB, err := openBackend(ctx)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeDB()

	blobs, err := openBlobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	balance, err := db.Balance(ctx, batchOwner)
	if err != nil {
		return err
	}
	if balance < len(uploads) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s has %d credits for at least %d documents\n", batchOwner, balance, len(uploads))
	}

	client := queue.NewClient(redisOpt(), log)
	defer client.Close()

	job, err := batch.NewService(db, blobs, client, log).Submit(ctx, batchOwner, uploads, batchFormat)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s with %d documents\n", job.ID, len(job.Sources))
	return nil
}

func runBatchStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, closeDB, err := openBackend(ctx)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeDB()

	job, err := db.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if batchJSON {
		return outputJSON(cmd.OutOrStdout(), job)
	}
	return outputJob(cmd, job)
}

func outputJob(cmd *cobra.Command, job *model.BatchJob) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job:      %s\n", job.ID)
	fmt.Fprintf(out, "Owner:    %s\n", job.OwnerID)
	fmt.Fprintf(out, "Status:   %s\n", job.Status)
	fmt.Fprintf(out, "Segments: %d (%d completed, %d failed)\n", job.TotalSegments, job.Completed, job.Failed)
	if job.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", job.Error)
	}
	if len(job.Results) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tFILE\tSTATUS\tATTEMPTS\tCONFIDENCE\tOUTPUT\tERROR")
	fmt.Fprintln(w, "-\t----\t------\t--------\t----------\t------\t-----")
	for _, r := range job.Results {
		errMsg := r.Error
		if len(errMsg) > 60 {
			errMsg = errMsg[:57] + "..."
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%.2f\t%s\t%s\n",
			r.Index+1, r.Filename, r.Status, r.Attempts, r.ConfidenceScore, r.OutputKey, errMsg)
	}
	return w.Flush()
}

func runBatchExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, closeDB, err := openBackend(ctx)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeDB()

	job, err := db.Get(ctx, args[0])
	if err != nil {
		return err
	}

	path := batchOutput
	if path == "" {
		path = job.ID + ".xlsx"
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := report.NewExporter(db, log).Write(ctx, job, f); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return f.Close()
}

// collectFiles expands files, directories and glob patterns into supported documents
func collectFiles(args []string) ([]string, error) {
	var files []string

	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("file not found: %s", arg)
		}

		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				continue
			}
			if !info.IsDir() {
				if isSupportedFile(match) || match == arg {
					files = append(files, match)
				}
				continue
			}
			err = filepath.WalkDir(match, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && isSupportedFile(path) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}

	return files, nil
}

func isSupportedFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".png", ".jpg", ".jpeg", ".tiff", ".tif", ".txt":
		return true
	default:
		return false
	}
}
