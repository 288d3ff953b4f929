package cmd

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/accelbench/cputune/internal/database"
	"github.com/accelbench/cputune/internal/report"
)

var errNoDatabase = errors.New("no study database configured: set --database-url or --database-secret-id")

var studiesCmd = &cobra.Command{
	Use:   "studies",
	Short: "List studies persisted to the study database",
	Long: `List tuning studies stored in Postgres, newest first.

Examples:
  cputune studies --status completed
  cputune studies --mode both --name bert -o json
  cputune studies show bert
  cputune studies delete 3f2a...`,
	Args: cobra.NoArgs,
	RunE: runStudies,
}

var studiesShowCmd = &cobra.Command{
	Use:   "show <exp-name>",
	Short: "Show the latest study of an experiment and its trials",
	Args:  cobra.ExactArgs(1),
	RunE:  runStudiesShow,
}

var studiesDeleteCmd = &cobra.Command{
	Use:   "delete <study-id>",
	Short: "Delete a study and its trials",
	Args:  cobra.ExactArgs(1),
	RunE:  runStudiesDelete,
}

var (
	studiesStatus string
	studiesMode   string
	studiesName   string
	studiesLimit  int
	studiesOffset int
)

func init() {
	studiesCmd.Flags().StringVar(&studiesStatus, "status", "", "Filter by status: running, completed, failed")
	studiesCmd.Flags().StringVar(&studiesMode, "mode", "", "Filter by tuning mode")
	studiesCmd.Flags().StringVar(&studiesName, "name", "", "Filter by experiment name substring")
	studiesCmd.Flags().IntVar(&studiesLimit, "limit", 50, "Maximum studies to list")
	studiesCmd.Flags().IntVar(&studiesOffset, "offset", 0, "Studies to skip")
	studiesCmd.AddCommand(studiesShowCmd, studiesDeleteCmd)
	RootCmd.AddCommand(studiesCmd)
}

func requireRepo(cmd *cobra.Command) (database.Repo, func(), error) {
	repo, closeRepo, err := openRepo(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	if repo == nil {
		closeRepo()
		return nil, nil, errNoDatabase
	}
	return repo, closeRepo, nil
}

func runStudies(cmd *cobra.Command, args []string) error {
	repo, closeRepo, err := requireRepo(cmd)
	if err != nil {
		return err
	}
	defer closeRepo()

	items, err := repo.ListStudies(cmd.Context(), database.StudyFilter{
		Status: studiesStatus,
		Mode:   studiesMode,
		Name:   studiesName,
		Limit:  studiesLimit,
		Offset: studiesOffset,
	})
	if err != nil {
		return err
	}
	if getFormat() == report.FormatJSON {
		return report.JSON(cmd.OutOrStdout(), items)
	}
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No studies found.")
		return nil
	}
	rows := make([][]string, len(items))
	for i, s := range items {
		rows[i] = []string{
			shortID(s.ID),
			s.Name,
			s.Mode,
			s.Status,
			fmt.Sprintf("%d/%d", s.Completed, s.NTrials),
			strconv.Itoa(s.Failed),
			s.CreatedAt.Format("2006-01-02 15:04"),
		}
	}
	report.Table(cmd.OutOrStdout(), []string{"ID", "Name", "Mode", "Status", "Completed", "Failed", "Created"}, rows)
	return nil
}

func runStudiesShow(cmd *cobra.Command, args []string) error {
	repo, closeRepo, err := requireRepo(cmd)
	if err != nil {
		return err
	}
	defer closeRepo()

	study, err := repo.GetStudyByName(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if study == nil {
		return fmt.Errorf("no study named %q", args[0])
	}
	trials, err := repo.ListTrials(cmd.Context(), study.ID)
	if err != nil {
		return err
	}
	if getFormat() == report.FormatJSON {
		return report.JSON(cmd.OutOrStdout(), map[string]any{"study": study, "trials": trials})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Study:   %s (%s)\n", study.Name, study.ID)
	fmt.Fprintf(cmd.OutOrStdout(), "Mode:    %s\n", study.Mode)
	fmt.Fprintf(cmd.OutOrStdout(), "Status:  %s\n", study.Status)
	fmt.Fprintf(cmd.OutOrStdout(), "Host:    %s\n\n", study.Host)
	rows := make([][]string, len(trials))
	for i, t := range trials {
		values := ""
		for j, v := range t.Values {
			if j > 0 {
				values += ", "
			}
			values += report.Float(v)
		}
		keys := make([]string, 0, len(t.Params))
		for k := range t.Params {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		rows[i] = []string{strconv.Itoa(t.Number), t.State, values, report.Params(t.Params, keys)}
	}
	report.Table(cmd.OutOrStdout(), []string{"Trial", "State", "Values", "Params"}, rows)
	return nil
}

func runStudiesDelete(cmd *cobra.Command, args []string) error {
	repo, closeRepo, err := requireRepo(cmd)
	if err != nil {
		return err
	}
	defer closeRepo()

	if err := repo.DeleteStudy(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted study %s\n", args[0])
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
