package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"voicegrade/internal/aggregate"
	"voicegrade/internal/api"
	"voicegrade/internal/evalerr"
	"voicegrade/internal/evaluation"
)

func newRecordsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	recordsCmd := &cobra.Command{
		Use:     "records",
		Aliases: []string{"record"},
		Short:   "List and manage evaluation records",
	}
	recordsCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of tables")

	recordsCmd.AddCommand(newRecordsListCommand(ctx, &jsonOutput))
	recordsCmd.AddCommand(newRecordsShowCommand(ctx, &jsonOutput))
	recordsCmd.AddCommand(newRecordsCreateCommand(ctx, &jsonOutput))
	recordsCmd.AddCommand(newRecordsEvaluateCommand(ctx, &jsonOutput, "submit", "Submit a complete evaluation"))
	recordsCmd.AddCommand(newRecordsEvaluateCommand(ctx, &jsonOutput, "request-review", "Save partial scores and request review"))
	recordsCmd.AddCommand(newRecordsActorCommand(ctx, &jsonOutput, "approve", "Approve a submitted evaluation"))
	recordsCmd.AddCommand(newRecordsActorCommand(ctx, &jsonOutput, "reevaluate", "Return a submitted evaluation to pending"))
	recordsCmd.AddCommand(newRecordsDeleteCommand(ctx))
	recordsCmd.AddCommand(newRecordsHistoryCommand(ctx, &jsonOutput))

	return recordsCmd
}

func newRecordsListCommand(ctx *commandContext, jsonOutput *bool) *cobra.Command {
	var (
		status, language, category string
		evaluator, query           string
		approved                   string
		offset, limit              int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.service(cmd.Context())
			if err != nil {
				return err
			}
			filter := aggregate.Filter{
				Status:    evaluation.Status(strings.TrimSpace(status)),
				Evaluator: evaluator,
				Query:     query,
				Offset:    offset,
				Limit:     limit,
			}
			if language != "" {
				lang, ok := evaluation.ParseLanguage(language)
				if !ok {
					return evalerr.Wrap(evalerr.ErrValidation, "list records", "unknown language "+language, nil)
				}
				filter.Language = lang
			}
			if category != "" {
				cat, ok := evaluation.ParseCategory(category)
				if !ok {
					return evalerr.Wrap(evalerr.ErrValidation, "list records", "unknown category "+category, nil)
				}
				filter.Category = cat
			}
			if approved != "" {
				value, err := strconv.ParseBool(approved)
				if err != nil {
					return evalerr.Wrap(evalerr.ErrValidation, "list records", "approved must be true or false", err)
				}
				filter.Approved = &value
			}
			if filter.Limit <= 0 {
				filter.Limit = rt.cfg.Listing.DefaultPageSize
			}
			if filter.Limit > rt.cfg.Listing.MaxPageSize {
				filter.Limit = rt.cfg.Listing.MaxPageSize
			}

			list, err := rt.service.ListRecords(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return writeJSON(cmd, list)
			}
			printRecordList(cmd.OutOrStdout(), list)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, review_requested, submitted)")
	cmd.Flags().StringVar(&language, "language", "", "Filter by language")
	cmd.Flags().StringVar(&category, "category", "", "Filter by certification category")
	cmd.Flags().StringVar(&evaluator, "evaluator", "", "Filter by evaluator or review requester")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Match name, employee id or record id")
	cmd.Flags().StringVar(&approved, "approved", "", "Filter by approval (true or false)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many matching records")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum records to show (defaults to listing.default_page_size)")
	return cmd
}

func newRecordsShowCommand(ctx *commandContext, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.service(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := rt.service.GetRecord(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if *jsonOutput {
				return writeJSON(cmd, rec)
			}
			printRecord(cmd.OutOrStdout(), rec)
			return nil
		},
	}
}

func newRecordsCreateCommand(ctx *commandContext, jsonOutput *bool) *cobra.Command {
	var req api.CreateRequest
	var recordings []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new submission awaiting evaluation",
		RunE: func(cmd *cobra.Command, args []string) error {
			refs, err := parseRecordingRefs(recordings)
			if err != nil {
				return err
			}
			req.RecordingRefs = refs
			rt, err := ctx.service(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := rt.service.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return writeJSON(cmd, rec)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created record %s at %s\n", rec.ID, rec.DetailPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.ID, "id", "", "Record id (generated when empty)")
	cmd.Flags().StringVar(&req.EmployeeID, "employee-id", "", "Employee id")
	cmd.Flags().StringVar(&req.Name, "name", "", "Candidate name")
	cmd.Flags().StringVar(&req.Language, "language", "", "Language track (korean-english, japanese, chinese)")
	cmd.Flags().StringVar(&req.Category, "category", "", "Certification category (신규, 재자격, 상위)")
	cmd.Flags().StringVar(&req.SubmittedAt, "submitted-at", "", "Submission time (defaults to now)")
	cmd.Flags().StringArrayVar(&recordings, "recording", nil, "Recording reference as script:track:path (repeatable)")
	return cmd
}

func newRecordsEvaluateCommand(ctx *commandContext, jsonOutput *bool, use, short string) *cobra.Command {
	var scores, comments []string
	var evaluator string

	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseScores(scores)
			if err != nil {
				return err
			}
			notes, err := parseComments(comments)
			if err != nil {
				return err
			}
			req := api.EvaluationRequest{Scores: parsed, Comments: notes, Evaluator: evaluator}
			rt, err := ctx.service(cmd.Context())
			if err != nil {
				return err
			}
			var rec evaluation.Record
			if use == "submit" {
				rec, err = rt.service.Submit(cmd.Context(), args[0], req)
			} else {
				rec, err = rt.service.RequestReview(cmd.Context(), args[0], req)
			}
			if err != nil {
				return err
			}
			if *jsonOutput {
				return writeJSON(cmd, rec)
			}
			printTransition(cmd.OutOrStdout(), rec)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&scores, "score", "s", nil, "Criterion score as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&comments, "comment", nil, "Comment as key=text (repeatable)")
	cmd.Flags().StringVar(&evaluator, "evaluator", "", "Evaluator name")
	return cmd
}

func newRecordsActorCommand(ctx *commandContext, jsonOutput *bool, use, short string) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.service(cmd.Context())
			if err != nil {
				return err
			}
			req := api.ActorRequest{Actor: actor}
			var rec evaluation.Record
			if use == "approve" {
				rec, err = rt.service.Approve(cmd.Context(), args[0], req)
			} else {
				rec, err = rt.service.Reevaluate(cmd.Context(), args[0], req)
			}
			if err != nil {
				return err
			}
			if *jsonOutput {
				return writeJSON(cmd, rec)
			}
			printTransition(cmd.OutOrStdout(), rec)
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Who performs the action")
	return cmd
}

func newRecordsDeleteCommand(ctx *commandContext) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a record that has not been submitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.service(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.service.Delete(cmd.Context(), args[0], api.ActorRequest{Actor: actor}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Record %s deleted\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Who performs the deletion")
	return cmd
}

func newRecordsHistoryCommand(ctx *commandContext, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show lifecycle transitions recorded for a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.service(cmd.Context())
			if err != nil {
				return err
			}
			history, err := rt.service.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if *jsonOutput {
				return writeJSON(cmd, history)
			}
			if len(history.Events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No history recorded")
				return nil
			}
			rows := make([][]string, 0, len(history.Events))
			for _, evt := range history.Events {
				rows = append(rows, []string{
					evt.OccurredAt.Local().Format("2006-01-02 15:04:05"),
					string(evt.Action),
					transitionLabel(string(evt.FromStatus), string(evt.ToStatus)),
					evt.Actor,
					evt.Grade,
					formatScore(evt.TotalScore),
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"When", "Action", "Status", "Actor", "Grade", "Total"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}

// parseScores reads repeated key=value flags into criterion scores.
func parseScores(values []string) (evaluation.Scores, error) {
	if len(values) == 0 {
		return nil, nil
	}
	scores := make(evaluation.Scores, len(values))
	for _, raw := range values {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, evalerr.Wrap(evalerr.ErrValidation, "parse scores", fmt.Sprintf("expected key=value, got %q", raw), nil)
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, evalerr.Wrap(evalerr.ErrValidation, "parse scores", fmt.Sprintf("score for %s is not a number", key), err)
		}
		scores[key] = score
	}
	return scores, nil
}

func parseComments(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	comments := make(map[string]string, len(values))
	for _, raw := range values {
		key, text, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, evalerr.Wrap(evalerr.ErrValidation, "parse comments", fmt.Sprintf("expected key=text, got %q", raw), nil)
		}
		comments[key] = text
	}
	return comments, nil
}

// parseRecordingRefs reads script:track:path triples. The path may contain colons.
func parseRecordingRefs(values []string) ([]evaluation.RecordingRef, error) {
	refs := make([]evaluation.RecordingRef, 0, len(values))
	for _, raw := range values {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 {
			return nil, evalerr.Wrap(evalerr.ErrValidation, "parse recordings", fmt.Sprintf("expected script:track:path, got %q", raw), nil)
		}
		script, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, evalerr.Wrap(evalerr.ErrValidation, "parse recordings", fmt.Sprintf("script number in %q", raw), err)
		}
		refs = append(refs, evaluation.RecordingRef{
			Script: script,
			Track:  strings.TrimSpace(parts[1]),
			Path:   strings.TrimSpace(parts[2]),
		})
	}
	return refs, nil
}

func printRecordList(out io.Writer, list api.RecordList) {
	if len(list.Records) == 0 {
		fmt.Fprintln(out, "No records found")
	} else {
		rows := make([][]string, 0, len(list.Records))
		for _, rec := range list.Records {
			rows = append(rows, []string{
				rec.ID,
				rec.Name,
				rec.EmployeeID,
				rec.Language,
				rec.Category,
				rec.Status,
				yesNo(rec.Approved),
				rec.Grade,
				formatScore(rec.TotalScore),
				rec.SubmittedAt,
			})
		}
		fmt.Fprint(out, renderTable(
			[]string{"ID", "Name", "Employee", "Language", "Category", "Status", "Approved", "Grade", "Total", "Submitted"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
		))
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Showing %d of %d (offset %d)", len(list.Records), list.Total, list.Offset)
	if list.Skipped > 0 {
		fmt.Fprintf(out, ", %d unreadable skipped", list.Skipped)
	}
	fmt.Fprintln(out)
}

func printRecord(out io.Writer, rec evaluation.Record) {
	summary := api.FromRecord(rec)
	fmt.Fprintf(out, "ID:          %s\n", rec.ID)
	fmt.Fprintf(out, "Name:        %s (%s)\n", rec.Name, rec.EmployeeID)
	fmt.Fprintf(out, "Language:    %s\n", rec.Language)
	fmt.Fprintf(out, "Category:    %s\n", rec.Category)
	fmt.Fprintf(out, "Status:      %s\n", rec.Status)
	fmt.Fprintf(out, "Approved:    %s\n", yesNo(rec.Approved))
	if rec.Grade != "" {
		fmt.Fprintf(out, "Grade:       %s\n", rec.Grade)
	}
	fmt.Fprintf(out, "Total:       %s / %s\n", formatScore(rec.TotalScore), formatScore(rec.MaxScore))
	if summary.SubmittedAt != "" {
		fmt.Fprintf(out, "Submitted:   %s\n", summary.SubmittedAt)
	}
	if rec.EvaluatedBy != "" {
		fmt.Fprintf(out, "Evaluator:   %s\n", rec.EvaluatedBy)
	}
	if rec.ApprovedBy != "" {
		fmt.Fprintf(out, "Approved by: %s\n", rec.ApprovedBy)
	}
	fmt.Fprintf(out, "Detail path: %s\n", rec.DetailPath)

	if len(rec.Scores) > 0 {
		keys := make([]string, 0, len(rec.Scores))
		for key := range rec.Scores {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		rows := make([][]string, 0, len(keys))
		for _, key := range keys {
			rows = append(rows, []string{key, formatScore(rec.Scores[key]), rec.Comments[key]})
		}
		fmt.Fprint(out, renderTable([]string{"Criterion", "Score", "Comment"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft}))
		fmt.Fprintln(out)
	}
}

func printTransition(out io.Writer, rec evaluation.Record) {
	fmt.Fprintf(out, "Record %s is now %s", rec.ID, rec.Status)
	if rec.Approved {
		fmt.Fprint(out, " (approved)")
	}
	if rec.Grade != "" {
		fmt.Fprintf(out, " with grade %s", rec.Grade)
	}
	fmt.Fprintf(out, ", total %s\n", formatScore(rec.TotalScore))
}

func transitionLabel(from, to string) string {
	switch {
	case from == "" && to == "":
		return ""
	case from == "" || from == to:
		return to
	default:
		return from + " → " + to
	}
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
