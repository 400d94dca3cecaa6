package main

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"caseflow/internal/backend"
	"caseflow/internal/flow"
	"caseflow/internal/model"
	"caseflow/internal/schema"

	"github.com/spf13/cobra"
)

type caseOptions struct {
	*rootOptions
	env    *clientEnv
	engine *flow.Engine
}

func newCaseCommand(root *rootOptions) *cobra.Command {
	opts := &caseOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "case",
		Short: "Create and move cases through their department flow",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			env, err := newClientEnv(cmd.Context(), root)
			if err != nil {
				return err
			}
			opts.env = env
			opts.engine = flow.NewEngine(env.store, env.client, env.refs, schema.NewCompilerWithCache(64), root.log)
			opts.engine.SetAttachments(env.client)
			opts.engine.SetSession(env.session)
			return nil
		},
	}

	cmd.AddCommand(
		newCaseListCommand(opts),
		newCaseCreateCommand(opts),
		newCaseMissingCommand(opts),
		newCaseAnswerCommand(opts),
		newCaseAttachCommand(opts),
		newCaseDeleteCommand(opts),
		newCaseTrashCommand(opts),
		newCaseRestoreCommand(opts),
		newCaseRevertCommand(opts),
		caseStep(opts, "advance", "Move a sequential case to its next department", (*flow.Engine).Advance),
		caseStep(opts, "finalize", "Finish a case once every department is satisfied", (*flow.Engine).Finalize),
		caseStep(opts, "pause", "Pause an in-progress case", (*flow.Engine).Pause),
		caseStep(opts, "resume", "Resume a paused case", (*flow.Engine).Resume),
		caseStep(opts, "cancel", "Cancel a case", (*flow.Engine).Cancel),
		newCaseCompleteCommand(opts),
	)

	return cmd
}

// caseStep builds a command for an engine operation taking only a case id
func caseStep(opts *caseOptions, use, short string, op func(*flow.Engine, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <case-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := opts.env.load(ctx, args[0]); err != nil {
				return err
			}
			if err := op(opts.engine, ctx, args[0]); err != nil {
				return err
			}
			return opts.printCase(cmd, args[0])
		},
	}
}

func (o *caseOptions) printCase(cmd *cobra.Command, id string) error {
	c, ok := o.env.store.Get(id)
	if !ok {
		return fmt.Errorf("case %s not in local store", id)
	}
	return printJSON(cmd.OutOrStdout(), c)
}

func newCaseListCommand(opts *caseOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active cases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cases, err := opts.env.client.ListCases(cmd.Context())
			if err != nil {
				return err
			}
			opts.env.store.UpsertMany(cases)
			out := cmd.OutOrStdout()
			for _, c := range opts.env.store.List() {
				fmt.Fprintf(out, "%s\t%s\t%s\t%d%%\t%s\n", c.ID, c.Status, c.Priority, c.Progress, c.Title)
			}
			return nil
		},
	}
}

func newCaseCreateCommand(opts *caseOptions) *cobra.Command {
	var (
		in       backend.CreateCaseInput
		flowIDs  []string
		priority string
	)

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a case",
		Example: `  caseflow case create --title "Order 1042" --flow 1,2,3
  caseflow case create --title "Audit" --flow 2,4 --independent --priority high
  caseflow case create --title "Onboarding" --template onboarding`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range flowIDs {
				id, err := model.ParseDepartmentID(raw)
				if err != nil {
					return err
				}
				in.Flow = append(in.Flow, id)
			}
			in.Priority = model.Priority(priority)

			c, err := opts.engine.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c)
		},
	}

	cmd.Flags().StringVar(&in.Title, "title", "", "case title")
	cmd.Flags().StringSliceVar(&flowIDs, "flow", nil, "ordered department ids")
	cmd.Flags().BoolVar(&in.Independent, "independent", false, "departments work in any order")
	cmd.Flags().StringVar(&priority, "priority", string(model.PriorityMedium), "low, medium or high")
	cmd.Flags().StringVar(&in.CompanyID, "company", "", "company id")
	cmd.Flags().StringVar(&in.TemplateID, "template", "", "template to copy flow and questions from")
	cmd.Flags().StringSliceVar(&in.Labels, "label", nil, "label ids")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

func newCaseRevertCommand(opts *caseOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "revert <case-id>",
		Short: "Step a sequential case back one department",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := opts.env.load(ctx, args[0]); err != nil {
				return err
			}
			if !yes {
				ok, err := confirm(fmt.Sprintf("Move case %s back one department?", args[0]))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "revert cancelled")
					return nil
				}
				yes = true
			}
			if err := opts.engine.Revert(ctx, args[0], yes); err != nil {
				return err
			}
			return opts.printCase(cmd, args[0])
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

func newCaseCompleteCommand(opts *caseOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <case-id> <department-id>",
		Short: "Tick a department of an independent case",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dept, err := model.ParseDepartmentID(args[1])
			if err != nil {
				return err
			}
			if err := opts.env.load(ctx, args[0]); err != nil {
				return err
			}
			if err := opts.engine.CompleteDepartment(ctx, args[0], dept); err != nil {
				return err
			}
			return opts.printCase(cmd, args[0])
		},
	}
}

func newCaseMissingCommand(opts *caseOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "missing <case-id> <department-id>",
		Short: "Show what a department still lacks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dept, err := model.ParseDepartmentID(args[1])
			if err != nil {
				return err
			}
			if err := opts.env.load(ctx, args[0]); err != nil {
				return err
			}
			items, err := opts.engine.Missing(args[0], dept)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing missing")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), items)
		},
	}
}

func newCaseAnswerCommand(opts *caseOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "answer <case-id> <department-id> <answers-json>",
		Short:   "Submit question answers for a department",
		Example: `  caseflow case answer 01HV... 2 '{"invoice_no":"F-17","amount":120}'`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dept, err := model.ParseDepartmentID(args[1])
			if err != nil {
				return err
			}
			var answers map[string]any
			if err := json.Unmarshal([]byte(args[2]), &answers); err != nil {
				return fmt.Errorf("failed to parse answers: %w", err)
			}
			if err := opts.env.load(ctx, args[0]); err != nil {
				return err
			}
			if err := opts.engine.SubmitAnswers(ctx, args[0], dept, answers); err != nil {
				return err
			}
			return opts.printCase(cmd, args[0])
		},
	}
}

func newCaseAttachCommand(opts *caseOptions) *cobra.Command {
	var up backend.Upload

	cmd := &cobra.Command{
		Use:   "attach <case-id> <department-id> <file>",
		Short: "Upload a document to a department of a case",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dept, err := model.ParseDepartmentID(args[1])
			if err != nil {
				return err
			}
			f, err := os.Open(args[2])
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("failed to stat file: %w", err)
			}

			up.DepartmentID = dept
			up.Name = filepath.Base(args[2])
			up.MIME = mime.TypeByExtension(filepath.Ext(up.Name))
			if up.MIME == "" {
				up.MIME = "application/octet-stream"
			}
			up.Size = info.Size()
			up.Body = f

			if err := opts.env.load(ctx, args[0]); err != nil {
				return err
			}
			doc, err := opts.engine.AttachDocument(ctx, args[0], up)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}

	cmd.Flags().StringVar(&up.QuestionID, "question", "", "file question the document answers")
	cmd.Flags().StringVar(&up.Requirement, "requirement", "", "required document label it satisfies")

	return cmd
}

func newCaseDeleteCommand(opts *caseOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "delete <case-id>",
		Short: "Move a case to the trash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := opts.env.load(ctx, args[0]); err != nil {
				return err
			}
			if err := opts.engine.Delete(ctx, args[0], reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the case is deleted")

	return cmd
}

func newCaseRestoreCommand(opts *caseOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "restore [case-id...]",
		Short: "Restore trashed cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ids := args
			if all {
				trashed, _, err := opts.env.client.ListTrash(ctx)
				if err != nil {
					return err
				}
				ids = nil
				for _, t := range trashed {
					ids = append(ids, t.Case.ID)
				}
			}
			if len(ids) == 0 {
				return fmt.Errorf("no cases to restore")
			}
			res := opts.engine.RestoreMany(ctx, ids)
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d, failed %d\n", res.Restored, res.Failed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "restore everything in the trash")

	return cmd
}

func newCaseTrashCommand(opts *caseOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trash",
		Short: "List deleted cases awaiting purge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			trashed, retentionDays, err := opts.env.client.ListTrash(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range trashed {
				purge := t.DeletedAt.AddDate(0, 0, retentionDays)
				fmt.Fprintf(out, "%s\t%s\tpurged %s\t%s\n", t.Case.ID, t.Case.Title, purge.Format("2006-01-02"), t.Reason)
			}
			return nil
		},
	}
}
