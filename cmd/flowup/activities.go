package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"flowup/internal/activity"
	"flowup/internal/app"
	"flowup/internal/reminder"
)

type activityFlags struct {
	title, description, due, remind, category, priority string
}

func (f *activityFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.title, "title", "t", "", "activity title")
	cmd.Flags().StringVarP(&f.description, "description", "d", "", "activity description (used as reminder text)")
	cmd.Flags().StringVar(&f.due, "due", "", `due date (YYYY-MM-DD, "YYYY-MM-DD HH:MM" or RFC3339)`)
	cmd.Flags().StringVarP(&f.remind, "remind", "r", "", "remind this many days before due, or none")
	cmd.Flags().StringVar(&f.category, "category", "", "WORK, PERSONAL, HEALTH, STUDY or OTHER")
	cmd.Flags().StringVar(&f.priority, "priority", "", "HIGH, MEDIUM or LOW")
}

func addCmd() *cobra.Command {
	var f activityFlags
	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Create an activity and schedule its reminder",
		Example: `  flowup add -t "Quarterly report" --due "2026-11-02 10:00" -r 2 --category work --priority high`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			days, err := parseRemind(f.remind)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				due, err := parseDue(f.due, a.Location())
				if err != nil {
					return err
				}
				res, err := a.Activities().Create(ctx, activity.Input{
					Title:              f.title,
					Description:        f.description,
					DueDate:            due,
					ReminderDaysBefore: days,
					Category:           f.category,
					Priority:           f.priority,
				})
				return report(cmd, "created", res, err)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func editCmd() *cobra.Command {
	var f activityFlags
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change an activity; its reminder is rescheduled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				cur, err := a.Activities().Get(ctx, id)
				if err != nil {
					return err
				}
				in := activity.Input{
					Title:              cur.Title,
					Description:        cur.Description,
					DueDate:            cur.DueDate,
					ReminderDaysBefore: cur.ReminderDaysBefore,
					Category:           string(cur.Category),
					Priority:           string(cur.Priority),
				}
				fl := cmd.Flags()
				if fl.Changed("title") {
					in.Title = f.title
				}
				if fl.Changed("description") {
					in.Description = f.description
				}
				if fl.Changed("due") {
					if in.DueDate, err = parseDue(f.due, a.Location()); err != nil {
						return err
					}
				}
				if fl.Changed("remind") {
					if in.ReminderDaysBefore, err = parseRemind(f.remind); err != nil {
						return err
					}
				}
				if fl.Changed("category") {
					in.Category = f.category
				}
				if fl.Changed("priority") {
					in.Priority = f.priority
				}
				res, err := a.Activities().Update(ctx, id, in)
				return report(cmd, "updated", res, err)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func completeCmd(done bool) *cobra.Command {
	use, short, verb := "complete <id>", "Mark an activity completed and cancel its reminder", "completed"
	if !done {
		use, short, verb = "reopen <id>", "Mark an activity pending again and reschedule its reminder", "reopened"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Activities().SetCompleted(ctx, id, done)
				return report(cmd, verb, res, err)
			})
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an activity and cancel its reminder",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Activities().Delete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted activity %d\n", id)
				return nil
			})
		},
	}
}

func listCmd() *cobra.Command {
	var completed, asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List pending activities, earliest due first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				list := a.Activities().ListPending
				if completed {
					list = a.Activities().ListCompleted
				}
				items, err := list(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(items)
				}
				printActivities(cmd, items)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&completed, "completed", false, "list completed activities instead")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func printActivities(cmd *cobra.Command, items []activity.Activity) {
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no activities")
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDUE\tREMIND\tCATEGORY\tPRIORITY\tTITLE")
	for _, it := range items {
		remind := "-"
		if it.ReminderDaysBefore != nil {
			remind = fmt.Sprintf("%dd", *it.ReminderDaysBefore)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", it.ID, it.DueDate.Local().Format("2006-01-02 15:04"), remind, it.Category, it.Priority, it.Title)
	}
	_ = w.Flush()
}

// report prints the mutation outcome. A reminder error after a successful
// write is shown as a warning and still fails the command.
func report(cmd *cobra.Command, verb string, res activity.Result, err error) error {
	if res.Activity.ID == 0 {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s activity %d: %s\n", verb, res.Activity.ID, res.Activity.Title)
	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "warning: activity saved but reminder not updated: %v\n", err)
		return err
	case res.ReminderArmed:
		at, _, _ := reminder.ComputeFireAt(res.Activity.DueDate, res.Activity.ReminderDaysBefore)
		fmt.Fprintf(out, "reminder set for %s\n", at.Local().Format("2006-01-02 15:04"))
	case res.Activity.IsCompleted:
		fmt.Fprintln(out, "reminder canceled")
	case res.Activity.ReminderDaysBefore != nil:
		fmt.Fprintln(out, "reminder window already passed; no reminder set")
	}
	return nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid activity id %q", raw)
	}
	return id, nil
}
