package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bountydotnew/querykit/beta"
	"github.com/bountydotnew/querykit/listview"
)

func appsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "Review beta applications",
	}
	cmd.AddCommand(appsListCmd(g), reviewCmd(g, beta.StatusApproved), reviewCmd(g, beta.StatusRejected))
	return cmd
}

type listFlags struct {
	status   string
	query    string
	sort     string
	desc     bool
	page     int
	pageSize int
}

func appsListCmd(g *globals) *cobra.Command {
	var f listFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List applications, searched and sorted locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, done, err := g.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			rows, err := fetchAll(cmd.Context(), cl.Beta, beta.Status(f.status))
			if err != nil {
				return err
			}
			return printApps(cmd.OutOrStdout(), rows, f)
		},
	}

	cmd.Flags().StringVar(&f.status, "status", "", "only pending, approved or rejected")
	cmd.Flags().StringVarP(&f.query, "query", "q", "", "case-insensitive search")
	cmd.Flags().StringVar(&f.sort, "sort", "createdAt", "sort column")
	cmd.Flags().BoolVar(&f.desc, "desc", true, "sort descending")
	cmd.Flags().IntVar(&f.page, "page", 1, "page number")
	cmd.Flags().IntVar(&f.pageSize, "page-size", listview.DefaultPageSize, "rows per page")
	return cmd
}

type lister interface {
	List(ctx context.Context, in beta.ListInput) (beta.ListResult, error)
}

// fetchAll walks the server pages for one status filter.
func fetchAll(ctx context.Context, l lister, status beta.Status) ([]beta.Listed, error) {
	var out []beta.Listed
	for page := 1; ; page++ {
		res, err := l.List(ctx, beta.ListInput{Status: status, Page: page, Limit: beta.MaxLimit})
		if err != nil {
			return nil, err
		}
		out = append(out, res.Applications...)
		if page >= res.TotalPages {
			return out, nil
		}
	}
}

var appColumns = []listview.Column[beta.Listed]{
	{Key: "id", Title: "ID", Value: func(a beta.Listed) any { return a.ID }, Width: 12},
	{Key: "name", Title: "NAME", Sortable: true, Value: func(a beta.Listed) any { return a.Name }},
	{Key: "projectName", Title: "PROJECT", Sortable: true, Value: func(a beta.Listed) any { return a.ProjectName }, Width: 30},
	{Key: "twitter", Title: "TWITTER", Value: func(a beta.Listed) any { return a.Twitter }},
	{Key: "status", Title: "STATUS", Sortable: true, Value: func(a beta.Listed) any { return string(a.Status) }},
	{Key: "email", Title: "EMAIL", Value: func(a beta.Listed) any { return a.User.Email }},
	{
		Key: "createdAt", Title: "SUBMITTED", Sortable: true,
		Value:  func(a beta.Listed) any { return a.CreatedAt },
		Render: func(a beta.Listed) string { return a.CreatedAt.Format(time.DateOnly) },
	},
}

func printApps(w io.Writer, rows []beta.Listed, f listFlags) error {
	t, err := listview.NewTable(listview.Config[beta.Listed]{Columns: appColumns, PageSize: f.pageSize})
	if err != nil {
		return err
	}
	dir := listview.Asc
	if f.desc {
		dir = listview.Desc
	}
	v := t.Apply(rows, listview.State{Query: f.query, SortField: f.sort, SortDir: dir, Page: f.page})
	if v.Empty() {
		_, err := fmt.Fprintln(w, t.EmptyMessage())
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.Headers(), "\t"))
	for _, cells := range t.Render(v) {
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "page %d of %d (%d matching)\n", v.Page, v.TotalPages, v.Total)
	return err
}

func reviewCmd(g *globals, status beta.Status) *cobra.Command {
	var notes string
	verb := "approve"
	if status == beta.StatusRejected {
		verb = "reject"
	}

	cmd := &cobra.Command{
		Use:   verb + " <application-id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a pending application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, done, err := g.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			review := cl.Beta.Approve
			if status == beta.StatusRejected {
				review = cl.Beta.Reject
			}
			a, err := review(cmd.Context(), args[0], notes).Wait(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", a.ID, a.Status, a.ProjectName)
			return nil
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	return cmd
}
