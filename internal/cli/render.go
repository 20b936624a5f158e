package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	core "github.com/Additional-Code/fooddash/internal/core/order"
	"github.com/Additional-Code/fooddash/internal/dto"
)

var (
	okMark    = color.New(color.FgGreen, color.Bold)
	heading   = color.New(color.Bold)
	statusInk = map[core.Status]*color.Color{
		core.StatusPending:        color.New(color.FgYellow),
		core.StatusPreparing:      color.New(color.FgCyan),
		core.StatusReadyForPickup: color.New(color.FgBlue),
		core.StatusOutForDelivery: color.New(color.FgMagenta),
		core.StatusDelivered:      color.New(color.FgGreen),
		core.StatusCancelled:      color.New(color.FgRed),
	}
)

func success(cmd *cobra.Command, msg string) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okMark.Sprint("✔"), msg)
}

func statusLabel(raw string) string {
	if ink, ok := statusInk[core.Status(raw)]; ok {
		return ink.Sprint(raw)
	}
	return raw
}

func renderView(w io.Writer, view *dto.OrderView) {
	heading.Fprintf(w, "Order #%d\n", view.ID)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "status\t%s\n", statusLabel(view.Status))
	fmt.Fprintf(tw, "customer\t%d\n", view.CustomerID)
	if view.Restaurant != nil {
		fmt.Fprintf(tw, "restaurant\t%s (#%d)\n", view.Restaurant.Name, view.Restaurant.ID)
	}
	if view.Driver != nil {
		fmt.Fprintf(tw, "driver\t%s (#%d)\n", view.Driver.Name, view.Driver.ID)
	}
	fmt.Fprintf(tw, "address\t%s\n", view.DeliveryAddress)
	fmt.Fprintf(tw, "fee\t%s\n", view.DeliveryFee.StringFixed(2))
	fmt.Fprintf(tw, "total\t%s\n", view.TotalAmount.StringFixed(2))
	_ = tw.Flush()

	if len(view.Items) > 0 {
		heading.Fprintln(w, "Items")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, item := range view.Items {
			fmt.Fprintf(tw, "  menu #%d\tx%d\t%s\n", item.MenuItemID, item.Quantity, item.UnitPrice.StringFixed(2))
		}
		_ = tw.Flush()
	}

	if len(view.History) > 0 {
		heading.Fprintln(w, "History")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, h := range view.History {
			by := "-"
			if h.ChangedBy != nil {
				by = fmt.Sprintf("user %d", *h.ChangedBy)
			}
			notes := ""
			if h.Notes != nil {
				notes = *h.Notes
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", h.CreatedAt.Format("2006-01-02 15:04:05"), statusLabel(h.Status), by, notes)
		}
		_ = tw.Flush()
	}
}

func renderTransitions(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, heading.Sprint("FROM")+"\t"+heading.Sprint("TO"))
	for _, s := range core.All() {
		next := core.Next(s)
		targets := make([]string, 0, len(next))
		for _, n := range next {
			targets = append(targets, statusLabel(n.String()))
		}
		to := "(terminal)"
		if len(targets) > 0 {
			to = strings.Join(targets, ", ")
		}
		fmt.Fprintf(tw, "%s\t%s\n", statusLabel(s.String()), to)
	}
	_ = tw.Flush()
}
