package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/unkn0wn-root/deskquery/model"
)

type printer struct {
	w    io.Writer
	json bool
}

func newPrinter(w io.Writer, asJSON bool) *printer {
	return &printer{w: w, json: asJSON}
}

// print writes v as indented JSON, or calls table with a tab-aligned writer.
func (p *printer) print(v any, table func(w io.Writer)) error {
	if p.json {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

func (p *printer) clients(cs []model.Client) error {
	return p.print(cs, func(w io.Writer) {
		fmt.Fprintln(w, "ID\tNAME\tCOMPANY\tSTATUS\tEMAIL")
		for _, c := range cs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Company, c.Status, c.Email)
		}
	})
}

func (p *printer) client(c model.Client) error {
	return p.print(c, func(w io.Writer) {
		fmt.Fprintf(w, "id:\t%s\n", c.ID)
		fmt.Fprintf(w, "name:\t%s\n", c.Name)
		fmt.Fprintf(w, "email:\t%s\n", c.Email)
		fmt.Fprintf(w, "phone:\t%s\n", c.Phone)
		fmt.Fprintf(w, "company:\t%s\n", c.Company)
		fmt.Fprintf(w, "status:\t%s\n", c.Status)
		fmt.Fprintf(w, "assigned:\t%s\n", c.AssignedTo)
		fmt.Fprintf(w, "tags:\t%s\n", strings.Join(c.Tags, ", "))
		fmt.Fprintf(w, "billing:\t%s, %s, %s\n", c.BillingInfo.Address, c.BillingInfo.TaxID, c.BillingInfo.PaymentMethod)
		fmt.Fprintf(w, "created:\t%s\n", stamp(c.CreatedAt))
		fmt.Fprintf(w, "updated:\t%s\n", stamp(c.UpdatedAt))
		if c.Notes != "" {
			fmt.Fprintf(w, "notes:\t%s\n", c.Notes)
		}
	})
}

func (p *printer) tickets(ts []model.Ticket) error {
	return p.print(ts, func(w io.Writer) {
		fmt.Fprintln(w, "ID\tPRIORITY\tSTATUS\tCLIENT\tUPDATED\tTITLE")
		for _, t := range ts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Priority, t.Status, t.ClientID, stamp(t.UpdatedAt), t.Title)
		}
	})
}

func (p *printer) ticket(t model.Ticket) error {
	return p.print(t, func(w io.Writer) {
		fmt.Fprintf(w, "id:\t%s\n", t.ID)
		fmt.Fprintf(w, "title:\t%s\n", t.Title)
		fmt.Fprintf(w, "client:\t%s\n", t.ClientID)
		fmt.Fprintf(w, "assigned:\t%s\n", t.AssignedTo)
		fmt.Fprintf(w, "priority:\t%s\n", t.Priority)
		fmt.Fprintf(w, "status:\t%s\n", t.Status)
		fmt.Fprintf(w, "category:\t%s\n", t.Category)
		if t.DueDate != nil {
			fmt.Fprintf(w, "due:\t%s\n", stamp(*t.DueDate))
		}
		fmt.Fprintf(w, "tags:\t%s\n", strings.Join(t.Tags, ", "))
		fmt.Fprintf(w, "created:\t%s\n", stamp(t.CreatedAt))
		fmt.Fprintf(w, "updated:\t%s\n", stamp(t.UpdatedAt))
		for _, a := range t.Attachments {
			fmt.Fprintf(w, "attachment:\t%s (%d bytes) %s\n", a.Name, a.Size, a.URL)
		}
		fmt.Fprintf(w, "\n%s\n", t.Description)
	})
}

func (p *printer) comments(cs []model.TicketComment) error {
	return p.print(cs, func(w io.Writer) {
		for _, c := range cs {
			vis := ""
			if c.IsInternal {
				vis = " [internal]"
			}
			fmt.Fprintf(w, "%s\t%s%s\n", stamp(c.CreatedAt), c.UserID, vis)
			fmt.Fprintf(w, "\t%s\n", c.Content)
		}
	})
}

func (p *printer) user(u *model.User) error {
	return p.print(u, func(w io.Writer) {
		fmt.Fprintf(w, "id:\t%s\n", u.ID)
		fmt.Fprintf(w, "name:\t%s\n", u.Name)
		fmt.Fprintf(w, "email:\t%s\n", u.Email)
		fmt.Fprintf(w, "role:\t%s\n", u.Role)
		fmt.Fprintf(w, "permissions:\t%s\n", strings.Join(u.Permissions, ", "))
	})
}

func (p *printer) message(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return p.print(map[string]string{"message": msg}, func(w io.Writer) {
		fmt.Fprintln(w, msg)
	})
}

func stamp(t model.Timestamp) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
