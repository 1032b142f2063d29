package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/unkn0wn-root/deskquery"
	"github.com/unkn0wn-root/deskquery/model"
	"github.com/unkn0wn-root/deskquery/resources"
)

type command struct {
	auth    bool
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"login":         {summary: "log in and store the session", run: cmdLogin},
	"logout":        {summary: "drop the stored session", run: cmdLogout},
	"whoami":        {auth: true, summary: "show the logged-in user", run: cmdWhoami},
	"clients":       {auth: true, summary: "list clients", run: cmdClients},
	"client":        {auth: true, summary: "show one client", run: cmdClient},
	"create-client": {auth: true, summary: "create a client", run: cmdCreateClient},
	"delete-client": {auth: true, summary: "delete a client", run: cmdDeleteClient},
	"tickets":       {auth: true, summary: "list tickets", run: cmdTickets},
	"ticket":        {auth: true, summary: "show one ticket", run: cmdTicket},
	"create-ticket": {auth: true, summary: "open a ticket", run: cmdCreateTicket},
	"update-ticket": {auth: true, summary: "change fields of a ticket", run: cmdUpdateTicket},
	"comments":      {auth: true, summary: "show the comment thread of a ticket", run: cmdComments},
	"comment":       {auth: true, summary: "add a comment to a ticket", run: cmdComment},
	"upload":        {auth: true, summary: "attach a file to a ticket", run: cmdUpload},
	"watch":         {auth: true, summary: "print tickets or clients whenever they change", run: cmdWatch},
}

func newFlags(name string) *pflag.FlagSet {
	return pflag.NewFlagSet("deskq "+name, pflag.ContinueOnError)
}

// parse parses args and checks the number of positional arguments.
func parse(fs *pflag.FlagSet, args []string, positional ...string) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != len(positional) {
		return nil, fmt.Errorf("usage: %s [flags] %v", fs.Name(), positional)
	}
	return fs.Args(), nil
}

// optional returns a pointer to the flag value if the flag was given.
func optional[T any](fs *pflag.FlagSet, name string, v T) *T {
	if !fs.Changed(name) {
		return nil
	}
	return &v
}

func filters(pairs ...string) model.Filters {
	f := model.Filters{}
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			f[pairs[i]] = pairs[i+1]
		}
	}
	return f
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlags("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password (default: $DESKQ_PASSWORD)")
	if _, err := parse(fs, args); err != nil {
		return err
	}
	if *password == "" {
		*password = os.Getenv("DESKQ_PASSWORD")
	}
	u, err := a.sess.Login(ctx, model.Credentials{Email: *email, Password: *password})
	if err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			for _, issue := range ve.Issues {
				fmt.Fprintf(os.Stderr, "  %s\n", issue)
			}
		}
		return err
	}
	return a.out.user(&u)
}

func cmdLogout(ctx context.Context, a *app, args []string) error {
	if _, err := parse(newFlags("logout"), args); err != nil {
		return err
	}
	a.sess.Logout(ctx)
	return a.out.message("logged out")
}

func cmdWhoami(_ context.Context, a *app, args []string) error {
	if _, err := parse(newFlags("whoami"), args); err != nil {
		return err
	}
	return a.out.user(a.sess.User())
}

func cmdClients(ctx context.Context, a *app, args []string) error {
	fs := newFlags("clients")
	status := fs.String("status", "", "filter by status")
	search := fs.String("search", "", "filter by name, email or company")
	if _, err := parse(fs, args); err != nil {
		return err
	}
	cs, err := deskquery.Fetch(ctx, a.cache, a.res.Clients(filters("status", *status, "search", *search)))
	if err != nil {
		return err
	}
	return a.out.clients(cs)
}

func cmdClient(ctx context.Context, a *app, args []string) error {
	pos, err := parse(newFlags("client"), args, "id")
	if err != nil {
		return err
	}
	c, err := deskquery.Fetch(ctx, a.cache, a.res.Client(pos[0]))
	if err != nil {
		return err
	}
	return a.out.client(c)
}

func cmdCreateClient(ctx context.Context, a *app, args []string) error {
	fs := newFlags("create-client")
	var in model.ClientInput
	fs.StringVar(&in.Name, "name", "", "client name")
	fs.StringVar(&in.Email, "email", "", "client email")
	fs.StringVar(&in.Phone, "phone", "", "phone number")
	fs.StringVar(&in.Company, "company", "", "company")
	status := fs.String("status", string(model.ClientActive), "active, inactive or pending")
	fs.StringVar(&in.Notes, "notes", "", "free-form notes")
	fs.StringVar(&in.AssignedTo, "assign", "", "user id of the account owner")
	fs.StringSliceVar(&in.Tags, "tag", nil, "tag (repeatable)")
	fs.StringVar(&in.BillingInfo.Address, "address", "", "billing address")
	fs.StringVar(&in.BillingInfo.TaxID, "tax-id", "", "tax id")
	payment := fs.String("payment", string(model.PayBankTransfer), "credit_card, bank_transfer or paypal")
	if _, err := parse(fs, args); err != nil {
		return err
	}
	in.Status = model.ClientStatus(*status)
	in.BillingInfo.PaymentMethod = model.PaymentMethod(*payment)

	c, err := deskquery.Mutate(ctx, a.cache, a.res.CreateClient(), in)
	if err != nil {
		return err
	}
	return a.out.client(c)
}

func cmdDeleteClient(ctx context.Context, a *app, args []string) error {
	pos, err := parse(newFlags("delete-client"), args, "id")
	if err != nil {
		return err
	}
	if _, err := deskquery.Mutate(ctx, a.cache, a.res.DeleteClient(), pos[0]); err != nil {
		return err
	}
	return a.out.message("deleted client %s", pos[0])
}

func cmdTickets(ctx context.Context, a *app, args []string) error {
	fs := newFlags("tickets")
	status := fs.String("status", "", "filter by status")
	priority := fs.String("priority", "", "filter by priority")
	client := fs.String("client", "", "filter by client id")
	assigned := fs.String("assigned", "", "filter by assignee")
	if _, err := parse(fs, args); err != nil {
		return err
	}
	f := filters("status", *status, "priority", *priority, "clientId", *client, "assignedTo", *assigned)
	ts, err := deskquery.Fetch(ctx, a.cache, a.res.Tickets(f))
	if err != nil {
		return err
	}
	return a.out.tickets(ts)
}

func cmdTicket(ctx context.Context, a *app, args []string) error {
	pos, err := parse(newFlags("ticket"), args, "id")
	if err != nil {
		return err
	}
	t, err := deskquery.Fetch(ctx, a.cache, a.res.Ticket(pos[0]))
	if err != nil {
		return err
	}
	return a.out.ticket(t)
}

func parseDue(s string) (*model.Timestamp, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		if t, err = time.ParseInLocation(time.DateOnly, s, time.Local); err != nil {
			return nil, fmt.Errorf("--due: want RFC 3339 or YYYY-MM-DD: %w", err)
		}
	}
	ts := model.At(t)
	return &ts, nil
}

func cmdCreateTicket(ctx context.Context, a *app, args []string) error {
	fs := newFlags("create-ticket")
	var in model.TicketInput
	fs.StringVar(&in.Title, "title", "", "short summary")
	fs.StringVar(&in.Description, "description", "", "problem description")
	fs.StringVar(&in.ClientID, "client", "", "client id")
	fs.StringVar(&in.AssignedTo, "assign", "", "assignee user id")
	priority := fs.String("priority", string(model.PriorityMedium), "low, medium, high or urgent")
	category := fs.String("category", string(model.CategoryOther), "technical, billing, feature_request, bug or other")
	due := fs.String("due", "", "due date")
	fs.StringSliceVar(&in.Tags, "tag", nil, "tag (repeatable)")
	if _, err := parse(fs, args); err != nil {
		return err
	}
	in.Status = model.TicketOpen
	in.Priority = model.TicketPriority(*priority)
	in.Category = model.TicketCategory(*category)
	var err error
	if in.DueDate, err = parseDue(*due); err != nil {
		return err
	}

	t, err := deskquery.Mutate(ctx, a.cache, a.res.CreateTicket(), in)
	if err != nil {
		return err
	}
	return a.out.ticket(t)
}

func cmdUpdateTicket(ctx context.Context, a *app, args []string) error {
	fs := newFlags("update-ticket")
	title := fs.String("title", "", "new title")
	description := fs.String("description", "", "new description")
	assign := fs.String("assign", "", "new assignee")
	status := fs.String("status", "", "new status")
	priority := fs.String("priority", "", "new priority")
	category := fs.String("category", "", "new category")
	due := fs.String("due", "", "new due date")
	tags := fs.StringSlice("tag", nil, "replace tags (repeatable)")
	pos, err := parse(fs, args, "id")
	if err != nil {
		return err
	}
	patch := model.TicketPatch{
		Title:       optional(fs, "title", *title),
		Description: optional(fs, "description", *description),
		AssignedTo:  optional(fs, "assign", *assign),
		Status:      optional(fs, "status", model.TicketStatus(*status)),
		Priority:    optional(fs, "priority", model.TicketPriority(*priority)),
		Category:    optional(fs, "category", model.TicketCategory(*category)),
		Tags:        *tags,
	}
	if patch.DueDate, err = parseDue(*due); err != nil {
		return err
	}
	t, err := deskquery.Mutate(ctx, a.cache, a.res.UpdateTicket(), resources.TicketUpdate{ID: pos[0], Patch: patch})
	if err != nil {
		return err
	}
	return a.out.ticket(t)
}

func cmdComments(ctx context.Context, a *app, args []string) error {
	pos, err := parse(newFlags("comments"), args, "ticket-id")
	if err != nil {
		return err
	}
	cs, err := deskquery.Fetch(ctx, a.cache, a.res.Comments(pos[0]))
	if err != nil {
		return err
	}
	return a.out.comments(cs)
}

func cmdComment(ctx context.Context, a *app, args []string) error {
	fs := newFlags("comment")
	text := fs.StringP("message", "m", "", "comment text")
	internal := fs.Bool("internal", false, "hide the comment from the client")
	pos, err := parse(fs, args, "ticket-id")
	if err != nil {
		return err
	}
	in := resources.NewComment{
		TicketID: pos[0],
		Comment:  model.CommentInput{UserID: a.sess.User().ID, Content: *text, IsInternal: *internal},
	}
	if _, err := deskquery.Mutate(ctx, a.cache, a.res.AddComment(), in); err != nil {
		return err
	}
	cs, err := deskquery.Fetch(ctx, a.cache, a.res.Comments(pos[0]))
	if err != nil {
		return err
	}
	return a.out.comments(cs)
}

func cmdUpload(ctx context.Context, a *app, args []string) error {
	pos, err := parse(newFlags("upload"), args, "ticket-id", "file")
	if err != nil {
		return err
	}
	f, err := os.Open(pos[1])
	if err != nil {
		return err
	}
	defer f.Close()

	up := resources.Upload{TicketID: pos[0], Name: filepath.Base(pos[1]), Content: f}
	att, err := deskquery.Mutate(ctx, a.cache, a.res.UploadAttachment(), up)
	if err != nil {
		return err
	}
	return a.out.message("uploaded %s (%d bytes) to ticket %s", att.Name, att.Size, pos[0])
}

// cmdWatch keeps a subscription open and prints the list on every change
// until interrupted. --every forces a refetch on an interval.
func cmdWatch(ctx context.Context, a *app, args []string) error {
	fs := newFlags("watch")
	status := fs.String("status", "", "filter by status")
	every := fs.Duration("every", 30*time.Second, "refetch interval; 0 disables")
	pos, err := parse(fs, args, "tickets|clients")
	if err != nil {
		return err
	}
	f := filters("status", *status)
	switch pos[0] {
	case "tickets":
		return watch(ctx, a, a.res.Tickets(f), *every, a.out.tickets)
	case "clients":
		return watch(ctx, a, a.res.Clients(f), *every, a.out.clients)
	default:
		return fmt.Errorf("watch: unknown resource %q", pos[0])
	}
}

func watch[T any](ctx context.Context, a *app, q deskquery.Query[T], every time.Duration, show func(T) error) error {
	obs, err := deskquery.Subscribe(a.cache, q)
	if err != nil {
		return err
	}
	defer obs.Unsubscribe()

	var tick <-chan time.Time
	if every > 0 {
		t := time.NewTicker(every)
		defer t.Stop()
		tick = t.C
	}

	var last time.Time
	for {
		r := obs.Result()
		switch {
		case r.IsError():
			fmt.Fprintf(os.Stderr, "refresh failed: %v\n", r.Err)
		case r.HasData && !r.UpdatedAt.Equal(last):
			last = r.UpdatedAt
			if err := show(r.Data); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			obs.Refetch()
		case <-obs.Changes():
		}
	}
}
