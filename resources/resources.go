// Package resources is the dashboard's query and mutation table: which key
// each view reads, which endpoint fills it, and which entries every mutation
// rewrites, invalidates or removes.
package resources

import (
	"context"
	"io"

	"github.com/unkn0wn-root/deskquery"
	"github.com/unkn0wn-root/deskquery/codec"
	"github.com/unkn0wn-root/deskquery/model"
)

// Key roots. Invalidating a bare root matches every key under it.
const (
	RootClients  = "clients"
	RootClient   = "client"
	RootTickets  = "tickets"
	RootTicket   = "ticket"
	RootComments = "ticket-comments"
)

// API is the part of *transport.Client the table calls.
type API interface {
	ListClients(ctx context.Context, filters model.Filters) ([]model.Client, error)
	GetClient(ctx context.Context, id string) (model.Client, error)
	CreateClient(ctx context.Context, in model.ClientInput) (model.Client, error)
	UpdateClient(ctx context.Context, id string, patch model.ClientPatch) (model.Client, error)
	DeleteClient(ctx context.Context, id string) error

	ListTickets(ctx context.Context, filters model.Filters) ([]model.Ticket, error)
	GetTicket(ctx context.Context, id string) (model.Ticket, error)
	CreateTicket(ctx context.Context, in model.TicketInput) (model.Ticket, error)
	UpdateTicket(ctx context.Context, id string, patch model.TicketPatch) (model.Ticket, error)

	ListComments(ctx context.Context, ticketID string) ([]model.TicketComment, error)
	AddComment(ctx context.Context, ticketID string, in model.CommentInput) (model.TicketComment, error)
	UploadAttachment(ctx context.Context, ticketID, name string, content io.Reader) (model.Attachment, error)
}

type Options struct {
	// Persist attaches codecs so the cache's persistence tier can store the
	// entries. Lists are zstd-compressed JSON, details plain JSON.
	Persist bool
	// MaxDecoded caps a decompressed persisted list. 0 => codec default.
	MaxDecoded int
}

type Resources struct {
	api API

	clients  codec.Codec[[]model.Client]
	client   codec.Codec[model.Client]
	tickets  codec.Codec[[]model.Ticket]
	ticket   codec.Codec[model.Ticket]
	comments codec.Codec[[]model.TicketComment]
}

func New(api API, opts Options) (*Resources, error) {
	r := &Resources{api: api}
	if !opts.Persist {
		return r, nil
	}
	clients, err := codec.NewZstd[[]model.Client](codec.JSON[[]model.Client]{}, opts.MaxDecoded)
	if err != nil {
		return nil, err
	}
	tickets, err := codec.NewZstd[[]model.Ticket](codec.JSON[[]model.Ticket]{}, opts.MaxDecoded)
	if err != nil {
		return nil, err
	}
	comments, err := codec.NewZstd[[]model.TicketComment](codec.JSON[[]model.TicketComment]{}, opts.MaxDecoded)
	if err != nil {
		return nil, err
	}
	r.clients, r.tickets, r.comments = clients, tickets, comments
	r.client = codec.JSON[model.Client]{}
	r.ticket = codec.JSON[model.Ticket]{}
	return r, nil
}

// filterKey drops empty values and turns nil into an empty map, so the same
// request always maps to the same key.
func filterKey(f model.Filters) model.Filters {
	out := make(model.Filters, len(f))
	for k, v := range f {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func ClientsKey(f model.Filters) deskquery.Key  { return deskquery.Key{RootClients, filterKey(f)} }
func ClientKey(id string) deskquery.Key         { return deskquery.Key{RootClient, id} }
func TicketsKey(f model.Filters) deskquery.Key  { return deskquery.Key{RootTickets, filterKey(f)} }
func TicketKey(id string) deskquery.Key         { return deskquery.Key{RootTicket, id} }
func CommentsKey(ticketID string) deskquery.Key { return deskquery.Key{RootComments, ticketID} }

func (r *Resources) Clients(f model.Filters) deskquery.Query[[]model.Client] {
	f = filterKey(f)
	return deskquery.Query[[]model.Client]{
		Key:   ClientsKey(f),
		Fetch: func(ctx context.Context) ([]model.Client, error) { return r.api.ListClients(ctx, f) },
		Codec: r.clients,
	}
}

func (r *Resources) Client(id string) deskquery.Query[model.Client] {
	return deskquery.Query[model.Client]{
		Key:   ClientKey(id),
		Fetch: func(ctx context.Context) (model.Client, error) { return r.api.GetClient(ctx, id) },
		Codec: r.client,
	}
}

func (r *Resources) Tickets(f model.Filters) deskquery.Query[[]model.Ticket] {
	f = filterKey(f)
	return deskquery.Query[[]model.Ticket]{
		Key:   TicketsKey(f),
		Fetch: func(ctx context.Context) ([]model.Ticket, error) { return r.api.ListTickets(ctx, f) },
		Codec: r.tickets,
	}
}

func (r *Resources) Ticket(id string) deskquery.Query[model.Ticket] {
	return deskquery.Query[model.Ticket]{
		Key:   TicketKey(id),
		Fetch: func(ctx context.Context) (model.Ticket, error) { return r.api.GetTicket(ctx, id) },
		Codec: r.ticket,
	}
}

func (r *Resources) Comments(ticketID string) deskquery.Query[[]model.TicketComment] {
	return deskquery.Query[[]model.TicketComment]{
		Key: CommentsKey(ticketID),
		Fetch: func(ctx context.Context) ([]model.TicketComment, error) {
			return r.api.ListComments(ctx, ticketID)
		},
		Codec: r.comments,
	}
}
