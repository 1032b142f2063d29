package resources

import (
	"context"
	"io"

	"github.com/unkn0wn-root/deskquery"
	"github.com/unkn0wn-root/deskquery/model"
)

type ClientUpdate struct {
	ID    string
	Patch model.ClientPatch
}

type TicketUpdate struct {
	ID    string
	Patch model.TicketPatch
}

type NewComment struct {
	TicketID string
	Comment  model.CommentInput
}

// Upload is one attachment. Content is read once.
type Upload struct {
	TicketID string
	Name     string
	Content  io.Reader
}

func (r *Resources) CreateClient() deskquery.Mutation[model.ClientInput, model.Client] {
	return deskquery.Mutation[model.ClientInput, model.Client]{
		Name: "createClient",
		Execute: func(ctx context.Context, in model.ClientInput) (model.Client, error) {
			if err := model.ValidateClientInput(in).Err(); err != nil {
				return model.Client{}, err
			}
			return r.api.CreateClient(ctx, in)
		},
		Invalidates: func(model.ClientInput, model.Client) []deskquery.Key {
			return []deskquery.Key{{RootClients}}
		},
		Writes: func(_ model.ClientInput, out model.Client) []deskquery.Write {
			return []deskquery.Write{deskquery.WriteValue(ClientKey(out.ID), out)}
		},
	}
}

func (r *Resources) UpdateClient() deskquery.Mutation[ClientUpdate, model.Client] {
	return deskquery.Mutation[ClientUpdate, model.Client]{
		Name: "updateClient",
		Execute: func(ctx context.Context, in ClientUpdate) (model.Client, error) {
			if err := model.ValidateClientPatch(in.Patch).Err(); err != nil {
				return model.Client{}, err
			}
			return r.api.UpdateClient(ctx, in.ID, in.Patch)
		},
		Invalidates: func(ClientUpdate, model.Client) []deskquery.Key {
			return []deskquery.Key{{RootClients}}
		},
		Writes: func(_ ClientUpdate, out model.Client) []deskquery.Write {
			return []deskquery.Write{deskquery.WriteValue(ClientKey(out.ID), out)}
		},
	}
}

// DeleteClient takes the client id.
func (r *Resources) DeleteClient() deskquery.Mutation[string, struct{}] {
	return deskquery.Mutation[string, struct{}]{
		Name: "deleteClient",
		Execute: func(ctx context.Context, id string) (struct{}, error) {
			if id == "" {
				return struct{}{}, missing("Client", "id")
			}
			return struct{}{}, r.api.DeleteClient(ctx, id)
		},
		Invalidates: func(string, struct{}) []deskquery.Key {
			return []deskquery.Key{{RootClients}}
		},
		Removes: func(id string, _ struct{}) []deskquery.Key {
			return []deskquery.Key{ClientKey(id)}
		},
	}
}

func (r *Resources) CreateTicket() deskquery.Mutation[model.TicketInput, model.Ticket] {
	return deskquery.Mutation[model.TicketInput, model.Ticket]{
		Name: "createTicket",
		Execute: func(ctx context.Context, in model.TicketInput) (model.Ticket, error) {
			if err := model.ValidateTicketInput(in).Err(); err != nil {
				return model.Ticket{}, err
			}
			return r.api.CreateTicket(ctx, in)
		},
		Invalidates: func(model.TicketInput, model.Ticket) []deskquery.Key {
			return []deskquery.Key{{RootTickets}}
		},
		Writes: func(_ model.TicketInput, out model.Ticket) []deskquery.Write {
			return []deskquery.Write{deskquery.WriteValue(TicketKey(out.ID), out)}
		},
	}
}

func (r *Resources) UpdateTicket() deskquery.Mutation[TicketUpdate, model.Ticket] {
	return deskquery.Mutation[TicketUpdate, model.Ticket]{
		Name: "updateTicket",
		Execute: func(ctx context.Context, in TicketUpdate) (model.Ticket, error) {
			if err := model.ValidateTicketPatch(in.Patch).Err(); err != nil {
				return model.Ticket{}, err
			}
			return r.api.UpdateTicket(ctx, in.ID, in.Patch)
		},
		Invalidates: func(TicketUpdate, model.Ticket) []deskquery.Key {
			return []deskquery.Key{{RootTickets}}
		},
		Writes: func(_ TicketUpdate, out model.Ticket) []deskquery.Write {
			return []deskquery.Write{deskquery.WriteValue(TicketKey(out.ID), out)}
		},
	}
}

func (r *Resources) AddComment() deskquery.Mutation[NewComment, model.TicketComment] {
	return deskquery.Mutation[NewComment, model.TicketComment]{
		Name: "addComment",
		Execute: func(ctx context.Context, in NewComment) (model.TicketComment, error) {
			if err := model.ValidateCommentInput(in.Comment).Err(); err != nil {
				return model.TicketComment{}, err
			}
			return r.api.AddComment(ctx, in.TicketID, in.Comment)
		},
		Invalidates: func(_ NewComment, out model.TicketComment) []deskquery.Key {
			return []deskquery.Key{CommentsKey(out.TicketID)}
		},
	}
}

// UploadAttachment invalidates the ticket so its attachment list is reread.
func (r *Resources) UploadAttachment() deskquery.Mutation[Upload, model.Attachment] {
	return deskquery.Mutation[Upload, model.Attachment]{
		Name: "uploadAttachment",
		Execute: func(ctx context.Context, in Upload) (model.Attachment, error) {
			switch {
			case in.TicketID == "":
				return model.Attachment{}, missing("Upload", "ticketId")
			case in.Name == "":
				return model.Attachment{}, missing("Upload", "name")
			case in.Content == nil:
				return model.Attachment{}, missing("Upload", "content")
			}
			return r.api.UploadAttachment(ctx, in.TicketID, in.Name, in.Content)
		},
		Invalidates: func(in Upload, _ model.Attachment) []deskquery.Key {
			return []deskquery.Key{TicketKey(in.TicketID)}
		},
	}
}

func missing(resource, field string) error {
	return &model.ValidationError{
		Resource: resource,
		Input:    true,
		Issues:   []model.FieldError{{Path: field, Message: "required"}},
	}
}
