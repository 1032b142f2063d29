package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/unkn0wn-root/deskquery"
	"github.com/unkn0wn-root/deskquery/model"
)

func filterQuery(f model.Filters) url.Values {
	if len(f) == 0 {
		return nil
	}
	q := make(url.Values, len(f))
	for k, v := range f {
		if v != "" {
			q.Set(k, v)
		}
	}
	return q
}

func idPath(prefix, id string) string { return prefix + "/" + url.PathEscape(id) }

// call sends a JSON request and runs the reply through parse.
func call[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any, parse func([]byte) model.Result[T]) (T, error) {
	var zero T
	r, err := jsonRequest(method, path, query, body)
	if err != nil {
		return zero, err
	}
	b, err := c.send(ctx, r)
	if err != nil {
		return zero, err
	}
	return checked(c, method, path, parse(b))
}

func checked[T any](c *Client, method, path string, res model.Result[T]) (T, error) {
	if err := res.Err(); err != nil {
		c.log.Error("response failed validation", deskquery.Fields{"method": method, "path": path, "err": err})
		return res.Value, err
	}
	return res.Value, nil
}

func (c *Client) ListClients(ctx context.Context, filters model.Filters) ([]model.Client, error) {
	return call(ctx, c, http.MethodGet, "/clients", filterQuery(filters), nil, model.ParseClients)
}

func (c *Client) GetClient(ctx context.Context, id string) (model.Client, error) {
	return call(ctx, c, http.MethodGet, idPath("/clients", id), nil, nil, model.ParseClient)
}

func (c *Client) CreateClient(ctx context.Context, in model.ClientInput) (model.Client, error) {
	return call(ctx, c, http.MethodPost, "/clients", nil, in, model.ParseClient)
}

func (c *Client) UpdateClient(ctx context.Context, id string, patch model.ClientPatch) (model.Client, error) {
	return call(ctx, c, http.MethodPatch, idPath("/clients", id), nil, patch, model.ParseClient)
}

func (c *Client) DeleteClient(ctx context.Context, id string) error {
	r, _ := jsonRequest(http.MethodDelete, idPath("/clients", id), nil, nil)
	_, err := c.send(ctx, r)
	return err
}

func (c *Client) ListTickets(ctx context.Context, filters model.Filters) ([]model.Ticket, error) {
	return call(ctx, c, http.MethodGet, "/tickets", filterQuery(filters), nil, model.ParseTickets)
}

func (c *Client) GetTicket(ctx context.Context, id string) (model.Ticket, error) {
	return call(ctx, c, http.MethodGet, idPath("/tickets", id), nil, nil, model.ParseTicket)
}

func (c *Client) CreateTicket(ctx context.Context, in model.TicketInput) (model.Ticket, error) {
	return call(ctx, c, http.MethodPost, "/tickets", nil, in, model.ParseTicket)
}

func (c *Client) UpdateTicket(ctx context.Context, id string, patch model.TicketPatch) (model.Ticket, error) {
	return call(ctx, c, http.MethodPatch, idPath("/tickets", id), nil, patch, model.ParseTicket)
}

func (c *Client) ListComments(ctx context.Context, ticketID string) ([]model.TicketComment, error) {
	return call(ctx, c, http.MethodGet, idPath("/tickets", ticketID)+"/comments", nil, nil, model.ParseComments)
}

func (c *Client) AddComment(ctx context.Context, ticketID string, in model.CommentInput) (model.TicketComment, error) {
	return call(ctx, c, http.MethodPost, idPath("/tickets", ticketID)+"/comments", nil, in, model.ParseComment)
}

// UploadAttachment posts content as the "file" part of a multipart form.
// content is read fully before the first attempt so a 401 retry can replay it.
func (c *Client) UploadAttachment(ctx context.Context, ticketID, name string, content io.Reader) (model.Attachment, error) {
	path := idPath("/tickets", ticketID) + "/attachments"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("transport: upload %s: %w", name, err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return model.Attachment{}, fmt.Errorf("transport: upload %s: read content: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return model.Attachment{}, fmt.Errorf("transport: upload %s: %w", name, err)
	}

	r := &request{
		method:      http.MethodPost,
		path:        path,
		payload:     buf.Bytes(),
		contentType: mw.FormDataContentType(),
	}
	b, err := c.send(ctx, r)
	if err != nil {
		return model.Attachment{}, err
	}
	return checked(c, http.MethodPost, path, model.ParseAttachment(b))
}

// Login exchanges credentials for a token. It never triggers a refresh.
func (c *Client) Login(ctx context.Context, creds model.Credentials) (model.LoginResponse, error) {
	r, err := jsonRequest(http.MethodPost, "/auth/login", nil, creds)
	if err != nil {
		return model.LoginResponse{}, err
	}
	r.noAuth, r.noRetry = true, true
	b, err := c.send(ctx, r)
	if err != nil {
		return model.LoginResponse{}, err
	}
	return checked(c, r.method, r.path, model.ParseLoginResponse(b))
}

// RefreshToken asks for a new token using the current one. A 401 here is
// returned as is; the caller decides whether to log out.
func (c *Client) RefreshToken(ctx context.Context) (model.TokenResponse, error) {
	r, _ := jsonRequest(http.MethodGet, "/auth/refresh", nil, nil)
	r.noRetry = true
	b, err := c.send(ctx, r)
	if err != nil {
		return model.TokenResponse{}, err
	}
	return checked(c, r.method, r.path, model.ParseTokenResponse(b))
}
