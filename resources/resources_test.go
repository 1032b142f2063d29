package resources

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/deskquery"
	"github.com/unkn0wn-root/deskquery/model"
)

type fakeAPI struct {
	mu       sync.Mutex
	calls    map[string]int
	filters  []model.Filters
	gate     chan struct{} // when set, ListClients waits on it
	tickets  []model.Ticket
	comments []model.TicketComment
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		calls:   map[string]int{},
		tickets: []model.Ticket{{ID: "t-1", Title: "Printer down", ClientID: "c-1", Status: model.TicketOpen}},
	}
}

func (f *fakeAPI) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) ListClients(ctx context.Context, filters model.Filters) ([]model.Client, error) {
	f.mu.Lock()
	f.calls["ListClients"]++
	f.filters = append(f.filters, filters)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return []model.Client{{ID: "c-1", Name: "Acme", Status: model.ClientActive}}, nil
}

func (f *fakeAPI) GetClient(_ context.Context, id string) (model.Client, error) {
	f.hit("GetClient")
	return model.Client{ID: id, Name: "Acme"}, nil
}

func (f *fakeAPI) CreateClient(_ context.Context, in model.ClientInput) (model.Client, error) {
	f.hit("CreateClient")
	return model.Client{ID: "c-new", Name: in.Name, Email: in.Email}, nil
}

func (f *fakeAPI) UpdateClient(_ context.Context, id string, p model.ClientPatch) (model.Client, error) {
	f.hit("UpdateClient")
	c := model.Client{ID: id, Name: "Acme"}
	if p.Name != nil {
		c.Name = *p.Name
	}
	return c, nil
}

func (f *fakeAPI) DeleteClient(context.Context, string) error {
	f.hit("DeleteClient")
	return nil
}

func (f *fakeAPI) ListTickets(context.Context, model.Filters) ([]model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListTickets"]++
	return append([]model.Ticket(nil), f.tickets...), nil
}

func (f *fakeAPI) GetTicket(_ context.Context, id string) (model.Ticket, error) {
	f.hit("GetTicket")
	return model.Ticket{ID: id, Title: "Printer down"}, nil
}

func (f *fakeAPI) CreateTicket(_ context.Context, in model.TicketInput) (model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CreateTicket"]++
	t := model.Ticket{ID: "t-new", Title: in.Title, ClientID: in.ClientID, Status: in.Status}
	f.tickets = append(f.tickets, t)
	return t, nil
}

func (f *fakeAPI) UpdateTicket(_ context.Context, id string, p model.TicketPatch) (model.Ticket, error) {
	f.hit("UpdateTicket")
	t := model.Ticket{ID: id, Title: "Printer down"}
	if p.Title != nil {
		t.Title = *p.Title
	}
	return t, nil
}

func (f *fakeAPI) ListComments(context.Context, string) ([]model.TicketComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListComments"]++
	return append([]model.TicketComment(nil), f.comments...), nil
}

func (f *fakeAPI) AddComment(_ context.Context, ticketID string, in model.CommentInput) (model.TicketComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["AddComment"]++
	c := model.TicketComment{ID: "m-1", TicketID: ticketID, UserID: in.UserID, Content: in.Content}
	f.comments = append(f.comments, c)
	return c, nil
}

func (f *fakeAPI) UploadAttachment(_ context.Context, _, name string, content io.Reader) (model.Attachment, error) {
	f.hit("UploadAttachment")
	b, _ := io.ReadAll(content)
	return model.Attachment{ID: "a-1", Name: name, Size: int64(len(b))}, nil
}

func setup(t *testing.T) (*fakeAPI, *Resources, deskquery.Cache) {
	t.Helper()
	api := newFakeAPI()
	res, err := New(api, Options{})
	require.NoError(t, err)
	c, err := deskquery.New(deskquery.Options{Namespace: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	return api, res, c
}

func waitFor[T any](t *testing.T, o *deskquery.Observer[T], ok func(deskquery.Result[T]) bool) deskquery.Result[T] {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r := o.Result()
		if ok(r) {
			return r
		}
		select {
		case <-o.Changes():
		case <-deadline:
			t.Fatalf("timed out; last result %+v", r)
		}
	}
}

func settled[T any](r deskquery.Result[T]) bool { return r.HasData && !r.Fetching }

func validTicket() model.TicketInput {
	return model.TicketInput{
		Title: "VPN drops hourly", Description: "Users on floor 3 lose VPN every hour",
		ClientID: "c-1", Priority: model.PriorityHigh, Status: model.TicketOpen, Category: model.CategoryTechnical,
	}
}

func TestFilterKeysNormalize(t *testing.T) {
	assert.Equal(t, ClientsKey(nil), ClientsKey(model.Filters{}))
	assert.Equal(t, ClientsKey(nil), ClientsKey(model.Filters{"status": ""}))
	assert.NotEqual(t, TicketsKey(nil), TicketsKey(model.Filters{"status": "open"}))
	assert.Equal(t, `["ticket-comments","t-1"]`, CommentsKey("t-1").String())
}

func TestClientsSubscribersShareOneRequest(t *testing.T) {
	api, res, c := setup(t)
	api.gate = make(chan struct{})

	q := res.Clients(model.Filters{"status": "active"})
	a, err := deskquery.Subscribe(c, q)
	require.NoError(t, err)
	defer a.Unsubscribe()
	b, err := deskquery.Subscribe(c, res.Clients(model.Filters{"status": "active"}))
	require.NoError(t, err)
	defer b.Unsubscribe()

	assert.True(t, a.Result().IsPending())
	close(api.gate)

	r := waitFor(t, b, settled[[]model.Client])
	assert.Equal(t, deskquery.StatusSuccess, r.Status)
	require.Len(t, r.Data, 1)
	assert.Equal(t, 1, api.count("ListClients"))
	assert.Equal(t, []model.Filters{{"status": "active"}}, api.filters)
}

func TestCreateTicketInvalidatesEveryTicketList(t *testing.T) {
	api, res, c := setup(t)
	ctx := context.Background()

	all, err := deskquery.Subscribe(c, res.Tickets(nil))
	require.NoError(t, err)
	defer all.Unsubscribe()
	open, err := deskquery.Subscribe(c, res.Tickets(model.Filters{"status": "open"}))
	require.NoError(t, err)
	defer open.Unsubscribe()
	waitFor(t, all, settled[[]model.Ticket])
	waitFor(t, open, settled[[]model.Ticket])
	require.Equal(t, 2, api.count("ListTickets"))

	tk, err := deskquery.Mutate(ctx, c, res.CreateTicket(), validTicket())
	require.NoError(t, err)
	assert.Equal(t, "t-new", tk.ID)

	r := waitFor(t, all, func(r deskquery.Result[[]model.Ticket]) bool { return len(r.Data) == 2 && !r.Fetching })
	assert.False(t, r.Stale)
	waitFor(t, open, func(r deskquery.Result[[]model.Ticket]) bool { return len(r.Data) == 2 && !r.Fetching })
	assert.Equal(t, 4, api.count("ListTickets"))

	got, ok := deskquery.GetQueryData[model.Ticket](c, TicketKey("t-new"))
	require.True(t, ok)
	assert.Equal(t, "VPN drops hourly", got.Title)
}

func TestInvalidInputTouchesNothing(t *testing.T) {
	api, res, c := setup(t)
	ctx := context.Background()
	_, err := deskquery.Fetch(ctx, c, res.Tickets(nil))
	require.NoError(t, err)

	in := validTicket()
	in.Title = "Hi"
	_, err = deskquery.Mutate(ctx, c, res.CreateTicket(), in)
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 0, api.count("CreateTicket"))

	snap, ok := c.Peek(TicketsKey(nil))
	require.True(t, ok)
	assert.False(t, snap.Stale)
	assert.Equal(t, deskquery.StatusSuccess, snap.Status)
}

func TestUpdateTicketWritesThrough(t *testing.T) {
	api, res, c := setup(t)
	ctx := context.Background()
	_, err := deskquery.Fetch(ctx, c, res.Ticket("t-1"))
	require.NoError(t, err)

	title := "Printer still down"
	_, err = deskquery.Mutate(ctx, c, res.UpdateTicket(), TicketUpdate{ID: "t-1", Patch: model.TicketPatch{Title: &title}})
	require.NoError(t, err)

	got, ok := deskquery.GetQueryData[model.Ticket](c, TicketKey("t-1"))
	require.True(t, ok)
	assert.Equal(t, title, got.Title)
	assert.Equal(t, 1, api.count("GetTicket"))
}

func TestUpdateClientRejectsEmptyName(t *testing.T) {
	api, res, c := setup(t)
	empty := ""
	_, err := deskquery.Mutate(context.Background(), c, res.UpdateClient(), ClientUpdate{ID: "c-1", Patch: model.ClientPatch{Name: &empty}})
	require.Error(t, err)
	assert.Equal(t, 0, api.count("UpdateClient"))
}

func TestCreateAndDeleteClient(t *testing.T) {
	api, res, c := setup(t)
	ctx := context.Background()

	list, err := deskquery.Subscribe(c, res.Clients(nil))
	require.NoError(t, err)
	defer list.Unsubscribe()
	waitFor(t, list, settled[[]model.Client])

	in := model.ClientInput{
		Name: "Globex", Email: "it@globex.test", Company: "Globex", Status: model.ClientActive,
		BillingInfo: model.BillingInfo{Address: "2 Side St", TaxID: "G-2", PaymentMethod: model.PayBankTransfer},
	}
	created, err := deskquery.Mutate(ctx, c, res.CreateClient(), in)
	require.NoError(t, err)
	_, ok := c.Peek(ClientKey(created.ID))
	assert.True(t, ok)
	require.Eventually(t, func() bool { return api.count("ListClients") == 2 }, 2*time.Second, time.Millisecond)

	_, err = deskquery.Mutate(ctx, c, res.DeleteClient(), created.ID)
	require.NoError(t, err)
	_, ok = c.Peek(ClientKey(created.ID))
	assert.False(t, ok)
	require.Eventually(t, func() bool { return api.count("ListClients") == 3 }, 2*time.Second, time.Millisecond)

	_, err = deskquery.Mutate(ctx, c, res.DeleteClient(), "")
	require.Error(t, err)
	assert.Equal(t, 1, api.count("DeleteClient"))
}

func TestAddCommentRefetchesThread(t *testing.T) {
	api, res, c := setup(t)
	thread, err := deskquery.Subscribe(c, res.Comments("t-1"))
	require.NoError(t, err)
	defer thread.Unsubscribe()
	waitFor(t, thread, settled[[]model.TicketComment])

	run := deskquery.MutateAsync(context.Background(), c, res.AddComment(),
		NewComment{TicketID: "t-1", Comment: model.CommentInput{UserID: "u-1", Content: "Rebooted the printer"}})
	_, err = run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, deskquery.MutationSuccess, run.Status())

	r := waitFor(t, thread, func(r deskquery.Result[[]model.TicketComment]) bool { return len(r.Data) == 1 })
	assert.Equal(t, "Rebooted the printer", r.Data[0].Content)
	assert.Equal(t, 2, api.count("ListComments"))
}

func TestUploadAttachmentInvalidatesTicket(t *testing.T) {
	api, res, c := setup(t)
	ctx := context.Background()
	_, err := deskquery.Fetch(ctx, c, res.Ticket("t-1"))
	require.NoError(t, err)

	att, err := deskquery.Mutate(ctx, c, res.UploadAttachment(), Upload{TicketID: "t-1", Name: "log.txt", Content: strings.NewReader("boot failed")})
	require.NoError(t, err)
	assert.Equal(t, int64(11), att.Size)

	snap, ok := c.Peek(TicketKey("t-1"))
	require.True(t, ok)
	assert.True(t, snap.Stale)

	_, err = deskquery.Mutate(ctx, c, res.UploadAttachment(), Upload{TicketID: "t-1", Content: strings.NewReader("x")})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "name", ve.Issues[0].Path)
	assert.Equal(t, 1, api.count("UploadAttachment"))
}

func TestPersistCodecs(t *testing.T) {
	res, err := New(newFakeAPI(), Options{Persist: true})
	require.NoError(t, err)

	spec := res.Tickets(nil).Spec()
	require.NotNil(t, spec.Encode)
	tickets := []model.Ticket{{ID: "t-1", Title: "Printer down", Tags: []string{"hw"}}}
	b, err := spec.Encode(tickets)
	require.NoError(t, err)
	back, err := spec.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, tickets[0].Title, back.([]model.Ticket)[0].Title)

	plain, err := New(newFakeAPI(), Options{})
	require.NoError(t, err)
	assert.Nil(t, plain.Client("c-1").Spec().Encode)
}
