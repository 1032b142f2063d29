package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/deskquery/model"
)

const ticketBody = `{
	"id": "t-1", "title": "Printer down", "description": "Second floor printer shows E13",
	"clientId": "c-1", "priority": "high", "status": "open", "category": "technical",
	"createdAt": "2024-03-01T10:00:00Z", "updatedAt": "2024-03-01T11:00:00Z",
	"tags": [], "attachments": []
}`

const clientBody = `{
	"id": "c-1", "name": "Acme Corp", "email": "ops@acme.test", "company": "Acme",
	"status": "active", "createdAt": "2024-03-01T10:00:00Z", "updatedAt": "2024-03-01T10:00:00Z",
	"tags": [], "billingInfo": {"address": "1 Main St", "taxId": "X-1", "paymentMethod": "paypal"}
}`

type fakeTokens struct {
	mu         sync.Mutex
	token      string
	next       string
	refreshErr error
	refreshes  int
	logouts    []error
}

func (f *fakeTokens) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeTokens) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.token = f.next
	return nil
}

func (f *fakeTokens) ForceLogout(cause error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts = append(f.logouts, cause)
	f.token = ""
}

func newClient(t *testing.T, h http.Handler, tokens TokenSource) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL + "/api/", HTTPClient: srv.Client(), Tokens: tokens})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func TestNewRejectsRelativeBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "/api"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
}

func TestListClientsSendsFiltersAndHeaders(t *testing.T) {
	var got *http.Request
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/clients", func(w http.ResponseWriter, r *http.Request) {
		got = r
		writeJSON(w, http.StatusOK, "["+clientBody+"]")
	})
	c := newClient(t, mux, &fakeTokens{token: "tok-1"})

	clients, err := c.ListClients(context.Background(), model.Filters{"status": "active", "empty": ""})
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "Acme Corp", clients[0].Name)

	require.NotNil(t, got)
	assert.Equal(t, "status=active", got.URL.RawQuery)
	assert.Equal(t, "Bearer tok-1", got.Header.Get("Authorization"))
	_, err = uuid.Parse(got.Header.Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestSchemaFailureIsValidationError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tickets/t-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, strings.Replace(ticketBody, `"Printer down"`, `"Hi"`, 1))
	})
	c := newClient(t, mux, nil)

	_, err := c.GetTicket(context.Background(), "t-1")
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	_, ok := ve.Field("title")
	assert.True(t, ok, "issues: %v", ve.Issues)
	assert.Equal(t, errors.CodeSchemaFailed, errors.GetCode(err))
}

func TestCreateTicketPostsJSON(t *testing.T) {
	var sent map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tickets", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		writeJSON(w, http.StatusCreated, ticketBody)
	})
	c := newClient(t, mux, nil)

	in := model.TicketInput{
		Title: "Printer down", Description: "Second floor printer shows E13", ClientID: "c-1",
		Priority: model.PriorityHigh, Status: model.TicketOpen, Category: model.CategoryTechnical,
	}
	tk, err := c.CreateTicket(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "t-1", tk.ID)
	assert.Equal(t, "c-1", sent["clientId"])
	assert.NotContains(t, sent, "dueDate")
}

func TestUpdateAndDeleteUseEscapedPath(t *testing.T) {
	var paths []string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.EscapedPath())
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, clientBody)
	})
	c := newClient(t, mux, nil)

	name := "Acme Corp"
	_, err := c.UpdateClient(context.Background(), "c/1", model.ClientPatch{Name: &name})
	require.NoError(t, err)
	require.NoError(t, c.DeleteClient(context.Background(), "c-1"))
	assert.Equal(t, []string{"PATCH /api/clients/c%2F1", "DELETE /api/clients/c-1"}, paths)
}

func TestUnauthorizedRefreshesAndRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tickets/t-1/comments", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			writeJSON(w, http.StatusUnauthorized, `{"message": "token expired"}`)
			return
		}
		writeJSON(w, http.StatusOK, `[]`)
	})
	tokens := &fakeTokens{token: "stale", next: "fresh"}
	c := newClient(t, mux, tokens)

	comments, err := c.ListComments(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Empty(t, comments)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, 1, tokens.refreshes)
	assert.Empty(t, tokens.logouts)
}

func TestUnauthorizedAfterRetryLogsOut(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/clients/c-1", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnauthorized, `{"error": "revoked"}`)
	})
	tokens := &fakeTokens{token: "a", next: "b"}
	c := newClient(t, mux, tokens)

	_, err := c.GetClient(context.Background(), "c-1")
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.True(t, ae.Retried)
	assert.Equal(t, "revoked", ae.Message())
	assert.EqualValues(t, 2, calls.Load())
	assert.Len(t, tokens.logouts, 1)
	assert.Equal(t, errors.CodeUnauthorized, errors.GetCode(err))
}

func TestRefreshFailureLogsOutWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tickets", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnauthorized, `{}`)
	})
	refreshErr := errors.New(errors.CodeUnauthorized, "refresh rejected")
	tokens := &fakeTokens{token: "a", refreshErr: refreshErr}
	c := newClient(t, mux, tokens)

	_, err := c.ListTickets(context.Background(), nil)
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.ErrorIs(t, err, refreshErr)
	assert.False(t, ae.Retried)
	assert.EqualValues(t, 1, calls.Load())
	require.Len(t, tokens.logouts, 1)
}

func TestLoginNeverRefreshes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusUnauthorized, `{"message": "bad credentials"}`)
	})
	tokens := &fakeTokens{token: "old"}
	c := newClient(t, mux, tokens)

	_, err := c.Login(context.Background(), model.Credentials{Email: "a@b.io", Password: "password1"})
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 0, tokens.refreshes)
	assert.Empty(t, tokens.logouts)
}

func TestLoginAndRefreshToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"token": "t1", "user": {"id": "u-1", "email": "a@b.io", "name": "Ann", "role": "user", "permissions": []}}`)
	})
	mux.HandleFunc("GET /api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t1", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, `{"token": "t2"}`)
	})
	tokens := &fakeTokens{}
	c := newClient(t, mux, tokens)

	lr, err := c.Login(context.Background(), model.Credentials{Email: "a@b.io", Password: "password1"})
	require.NoError(t, err)
	assert.Equal(t, "Ann", lr.User.Name)

	tokens.token = lr.Token
	tr, err := c.RefreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t2", tr.Token)
}

func TestConflictMessageVerbatim(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/clients", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, `{"message": "Client with email ops@acme.test already exists"}`)
	})
	c := newClient(t, mux, nil)

	_, err := c.CreateClient(context.Background(), model.ClientInput{Name: "Acme"})
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "Client with email ops@acme.test already exists", ce.Msg)
	assert.Equal(t, errors.CodeConflict, errors.GetCode(err))
}

func TestLongConflictMessageKeepsValidUTF8(t *testing.T) {
	body := strings.Repeat("x", 511) + "été déjà enregistré"
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/clients", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, body)
	})
	c := newClient(t, mux, nil)

	_, err := c.CreateClient(context.Background(), model.ClientInput{Name: "Acme"})
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.True(t, utf8.ValidString(ce.Msg), "message split a rune: %q", ce.Msg[len(ce.Msg)-8:])
	assert.Equal(t, strings.Repeat("x", 511)+"...", ce.Msg)
}

func TestStatusCodesMapToPlatformCodes(t *testing.T) {
	cases := map[int]errors.ErrorCode{
		http.StatusNotFound:            errors.CodeNotFound,
		http.StatusForbidden:           errors.CodeForbidden,
		http.StatusBadRequest:          errors.CodeInvalidInput,
		http.StatusUnprocessableEntity: errors.CodeInvalidInput,
		http.StatusTooManyRequests:     errors.CodeRateLimit,
		http.StatusBadGateway:          errors.CodeUnavailable,
		http.StatusTeapot:              errors.CodeUnknown,
	}
	for status, code := range cases {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /api/clients/x", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, status, `{"message": "nope"}`)
		})
		c := newClient(t, mux, nil)
		_, err := c.GetClient(context.Background(), "x")
		require.Error(t, err, "status %d", status)
		assert.Equal(t, code, errors.GetCode(err), "status %d", status)
		assert.Contains(t, err.Error(), "nope")
	}
}

func TestNetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(Options{BaseURL: base})
	require.NoError(t, err)
	_, err = c.ListTickets(context.Background(), nil)
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	assert.True(t, errors.IsRetryable(err))
}

func TestContextCancelIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tickets", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	c := newClient(t, mux, nil)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.ListTickets(ctx, nil)
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUploadAttachmentMultipart(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tickets/t-1/attachments", func(w http.ResponseWriter, r *http.Request) {
		// first attempt is rejected so the replayed body is exercised
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusUnauthorized, `{}`)
			return
		}
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		b, _ := io.ReadAll(f)
		assert.Equal(t, "screenshot.png", hdr.Filename)
		assert.Equal(t, "PNGDATA", string(b))
		writeJSON(w, http.StatusCreated, `{"id": "a-1", "name": "screenshot.png", "url": "/files/a-1", "type": "image/png", "size": 7}`)
	})
	c := newClient(t, mux, &fakeTokens{token: "a", next: "b"})

	att, err := c.UploadAttachment(context.Background(), "t-1", "screenshot.png", strings.NewReader("PNGDATA"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), att.Size)
	assert.EqualValues(t, 2, calls.Load())
}

func TestResponseSizeLimit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/clients", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, "["+strings.Repeat(clientBody+",", 10)+clientBody+"]")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL + "/api", MaxBody: 256})
	require.NoError(t, err)

	_, err = c.ListClients(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 256 bytes")
}

func TestDoDecodesIntoOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"open": 3}`)
	})
	c := newClient(t, mux, nil)

	var out struct {
		Open int `json:"open"`
	}
	require.NoError(t, c.Do(context.Background(), http.MethodGet, "/stats", nil, nil, &out))
	assert.Equal(t, 3, out.Open)
}
