package crm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/goliatone/go-crm/core"
	"github.com/goliatone/go-crm/providers/hubspot"
	crmquery "github.com/goliatone/go-crm/query"
	"github.com/goliatone/go-crm/transport"
)

type hubspotFixture struct {
	mu            sync.Mutex
	tokenRequests []url.Values
	crmAuth       []string
	crmAfter      []string
}

func (f *hubspotFixture) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		f.mu.Lock()
		f.tokenRequests = append(f.tokenRequests, r.PostForm)
		n := len(f.tokenRequests)
		f.mu.Unlock()
		if r.PostForm.Get("code") == "bad_code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":"BAD_AUTH_CODE","message":"missing or unknown auth code"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":"at_%d","refresh_token":"rt_%d","expires_in":1800,"token_type":"bearer"}`, n, n)
	})
	mux.HandleFunc("/crm/v3/objects/notes", func(w http.ResponseWriter, r *http.Request) {
		after := r.URL.Query().Get("after")
		f.mu.Lock()
		f.crmAuth = append(f.crmAuth, r.Header.Get("Authorization"))
		f.crmAfter = append(f.crmAfter, after)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if after == "" {
			_, _ = w.Write([]byte(`{"results":[{"id":"n1"},{"id":"n2"}],"paging":{"next":{"after":"c1"}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":"n3"}]}`))
	})
	return httptest.NewServer(mux)
}

func newTestHubSpot(t *testing.T, serverURL string) *HubSpot {
	t.Helper()
	hub, err := NewHubSpot(DefaultConfig(), hubspot.Config{
		ClientID:     "client_1",
		ClientSecret: "secret_1",
		TokenURL:     serverURL + "/oauth/v1/token",
		APIBaseURL:   serverURL,
	})
	if err != nil {
		t.Fatalf("new hubspot: %v", err)
	}
	return hub
}

func TestHubSpot_AuthorizeThenFetchNotes(t *testing.T) {
	fixture := &hubspotFixture{}
	server := fixture.server(t)
	defer server.Close()
	hub := newTestHubSpot(t, server.URL)
	ctx := context.Background()

	auth, err := hub.Service().AuthorizationURL(ctx, AuthorizeRequest{Identity: "portal_1"})
	if err != nil {
		t.Fatalf("authorization url: %v", err)
	}
	parsed, err := url.Parse(auth.URL)
	if err != nil {
		t.Fatalf("parse authorization url: %v", err)
	}
	if !strings.HasPrefix(auth.URL, hubspot.AuthURL) {
		t.Fatalf("expected hubspot consent url, got %q", auth.URL)
	}
	if parsed.Query().Get("state") != auth.State || parsed.Query().Get("client_id") != "client_1" {
		t.Fatalf("unexpected consent query: %v", parsed.Query())
	}
	if parsed.Query().Get("scope") != hubspot.DefaultScope {
		t.Fatalf("expected default scope, got %q", parsed.Query().Get("scope"))
	}

	result, err := hub.Service().CompleteAuthorization(ctx, CompleteAuthorizationRequest{State: auth.State, Code: "code_1"})
	if err != nil {
		t.Fatalf("complete authorization: %v", err)
	}
	if result.Identity != "portal_1" || !result.RefreshTokenIssued {
		t.Fatalf("unexpected completion: %#v", result)
	}

	collections, err := hub.Collections("portal_1")
	if err != nil {
		t.Fatalf("collections: %v", err)
	}
	notes, err := collections.AllNotes(ctx)
	if err != nil {
		t.Fatalf("all notes: %v", err)
	}
	if len(notes) != 3 || notes[2]["id"] != "n3" {
		t.Fatalf("unexpected notes: %#v", notes)
	}

	fixture.mu.Lock()
	defer fixture.mu.Unlock()
	if len(fixture.tokenRequests) != 1 {
		t.Fatalf("expected one token request, got %d", len(fixture.tokenRequests))
	}
	form := fixture.tokenRequests[0]
	if form.Get("grant_type") != "authorization_code" || form.Get("client_secret") != "secret_1" {
		t.Fatalf("unexpected token form: %v", form)
	}
	for _, header := range fixture.crmAuth {
		if header != "Bearer at_1" {
			t.Fatalf("expected cached access token on every page, got %q", header)
		}
	}
	if len(fixture.crmAfter) != 2 || fixture.crmAfter[0] != "" || fixture.crmAfter[1] != "c1" {
		t.Fatalf("unexpected cursors: %#v", fixture.crmAfter)
	}
}

func TestHubSpot_UnauthorizedIdentityFailsWithoutHTTP(t *testing.T) {
	fixture := &hubspotFixture{}
	server := fixture.server(t)
	defer server.Close()
	hub := newTestHubSpot(t, server.URL)

	collections, err := hub.Collections("portal_2")
	if err != nil {
		t.Fatalf("collections: %v", err)
	}
	_, err = collections.AllNotes(context.Background())
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}
	fixture.mu.Lock()
	defer fixture.mu.Unlock()
	if len(fixture.tokenRequests) != 0 || len(fixture.crmAuth) != 0 {
		t.Fatalf("expected no upstream traffic, got %d token and %d crm requests", len(fixture.tokenRequests), len(fixture.crmAuth))
	}
}

func TestHubSpot_RejectedCodeKeepsPayload(t *testing.T) {
	fixture := &hubspotFixture{}
	server := fixture.server(t)
	defer server.Close()
	hub := newTestHubSpot(t, server.URL)

	_, err := hub.Service().CompleteAuthorization(context.Background(), CompleteAuthorizationRequest{
		Identity: "portal_1",
		Code:     "bad_code",
	})
	if !errors.Is(err, ErrExchangeFailed) {
		t.Fatalf("expected exchange failure, got %v", err)
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Details == nil {
		t.Fatalf("expected typed auth error with details, got %T", err)
	}
	if authErr.Details.StatusCode != http.StatusBadRequest || !strings.Contains(string(authErr.Details.Payload), "BAD_AUTH_CODE") {
		t.Fatalf("unexpected exchange details: %#v", authErr.Details)
	}
	authorized, err := hub.Service().IsAuthorized(context.Background(), "portal_1")
	if err != nil || authorized {
		t.Fatalf("expected no refresh token after rejected code, got %v %v", authorized, err)
	}
}

func TestHubSpot_FacadeFetchCollectionUsesIdentityClient(t *testing.T) {
	fixture := &hubspotFixture{}
	server := fixture.server(t)
	defer server.Close()
	hub := newTestHubSpot(t, server.URL)
	ctx := context.Background()

	if _, err := hub.Service().CompleteAuthorization(ctx, CompleteAuthorizationRequest{Identity: "portal_1", Code: "code_1"}); err != nil {
		t.Fatalf("complete authorization: %v", err)
	}
	facade, err := hub.Facade("portal_1")
	if err != nil {
		t.Fatalf("facade: %v", err)
	}
	items, err := facade.Queries().FetchCollection.Query(ctx, crmquery.FetchCollectionMessage{
		Request: PagedRequest{Resource: hubspot.ResourceNotes, PageSize: 100},
	})
	if err != nil {
		t.Fatalf("fetch collection: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 notes, got %d", len(items))
	}
}

type countingDoer struct {
	mu    sync.Mutex
	paths []string
	next  *http.Client
}

func (d *countingDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.paths = append(d.paths, req.URL.Path)
	d.mu.Unlock()
	return d.next.Do(req)
}

func TestHubSpot_WithHTTPClientCarriesTokenAndCRMTraffic(t *testing.T) {
	fixture := &hubspotFixture{}
	server := fixture.server(t)
	defer server.Close()
	doer := &countingDoer{next: server.Client()}

	hub, err := NewHubSpot(DefaultConfig(), hubspot.Config{
		ClientID:     "client_1",
		ClientSecret: "secret_1",
		TokenURL:     server.URL + "/oauth/v1/token",
		APIBaseURL:   server.URL,
	}, WithHTTPClient(doer))
	if err != nil {
		t.Fatalf("new hubspot: %v", err)
	}
	ctx := context.Background()
	if _, err := hub.Service().CompleteAuthorization(ctx, CompleteAuthorizationRequest{Identity: "portal_1", Code: "code_1"}); err != nil {
		t.Fatalf("complete authorization: %v", err)
	}
	collections, err := hub.Collections("portal_1")
	if err != nil {
		t.Fatalf("collections: %v", err)
	}
	if _, err := collections.AllNotes(ctx); err != nil {
		t.Fatalf("all notes: %v", err)
	}

	doer.mu.Lock()
	defer doer.mu.Unlock()
	want := []string{"/oauth/v1/token", "/crm/v3/objects/notes", "/crm/v3/objects/notes"}
	if strings.Join(doer.paths, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v through the shared client, got %v", want, doer.paths)
	}
}

func TestNewHubSpot_RegistryWithoutFormAdapterFails(t *testing.T) {
	registry, err := transport.NewRegistry(transport.NewRESTAdapter(nil), transport.NewJSONAdapter(nil))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	_, err = NewHubSpot(DefaultConfig(), hubspot.Config{ClientID: "c", ClientSecret: "s"}, WithTransportRegistry(registry))
	if err == nil {
		t.Fatalf("expected missing form adapter to be rejected")
	}
}

func TestNewHubSpot_RequiresCredentials(t *testing.T) {
	if _, err := NewHubSpot(DefaultConfig(), hubspot.Config{ClientID: "client_1"}); err == nil {
		t.Fatalf("expected missing client secret to be rejected")
	}
	var hub *HubSpot
	if _, err := hub.Client("portal_1"); err == nil {
		t.Fatalf("expected nil hubspot to fail")
	}
	hub, err := NewHubSpot(DefaultConfig(), hubspot.Config{ClientID: "c", ClientSecret: "s"})
	if err != nil {
		t.Fatalf("new hubspot: %v", err)
	}
	if _, err := hub.Client(""); err == nil {
		t.Fatalf("expected blank identity to be rejected")
	}
}

var _ core.AccessTokenProvider = (*Service)(nil)
