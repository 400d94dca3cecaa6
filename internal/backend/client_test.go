package backend_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"caseflow/internal/api"
	"caseflow/internal/auth"
	"caseflow/internal/backend"
	"caseflow/internal/model"
	"caseflow/internal/pubsub"
	"caseflow/internal/schema"
	"caseflow/internal/service"
	"caseflow/internal/storage"
	"caseflow/internal/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// startBackend runs the reference backend on an in-memory repository
func startBackend(t *testing.T) *httptest.Server {
	t.Helper()
	log := zap.NewNop()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	repo := service.NewMemoryRepository()
	repo.SetDepartments(
		model.Department{ID: 1, Name: "Sales", RequiredDocuments: []string{"Signed order"}},
		model.Department{ID: 2, Name: "Finance"},
	)
	hub := ws.NewHub(log)
	go hub.Run(ctx)
	bus := pubsub.New(nil, log)
	bus.SetWSHub(hub)

	files, err := storage.NewLocalStorage(t.TempDir(), "http://files.test")
	require.NoError(t, err)
	svc := service.NewCaseService(repo, schema.NewCompilerWithCache(64), bus, log)
	svc.SetStorage(files, storage.DefaultPolicy())

	srv := httptest.NewServer(api.Routes(api.Dependencies{
		Cases:     svc,
		Reference: repo,
		Files:     files,
		Hub:       hub,
		Auth:      auth.NewJWTConfig("secret", true),
		Log:       log,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func waitStatus(t *testing.T, s backend.Stream) backend.ChannelStatus {
	t.Helper()
	select {
	case st := <-s.Status():
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("no status reported")
		return ""
	}
}

func TestClient_RejectionsComeBackTyped(t *testing.T) {
	srv := startBackend(t)
	client := backend.NewClient(srv.URL, backend.WithActorID("u1"))
	ctx := context.Background()

	c, err := client.CreateCase(ctx, backend.CreateCaseInput{Title: "Order", Flow: []model.DepartmentID{1, 2}})
	require.NoError(t, err)

	_, err = client.AdvanceCase(ctx, c.ID)
	var rej *backend.Error
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, backend.CodeRequirements, rej.Code)
	assert.Equal(t, "requirements unmet: Sales: Signed order", rej.Error())

	doc, err := client.Upload(ctx, c.ID, backend.Upload{
		DepartmentID: 1,
		Requirement:  "Signed order",
		Name:         "order.pdf",
		MIME:         "application/pdf",
		Body:         strings.NewReader("%PDF-1.4"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8), doc.Size)
	assert.Equal(t, model.DepartmentID(1), doc.DepartmentID)

	advanced, err := client.AdvanceCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, advanced.CurrentIndex)

	got, err := client.GetCase(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Documents, 1)

	require.NoError(t, client.Delete(ctx, doc.ID))
	require.NoError(t, client.DeleteCase(ctx, c.ID, "duplicate"))
	trash, days, err := client.ListTrash(ctx)
	require.NoError(t, err)
	assert.Len(t, trash, 1)
	assert.Equal(t, 15, days)

	_, err = client.GetCase(ctx, c.ID)
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, backend.CodeNotFound, rej.Code)
}

func TestClient_ServerErrorsAreNotRejections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := backend.NewClient(srv.URL).ListCases(context.Background())
	require.Error(t, err)
	var rej *backend.Error
	assert.False(t, errors.As(err, &rej))
	assert.Contains(t, err.Error(), "502")
}

func TestClient_SubscribeDeliversEvents(t *testing.T) {
	srv := startBackend(t)
	client := backend.NewClient(srv.URL, backend.WithActorID("u1"))
	ctx := context.Background()

	stream, err := client.Subscribe(ctx, backend.Topic{Tables: []string{"cases", "history"}})
	require.NoError(t, err)
	defer stream.Close()
	require.Equal(t, backend.StatusSubscribed, waitStatus(t, stream))

	c, err := client.CreateCase(ctx, backend.CreateCaseInput{Title: "Pushed", Flow: []model.DepartmentID{2}})
	require.NoError(t, err)

	select {
	case ev := <-stream.Events():
		assert.Equal(t, "cases", ev.Table)
		assert.Equal(t, backend.EventInsert, ev.Type)
		assert.Equal(t, c.ID, ev.RowID())
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestClient_SubscribeToForeignInboxFails(t *testing.T) {
	srv := startBackend(t)
	client := backend.NewClient(srv.URL, backend.WithActorID("u1"))

	stream, err := client.Subscribe(context.Background(), backend.Topic{Tables: []string{"notifications"}, Filter: "u2"})
	require.NoError(t, err)
	defer stream.Close()
	assert.Equal(t, backend.StatusChannelError, waitStatus(t, stream))
}

func TestClient_SubscribeUnauthenticated(t *testing.T) {
	srv := startBackend(t)
	_, err := backend.NewClient(srv.URL).Subscribe(context.Background(), backend.Topic{Tables: []string{"cases"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
