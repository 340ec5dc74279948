package client_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stayward/stayward/internal/auditledger"
	"github.com/stayward/stayward/internal/governor"
	"github.com/stayward/stayward/internal/handler"
	"github.com/stayward/stayward/internal/identity"
	"github.com/stayward/stayward/internal/lockpolicy"
	"github.com/stayward/stayward/internal/petitions"
	"github.com/stayward/stayward/internal/stays"
	"github.com/stayward/stayward/pkg/client"
	"go.uber.org/zap"
)

// ── Stub server ─────────────────────────────────────────────────────────

func TestAPIError_Decoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "Stay s1 is locked"})
	}))
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithBearerToken("tok"))
	_, err := c.GetStay(context.Background(), "s1")
	if !client.IsLocked(err) {
		t.Fatalf("expected locked error, got %v", err)
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Stay s1 is locked" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if client.IsNotFound(err) || client.IsConflict(err) {
		t.Error("status predicates overlap")
	}
}

func TestNew_InvalidURL(t *testing.T) {
	if _, err := client.New("::not a url"); err == nil {
		t.Error("expected error")
	}
}

func TestTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "token")
	if err := client.SaveToken(path, "abc.def.ghi"); err != nil {
		t.Fatal(err)
	}
	tok, err := client.LoadToken(path)
	if err != nil || tok != "abc.def.ghi" {
		t.Fatalf("LoadToken = %q, %v", tok, err)
	}
	if _, err := client.New("http://localhost", client.WithTokenFile(filepath.Join(t.TempDir(), "missing"))); err == nil {
		t.Error("expected error for missing token file")
	}
}

// ── Real server ─────────────────────────────────────────────────────────

type liveServer struct {
	url       string
	admin     *client.Client
	concierge *client.Client
}

func startServer(t *testing.T) *liveServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	tokens := identity.NewTokenIssuer(key, "https://stayward.test", time.Hour)

	ledger := auditledger.New()
	svc := stays.NewService(stays.NewMemoryRepository(), zap.NewNop())
	policy := lockpolicy.New(stays.EntityName, svc)
	wf := petitions.NewWorkflow(petitions.NewMemoryStore(), policy, zap.NewNop())
	gov := governor.New(ledger, zap.NewNop())
	gov.Govern(policy, wf)

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewAuditHandler(ledger, gov, tokens, zap.NewNop()).Register(v1)
	handler.NewPetitionHandler(wf, gov, tokens, zap.NewNop()).Register(v1)
	handler.NewStayHandler(svc, policy, gov, tokens, zap.NewNop()).Register(v1)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	adminTok, _ := tokens.Issue("admin-1", identity.RoleAdmin)
	conciergeTok, _ := tokens.Issue("concierge-1", identity.RoleConcierge)
	return &liveServer{
		url:       srv.URL,
		admin:     client.MustNew(srv.URL, client.WithBearerToken(adminTok)),
		concierge: client.MustNew(srv.URL, client.WithBearerToken(conciergeTok)),
	}
}

func TestClient_LockedStayWorkflow(t *testing.T) {
	ls := startServer(t)
	ctx := context.Background()

	checkIn := time.Now().Add(-36 * time.Hour).UTC()
	stay, err := ls.concierge.CreateStay(ctx, client.NewStay{
		ApartmentID:       "apt-1",
		GuestName:         "Lin",
		ScheduledCheckIn:  checkIn,
		ScheduledCheckOut: checkIn.Add(96 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateStay: %v", err)
	}

	got, err := ls.concierge.GetStay(ctx, stay.ID)
	if err != nil {
		t.Fatalf("GetStay: %v", err)
	}
	if !got.IsLocked || got.LockedAt == nil {
		t.Fatalf("expected stay to be locked on read: %+v", got)
	}

	notes := "late checkout"
	if _, err := ls.concierge.UpdateStay(ctx, stay.ID, client.StayUpdate{Notes: &notes}); !client.IsLocked(err) {
		t.Fatalf("expected locked error, got %v", err)
	}

	p, err := ls.concierge.SubmitPetition(ctx, stay.ID, "guest asked for late checkout")
	if err != nil {
		t.Fatalf("SubmitPetition: %v", err)
	}
	if _, err := ls.concierge.SubmitPetition(ctx, stay.ID, "again"); !client.IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}

	page, err := ls.admin.ListPetitions(ctx, client.PetitionFilter{Status: "PENDING"})
	if err != nil || page.Total != 1 || page.Petitions[0].ID != p.ID {
		t.Fatalf("ListPetitions = %+v, %v", page, err)
	}

	reviewed, err := ls.admin.ReviewPetition(ctx, p.ID, client.DecisionApproved, "fine")
	if err != nil || reviewed.Status != client.DecisionApproved {
		t.Fatalf("ReviewPetition = %+v, %v", reviewed, err)
	}

	updated, err := ls.admin.UpdateStay(ctx, stay.ID, client.StayUpdate{Notes: &notes})
	if err != nil {
		t.Fatalf("admin UpdateStay: %v", err)
	}
	if updated.Notes != notes {
		t.Errorf("notes = %q", updated.Notes)
	}

	if _, err := ls.admin.CheckOut(ctx, stay.ID); err != nil {
		t.Errorf("CheckOut: %v", err)
	}

	audit, err := ls.admin.ListAudit(ctx, client.AuditFilter{Entity: "Stay", Action: "UPDATE"})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	// denied concierge update, approved admin update, check-out
	if audit.Total != 3 {
		t.Errorf("stay updates in audit = %d, want 3", audit.Total)
	}
	if audit.Entries[0].Metadata["outcome"] != "success" {
		t.Errorf("newest entry outcome = %v", audit.Entries[0].Metadata["outcome"])
	}

	report, err := ls.admin.VerifyAudit(ctx)
	if err != nil || !report.Valid {
		t.Fatalf("VerifyAudit = %+v, %v", report, err)
	}

	if err := ls.concierge.DeleteStay(ctx, stay.ID); !client.IsLocked(err) {
		t.Errorf("concierge delete: expected 403, got %v", err)
	}
	if err := ls.admin.DeleteStay(ctx, stay.ID); err != nil {
		t.Errorf("admin delete: %v", err)
	}
	if _, err := ls.admin.GetStay(ctx, stay.ID); !client.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}
