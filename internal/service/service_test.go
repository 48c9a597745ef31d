package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/ibimina/saccoledger/internal/api"
	"github.com/ibimina/saccoledger/internal/auth"
	"github.com/ibimina/saccoledger/internal/idempotency"
	"github.com/ibimina/saccoledger/internal/ledger"
	"github.com/ibimina/saccoledger/internal/middleware"
	"github.com/ibimina/saccoledger/internal/models"
	"github.com/ibimina/saccoledger/internal/payments"
	"github.com/ibimina/saccoledger/internal/ratelimit"
	"github.com/ibimina/saccoledger/internal/recon"
	"github.com/ibimina/saccoledger/internal/resolver"
	"github.com/ibimina/saccoledger/internal/storage/sqlite"
	"github.com/ibimina/saccoledger/internal/vault"
)

type testServer struct {
	store     *sqlite.SQLiteStore
	jwt       *auth.JWTManager
	payments  *api.PaymentServiceClient
	recon     *api.ReconciliationServiceClient
	directory *api.DirectoryServiceClient
}

// setupTestServer creates a test server with a temporary SQLite database and
// every service mounted behind JWT authentication.
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	// Create temp database
	tmpFile, err := os.CreateTemp("", "test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	store, err := sqlite.New(tmpFile.Name())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	v, err := vault.New(make([]byte, vault.KeySize))
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}

	engine := ledger.NewEngine(store)
	orchestrator := payments.NewOrchestrator(payments.Deps{
		Store:       store,
		Resolver:    resolver.New(store),
		Vault:       v,
		Ledger:      engine,
		Idempotency: idempotency.New(store, time.Hour),
		Limiter:     ratelimit.New(3, time.Minute, nil),
	})
	workbench := recon.NewWorkbench(recon.Deps{Store: store, Ledger: engine, Probe: store.Ping})
	jwtManager := auth.NewJWTManager("service-test-secret", time.Hour)

	interceptors := connect.WithInterceptors(middleware.RequireAuth(jwtManager), middleware.LoggingInterceptor())
	mux := http.NewServeMux()
	mux.Handle(api.NewPaymentServiceHandler(NewPaymentService(store, orchestrator, engine, "RWF"), interceptors))
	mux.Handle(api.NewReconciliationServiceHandler(NewReconciliationService(store, workbench), interceptors))
	mux.Handle(api.NewDirectoryServiceHandler(NewDirectoryService(store, v), interceptors))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testServer{
		store:     store,
		jwt:       jwtManager,
		payments:  api.NewPaymentServiceClient(http.DefaultClient, server.URL),
		recon:     api.NewReconciliationServiceClient(http.DefaultClient, server.URL),
		directory: api.NewDirectoryServiceClient(http.DefaultClient, server.URL),
	}
}

// token signs a token for userID; an empty userID yields a service token.
func (s *testServer) token(t *testing.T, userID, role, cooperativeID string) string {
	t.Helper()
	token, err := s.jwt.Generate(userID, role, cooperativeID)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

// staff stores a profile for userID and returns a token for it.
func (s *testServer) staff(t *testing.T, userID, role, cooperativeID string) string {
	t.Helper()
	profile := &models.StaffProfile{UserID: userID, Role: role, CooperativeID: cooperativeID}
	if err := s.store.UpsertStaffProfile(context.Background(), profile); err != nil {
		t.Fatalf("failed to save profile: %v", err)
	}
	return s.token(t, userID, role, cooperativeID)
}

func withToken[T any](msg *T, token string) *connect.Request[T] {
	req := connect.NewRequest(msg)
	req.Header().Set("Authorization", "Bearer "+token)
	return req
}

// seed creates a cooperative with ikimina G001 and member M042 through the
// directory service.
func (s *testServer) seed(t *testing.T) (coop api.Cooperative, group api.Group, member api.Member) {
	t.Helper()
	ctx := context.Background()
	admin := s.token(t, "", "", "")

	coopResp, err := s.directory.CreateCooperative(ctx, withToken(&api.CreateCooperativeRequest{Name: "Kigali SACCO", District: "Gasabo"}, admin))
	if err != nil {
		t.Fatalf("CreateCooperative failed: %v", err)
	}
	coop = coopResp.Msg.Cooperative

	groupResp, err := s.directory.CreateGroup(ctx, withToken(&api.CreateGroupRequest{SaccoID: coop.ID, Code: "g001", Name: "Twisungane"}, admin))
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	group = groupResp.Msg.Group

	membersResp, err := s.directory.ImportMembers(ctx, withToken(&api.ImportMembersRequest{
		IkiminaID: group.ID,
		Members:   []api.MemberImport{{MemberCode: "M042", FullName: "Uwase Aline", Msisdn: "250788123456", NationalID: "1199880012345678"}},
	}, admin))
	if err != nil {
		t.Fatalf("ImportMembers failed: %v", err)
	}
	member = membersResp.Msg.Members[0]
	return coop, group, member
}
