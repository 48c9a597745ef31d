package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/ibimina/saccoledger/internal/api"
	"github.com/ibimina/saccoledger/internal/apperr"
	"github.com/ibimina/saccoledger/internal/ledger"
	"github.com/ibimina/saccoledger/internal/models"
	"github.com/ibimina/saccoledger/internal/payments"
	"github.com/ibimina/saccoledger/internal/resolver"
	"github.com/ibimina/saccoledger/internal/storage"
)

// PaymentService implements the Connect PaymentService.
type PaymentService struct {
	store           storage.Store
	orchestrator    *payments.Orchestrator
	ledger          *ledger.Engine
	resolver        *resolver.Resolver
	defaultCurrency string
}

var _ api.PaymentServiceHandler = (*PaymentService)(nil)

// NewPaymentService creates a new PaymentService.
func NewPaymentService(store storage.Store, orchestrator *payments.Orchestrator, engine *ledger.Engine, defaultCurrency string) *PaymentService {
	if defaultCurrency == "" {
		defaultCurrency = "RWF"
	}
	return &PaymentService{
		store:           store,
		orchestrator:    orchestrator,
		ledger:          engine,
		resolver:        resolver.New(store),
		defaultCurrency: defaultCurrency,
	}
}

// ApplyPayment records a payment and posts it when its reference resolves.
func (s *PaymentService) ApplyPayment(ctx context.Context, req *connect.Request[api.ApplyPaymentRequest]) (*connect.Response[api.ApplyPaymentResponse], error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(req.Header().Get(api.IdempotencyKeyHeader))

	result, err := s.orchestrator.Apply(ctx, key, caller, *req.Msg)
	if err != nil {
		return nil, toConnectError(api.PaymentServiceApplyPaymentProcedure, err)
	}
	return connect.NewResponse(result), nil
}

// SettlePayment moves a posted payment's funds to settlement.
func (s *PaymentService) SettlePayment(ctx context.Context, req *connect.Request[api.SettlePaymentRequest]) (*connect.Response[api.SettlePaymentResponse], error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Msg.PaymentID) == "" {
		return nil, toConnectError(api.PaymentServiceSettlePaymentProcedure, apperr.Validation("paymentId", "is required"))
	}

	payment, err := s.orchestrator.Settle(ctx, caller, req.Msg.PaymentID)
	if err != nil {
		return nil, toConnectError(api.PaymentServiceSettlePaymentProcedure, err)
	}
	return connect.NewResponse(&api.SettlePaymentResponse{Payment: api.NewPayment(payment)}), nil
}

// GetBalance returns an account's balance and entries.
func (s *PaymentService) GetBalance(ctx context.Context, req *connect.Request[api.GetBalanceRequest]) (*connect.Response[api.GetBalanceResponse], error) {
	resp, err := s.getBalance(ctx, req.Msg)
	if err != nil {
		return nil, toConnectError(api.PaymentServiceGetBalanceProcedure, err)
	}
	return connect.NewResponse(resp), nil
}

func (s *PaymentService) getBalance(ctx context.Context, msg *api.GetBalanceRequest) (*api.GetBalanceResponse, error) {
	actor, err := actorFrom(ctx, s.store)
	if err != nil {
		return nil, err
	}

	accountID := strings.TrimSpace(msg.AccountID)
	if accountID == "" {
		groupID := strings.TrimSpace(msg.IkiminaID)
		if groupID == "" {
			return nil, apperr.Validation("accountId", "accountId or ikiminaId is required")
		}
		group, err := s.store.GetGroup(ctx, groupID)
		if err != nil {
			return nil, apperr.Dependency("get group", err)
		}
		if err := requireScope(actor, group.CooperativeID); err != nil {
			return nil, err
		}
		currency := strings.ToUpper(strings.TrimSpace(msg.Currency))
		if currency == "" {
			currency = s.defaultCurrency
		}
		account, err := s.ledger.GroupAccount(ctx, groupID, currency)
		if err != nil {
			return nil, err
		}
		if account == nil {
			return nil, apperr.NotFound("account", groupID+"/"+currency)
		}
		accountID = account.ID
	}

	statement, err := s.ledger.GetStatement(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := requireScope(actor, statement.Account.CooperativeID); err != nil {
		return nil, err
	}

	entries := make([]api.LedgerEntry, len(statement.Entries))
	for i, e := range statement.Entries {
		entries[i] = api.LedgerEntry{
			ID:         e.ID,
			DebitID:    e.DebitID,
			CreditID:   e.CreditID,
			Amount:     e.Amount,
			Currency:   e.Currency,
			ValueDate:  e.ValueDate,
			ExternalID: e.ExternalID,
			Memo:       e.Memo,
		}
	}
	return &api.GetBalanceResponse{
		AccountID: statement.Account.ID,
		OwnerType: statement.Account.OwnerType,
		OwnerID:   statement.Account.OwnerID,
		Currency:  statement.Account.Currency,
		Balance:   statement.Balance,
		Entries:   entries,
	}, nil
}

// RecordMessage stores an inbound message so payments can reference it.
func (s *PaymentService) RecordMessage(ctx context.Context, req *connect.Request[api.RecordMessageRequest]) (*connect.Response[api.RecordMessageResponse], error) {
	resp, err := s.recordMessage(ctx, req.Msg)
	if err != nil {
		return nil, toConnectError(api.PaymentServiceRecordMessageProcedure, err)
	}
	return connect.NewResponse(resp), nil
}

func (s *PaymentService) recordMessage(ctx context.Context, msg *api.RecordMessageRequest) (*api.RecordMessageResponse, error) {
	actor, err := actorFrom(ctx, s.store)
	if err != nil {
		return nil, err
	}
	if !actor.CanWrite() {
		return nil, apperr.Forbidden("role %s is read-only", actor.Role)
	}
	cooperativeID := strings.TrimSpace(msg.SaccoID)
	if cooperativeID == "" {
		return nil, apperr.Validation("saccoId", "is required")
	}
	if err := requireScope(actor, cooperativeID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(msg.Body) == "" {
		return nil, apperr.Validation("body", "is required")
	}
	if msg.ParsedJSON != "" && !json.Valid([]byte(msg.ParsedJSON)) {
		return nil, apperr.Validation("parsedJson", "must be valid JSON")
	}
	receivedAt := time.Now()
	if msg.ReceivedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, msg.ReceivedAt)
		if err != nil {
			return nil, apperr.Validation("receivedAt", "must be a timestamp with offset")
		}
		receivedAt = t
	}

	raw := &models.RawMessage{
		CooperativeID: cooperativeID,
		Body:          msg.Body,
		ParsedJSON:    msg.ParsedJSON,
		ReceivedAt:    receivedAt.Unix(),
	}
	if err := s.store.CreateRawMessage(ctx, raw); err != nil {
		return nil, apperr.Dependency("create raw message", err)
	}
	slog.Info("Raw message recorded", "message_id", raw.ID, "cooperative_id", cooperativeID, "parsed", raw.ParsedJSON != "")
	return &api.RecordMessageResponse{ID: raw.ID}, nil
}

// DecodeReference shows how a reference splits and what it resolves to,
// without recording anything.
func (s *PaymentService) DecodeReference(ctx context.Context, req *connect.Request[api.DecodeReferenceRequest]) (*connect.Response[api.DecodeReferenceResponse], error) {
	resp, err := s.decodeReference(ctx, req.Msg)
	if err != nil {
		return nil, toConnectError(api.PaymentServiceDecodeReferenceProcedure, err)
	}
	return connect.NewResponse(resp), nil
}

func (s *PaymentService) decodeReference(ctx context.Context, msg *api.DecodeReferenceRequest) (*api.DecodeReferenceResponse, error) {
	actor, err := actorFrom(ctx, s.store)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(msg.Reference) == "" {
		return nil, apperr.Validation("reference", "is required")
	}
	scope := strings.TrimSpace(msg.SaccoID)
	if actor.Role != models.RoleSystemAdmin {
		if scope == "" {
			scope = actor.CooperativeID
		}
		if err := requireScope(actor, scope); err != nil {
			return nil, err
		}
	}

	res, err := s.resolver.Resolve(ctx, msg.Reference, scope)
	if err != nil {
		return nil, apperr.Dependency("resolve reference", err)
	}
	segments := resolver.Segments(res.Normalized)
	if segments == nil {
		segments = []string{}
	}
	return &api.DecodeReferenceResponse{
		Normalized: res.Normalized,
		Segments:   segments,
		SaccoID:    res.CooperativeID,
		IkiminaID:  res.GroupID,
		MemberID:   res.MemberID,
		Status:     string(res.Status),
	}, nil
}
