package api

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/ibimina/saccoledger/internal/payments"
)

// PaymentServiceName is the fully-qualified name of the PaymentService.
const PaymentServiceName = "saccoledger.v1.PaymentService"

const (
	PaymentServiceApplyPaymentProcedure  = "/saccoledger.v1.PaymentService/ApplyPayment"
	PaymentServiceSettlePaymentProcedure = "/saccoledger.v1.PaymentService/SettlePayment"
	PaymentServiceGetBalanceProcedure    = "/saccoledger.v1.PaymentService/GetBalance"
	PaymentServiceRecordMessageProcedure = "/saccoledger.v1.PaymentService/RecordMessage"

	PaymentServiceDecodeReferenceProcedure = "/saccoledger.v1.PaymentService/DecodeReference"
)

// IdempotencyKeyHeader carries the caller's idempotency key on ApplyPayment.
const IdempotencyKeyHeader = "X-Idempotency-Key"

// ApplyPaymentRequest is the apply-payment body.
type ApplyPaymentRequest = payments.Request

// ApplyPaymentResponse is the apply-payment result. Replays carry
// idempotent=true.
type ApplyPaymentResponse = payments.Result

type SettlePaymentRequest struct {
	PaymentID string `json:"paymentId"`
}

type SettlePaymentResponse struct {
	Payment Payment `json:"payment"`
}

// GetBalanceRequest names an account directly, or a group account by
// ikimina and currency.
type GetBalanceRequest struct {
	AccountID string `json:"accountId,omitempty"`
	IkiminaID string `json:"ikiminaId,omitempty"`
	Currency  string `json:"currency,omitempty"`
}

type GetBalanceResponse struct {
	AccountID string        `json:"accountId"`
	OwnerType string        `json:"ownerType"`
	OwnerID   string        `json:"ownerId"`
	Currency  string        `json:"currency"`
	Balance   int64         `json:"balance"`
	Entries   []LedgerEntry `json:"entries"`
}

// RecordMessageRequest stores an inbound SMS or statement line. ParsedJSON
// is empty when the parser could not extract fields.
type RecordMessageRequest struct {
	SaccoID    string `json:"saccoId"`
	Body       string `json:"body"`
	ParsedJSON string `json:"parsedJson,omitempty"`
	ReceivedAt string `json:"receivedAt,omitempty"`
}

type RecordMessageResponse struct {
	ID string `json:"id"`
}

// DecodeReferenceRequest asks how a reference would resolve. SaccoID
// narrows the lookup for administrators; staff always use their own.
type DecodeReferenceRequest struct {
	Reference string `json:"reference"`
	SaccoID   string `json:"saccoId,omitempty"`
}

// DecodeReferenceResponse is the resolution of a reference. Ids are empty
// for segments that matched nothing.
type DecodeReferenceResponse struct {
	Normalized string   `json:"normalized"`
	Segments   []string `json:"segments"`
	SaccoID    string   `json:"saccoId,omitempty"`
	IkiminaID  string   `json:"ikiminaId,omitempty"`
	MemberID   string   `json:"memberId,omitempty"`
	Status     string   `json:"status"`
}

// PaymentServiceHandler is implemented by the payment service.
type PaymentServiceHandler interface {
	ApplyPayment(context.Context, *connect.Request[ApplyPaymentRequest]) (*connect.Response[ApplyPaymentResponse], error)
	SettlePayment(context.Context, *connect.Request[SettlePaymentRequest]) (*connect.Response[SettlePaymentResponse], error)
	GetBalance(context.Context, *connect.Request[GetBalanceRequest]) (*connect.Response[GetBalanceResponse], error)
	RecordMessage(context.Context, *connect.Request[RecordMessageRequest]) (*connect.Response[RecordMessageResponse], error)
	DecodeReference(context.Context, *connect.Request[DecodeReferenceRequest]) (*connect.Response[DecodeReferenceResponse], error)
}

// NewPaymentServiceHandler builds an HTTP handler for svc. It returns the
// path to mount the handler on.
func NewPaymentServiceHandler(svc PaymentServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	return "/" + PaymentServiceName + "/", routes{
		PaymentServiceApplyPaymentProcedure:    connect.NewUnaryHandler(PaymentServiceApplyPaymentProcedure, svc.ApplyPayment, opts...),
		PaymentServiceSettlePaymentProcedure:   connect.NewUnaryHandler(PaymentServiceSettlePaymentProcedure, svc.SettlePayment, opts...),
		PaymentServiceGetBalanceProcedure:      connect.NewUnaryHandler(PaymentServiceGetBalanceProcedure, svc.GetBalance, opts...),
		PaymentServiceRecordMessageProcedure:   connect.NewUnaryHandler(PaymentServiceRecordMessageProcedure, svc.RecordMessage, opts...),
		PaymentServiceDecodeReferenceProcedure: connect.NewUnaryHandler(PaymentServiceDecodeReferenceProcedure, svc.DecodeReference, opts...),
	}
}

// PaymentServiceClient calls a remote PaymentService.
type PaymentServiceClient struct {
	applyPayment    *connect.Client[ApplyPaymentRequest, ApplyPaymentResponse]
	settlePayment   *connect.Client[SettlePaymentRequest, SettlePaymentResponse]
	getBalance      *connect.Client[GetBalanceRequest, GetBalanceResponse]
	recordMessage   *connect.Client[RecordMessageRequest, RecordMessageResponse]
	decodeReference *connect.Client[DecodeReferenceRequest, DecodeReferenceResponse]
}

// NewPaymentServiceClient creates a client for the service at baseURL.
func NewPaymentServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *PaymentServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &PaymentServiceClient{
		applyPayment:    connect.NewClient[ApplyPaymentRequest, ApplyPaymentResponse](httpClient, baseURL+PaymentServiceApplyPaymentProcedure, opts...),
		settlePayment:   connect.NewClient[SettlePaymentRequest, SettlePaymentResponse](httpClient, baseURL+PaymentServiceSettlePaymentProcedure, opts...),
		getBalance:      connect.NewClient[GetBalanceRequest, GetBalanceResponse](httpClient, baseURL+PaymentServiceGetBalanceProcedure, opts...),
		recordMessage:   connect.NewClient[RecordMessageRequest, RecordMessageResponse](httpClient, baseURL+PaymentServiceRecordMessageProcedure, opts...),
		decodeReference: connect.NewClient[DecodeReferenceRequest, DecodeReferenceResponse](httpClient, baseURL+PaymentServiceDecodeReferenceProcedure, opts...),
	}
}

func (c *PaymentServiceClient) ApplyPayment(ctx context.Context, req *connect.Request[ApplyPaymentRequest]) (*connect.Response[ApplyPaymentResponse], error) {
	return c.applyPayment.CallUnary(ctx, req)
}

func (c *PaymentServiceClient) SettlePayment(ctx context.Context, req *connect.Request[SettlePaymentRequest]) (*connect.Response[SettlePaymentResponse], error) {
	return c.settlePayment.CallUnary(ctx, req)
}

func (c *PaymentServiceClient) GetBalance(ctx context.Context, req *connect.Request[GetBalanceRequest]) (*connect.Response[GetBalanceResponse], error) {
	return c.getBalance.CallUnary(ctx, req)
}

func (c *PaymentServiceClient) RecordMessage(ctx context.Context, req *connect.Request[RecordMessageRequest]) (*connect.Response[RecordMessageResponse], error) {
	return c.recordMessage.CallUnary(ctx, req)
}

func (c *PaymentServiceClient) DecodeReference(ctx context.Context, req *connect.Request[DecodeReferenceRequest]) (*connect.Response[DecodeReferenceResponse], error) {
	return c.decodeReference.CallUnary(ctx, req)
}
