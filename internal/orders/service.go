package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/profarm-erp/profarm-erp/internal/clients"
	"github.com/profarm-erp/profarm-erp/internal/shared"
	"github.com/profarm-erp/profarm-erp/internal/stock"
)

// ApprovalPort abstracts the approval history recorder.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts workflow transition attempts.
type MetricsPort interface {
	ObserveTransition(state string, ok bool)
}

// Service drives the order lifecycle: numbered creation, edits that fall
// back to Pending, and the Approve/Reject/Finalize transitions with their
// stock side effects.
type Service struct {
	logger    *slog.Logger
	repo      Repository
	approvals ApprovalPort
	audit     AuditPort
	metrics   MetricsPort
	now       func() time.Time
}

// NewService wires the workflow engine.
func NewService(logger *slog.Logger, repo Repository, approvals ApprovalPort, audit AuditPort) *Service {
	return &Service{
		logger:    logger,
		repo:      repo,
		approvals: approvals,
		audit:     audit,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetMetrics attaches the optional transition counter.
func (s *Service) SetMetrics(m MetricsPort) {
	s.metrics = m
}

func (s *Service) observeTransition(state OrderState, ok bool) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(string(state), ok)
	}
}

// Create opens a new order in Pending state. Client upsert, number
// allocation and the order insert share one transaction, so a failure at
// any point leaves no number consumed and no partial rows behind.
func (s *Service) Create(ctx context.Context, req CreateOrderRequest) (CreateOrderResult, error) {
	items, total, err := buildItems(req.Items)
	if err != nil {
		return CreateOrderResult{}, err
	}
	if !ValidPaymentTerms(req.PaymentTerms) {
		return CreateOrderResult{}, fmt.Errorf("%w: unknown payment terms %q", ErrValidation, req.PaymentTerms)
	}
	if req.SellerID <= 0 {
		return CreateOrderResult{}, fmt.Errorf("%w: seller required", ErrValidation)
	}
	clientInput, err := clientUpsertInput(req.Client)
	if err != nil {
		return CreateOrderResult{}, err
	}

	now := s.now()
	var created Order
	attempt := func() error {
		return s.repo.WithTx(ctx, func(tx TxRepository) error {
			clientID, err := tx.UpsertClient(ctx, clientInput)
			if err != nil {
				return err
			}
			number, err := tx.NextOrderNumber(ctx, now.Year())
			if err != nil {
				return err
			}
			created = Order{
				OrderNumber:  number,
				ClientID:     clientID,
				SellerID:     req.SellerID,
				PaymentTerms: req.PaymentTerms,
				Notes:        req.Notes,
				Total:        total,
				State:        StatePending,
				CreatedAt:    now,
				Items:        items,
			}
			if err := tx.InsertOrder(ctx, &created); err != nil {
				return err
			}
			return tx.InsertItems(ctx, created.ID, created.Items)
		})
	}

	err = attempt()
	if errors.Is(err, ErrConflict) {
		// Unique collision on the order number; the counter has moved
		// on, so a single retry allocates a fresh one.
		err = attempt()
	}
	if err != nil {
		return CreateOrderResult{}, err
	}

	s.recordAudit(ctx, req.SellerID, "orders:create", created.OrderNumber, map[string]any{
		"total": created.Total.String(),
		"items": len(created.Items),
	})
	return CreateOrderResult{OrderNumber: created.OrderNumber, State: created.State, Total: created.Total}, nil
}

// Edit replaces the order's client data, items, terms and notes. Editing
// an Approved or Rejected order moves it back to Pending and clears the
// approval metadata; stock consumed by a prior approval is returned in
// the same transaction.
func (s *Service) Edit(ctx context.Context, number string, req EditOrderRequest, actorID int64) (EditOrderResult, error) {
	items, total, err := buildItems(req.Items)
	if err != nil {
		return EditOrderResult{}, err
	}
	if !ValidPaymentTerms(req.PaymentTerms) {
		return EditOrderResult{}, fmt.Errorf("%w: unknown payment terms %q", ErrValidation, req.PaymentTerms)
	}
	clientInput, err := clientUpsertInput(req.Client)
	if err != nil {
		return EditOrderResult{}, err
	}

	var result EditOrderResult
	err = s.repo.WithTx(ctx, func(tx TxRepository) error {
		o, err := tx.GetForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if !Editable(o.State) {
			return fmt.Errorf("%w: %s order cannot be edited", ErrInvalidTransition, o.State)
		}

		if o.State == StateApproved {
			// Same ascending lock order as approval decrements.
			prior := append([]LineItem(nil), o.Items...)
			sort.Slice(prior, func(i, j int) bool { return prior[i].ProductID < prior[j].ProductID })
			for _, it := range prior {
				if err := tx.CreditStock(ctx, it.ProductID, it.Quantity, stock.ReasonOrderReopened, o.OrderNumber, actorID); err != nil {
					return err
				}
			}
		}

		clientID, err := tx.UpsertClient(ctx, clientInput)
		if err != nil {
			return err
		}

		result = EditOrderResult{
			State:        StatePending,
			Total:        total,
			TotalChanged: !total.Equal(o.Total),
			StateChanged: o.State != StatePending,
		}

		o.ClientID = clientID
		o.PaymentTerms = req.PaymentTerms
		o.Notes = req.Notes
		o.Total = total
		o.State = StatePending
		o.ApprovedAt, o.ApprovedBy = nil, nil
		o.FinalizedAt, o.FinalizedBy = nil, nil
		if err := tx.UpdateHeader(ctx, o); err != nil {
			return err
		}
		if err := tx.DeleteItems(ctx, o.ID); err != nil {
			return err
		}
		return tx.InsertItems(ctx, o.ID, items)
	})
	if err != nil {
		return EditOrderResult{}, err
	}

	s.recordAudit(ctx, actorID, "orders:edit", number, map[string]any{
		"total":         result.Total.String(),
		"total_changed": result.TotalChanged,
		"state_changed": result.StateChanged,
	})
	return result, nil
}

// Approve moves a Pending order to Approved and consumes stock for every
// line. The decrements and the state flip commit together: if any product
// lacks coverage, nothing is consumed and the order stays Pending.
func (s *Service) Approve(ctx context.Context, number string, actorID int64) (TransitionResult, error) {
	now := s.now()
	err := s.repo.WithTx(ctx, func(tx TxRepository) error {
		o, err := tx.GetForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if o.State != StatePending {
			return fmt.Errorf("%w: approve requires PENDING, order is %s", ErrInvalidTransition, o.State)
		}

		// Rows lock in ascending product order on every code path, so
		// two approvals touching the same products cannot deadlock.
		items := append([]LineItem(nil), o.Items...)
		sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
		for _, it := range items {
			if err := tx.DecrementStock(ctx, it.ProductID, it.Quantity, o.OrderNumber, actorID); err != nil {
				return err
			}
		}

		ok, err := tx.TransitionState(ctx, o.ID, StatePending, StateApproved, actorID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: order no longer PENDING", ErrInvalidTransition)
		}
		return nil
	})
	s.observeTransition(StateApproved, err == nil)
	if err != nil {
		return TransitionResult{}, err
	}

	s.recordApproval(ctx, number, actorID, shared.ApprovalApprove, "", now)
	s.recordAudit(ctx, actorID, "orders:approve", number, nil)
	return TransitionResult{OrderNumber: number, State: StateApproved}, nil
}

// Reject moves a Pending order to Rejected. Stock is untouched.
func (s *Service) Reject(ctx context.Context, number string, actorID int64, note string) (TransitionResult, error) {
	now := s.now()
	err := s.repo.WithTx(ctx, func(tx TxRepository) error {
		o, err := tx.GetForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if o.State != StatePending {
			return fmt.Errorf("%w: reject requires PENDING, order is %s", ErrInvalidTransition, o.State)
		}
		ok, err := tx.TransitionState(ctx, o.ID, StatePending, StateRejected, actorID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: order no longer PENDING", ErrInvalidTransition)
		}
		return nil
	})
	s.observeTransition(StateRejected, err == nil)
	if err != nil {
		return TransitionResult{}, err
	}

	s.recordApproval(ctx, number, actorID, shared.ApprovalReject, note, now)
	s.recordAudit(ctx, actorID, "orders:reject", number, map[string]any{"note": note})
	return TransitionResult{OrderNumber: number, State: StateRejected}, nil
}

// Finalize closes an Approved order. Finalized is terminal.
func (s *Service) Finalize(ctx context.Context, number string, actorID int64) (TransitionResult, error) {
	now := s.now()
	err := s.repo.WithTx(ctx, func(tx TxRepository) error {
		o, err := tx.GetForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if o.State != StateApproved {
			return fmt.Errorf("%w: finalize requires APPROVED, order is %s", ErrInvalidTransition, o.State)
		}
		ok, err := tx.TransitionState(ctx, o.ID, StateApproved, StateFinalized, actorID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: order no longer APPROVED", ErrInvalidTransition)
		}
		return nil
	})
	s.observeTransition(StateFinalized, err == nil)
	if err != nil {
		return TransitionResult{}, err
	}

	s.recordApproval(ctx, number, actorID, shared.ApprovalFinalize, "", now)
	s.recordAudit(ctx, actorID, "orders:finalize", number, nil)
	return TransitionResult{OrderNumber: number, State: StateFinalized}, nil
}

// Get returns the full order with its client and items.
func (s *Service) Get(ctx context.Context, number string) (OrderDetail, error) {
	return s.repo.GetByNumber(ctx, number)
}

// List returns order summaries matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]OrderSummary, error) {
	return s.repo.List(ctx, filter)
}

// Approvals returns the decision history for an order.
func (s *Service) Approvals(ctx context.Context, number string) ([]shared.ApprovalLog, error) {
	if s.approvals == nil {
		return nil, nil
	}
	return s.approvals.List(ctx, shared.ModuleOrders, shared.OrderRef(number))
}

func (s *Service) recordApproval(ctx context.Context, number string, actorID int64, action shared.ApprovalAction, note string, at time.Time) {
	if s.approvals == nil {
		return
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  shared.ModuleOrders,
		RefID:   shared.OrderRef(number),
		ActorID: actorID,
		Action:  action,
		Note:    note,
		At:      at,
	})
	if err != nil {
		s.logger.Error("record approval", slog.String("order", number), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, number string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "order",
		EntityID: number,
		Meta:     meta,
	})
	if err != nil {
		s.logger.Error("record audit", slog.String("order", number), slog.Any("error", err))
	}
}

// buildItems validates the requested lines and recomputes every subtotal
// and the order total server side.
func buildItems(inputs []LineItemInput) ([]LineItem, decimal.Decimal, error) {
	if len(inputs) == 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: at least one item required", ErrValidation)
	}
	items := make([]LineItem, 0, len(inputs))
	total := decimal.Zero
	for i, in := range inputs {
		if in.ProductID <= 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: item %d has no product", ErrValidation, i+1)
		}
		if in.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: item %d quantity must be positive", ErrValidation, i+1)
		}
		if in.UnitPrice.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("%w: item %d price must not be negative", ErrValidation, i+1)
		}
		sub := in.subtotal()
		items = append(items, LineItem{
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			Subtotal:  sub,
			LineOrder: i,
		})
		total = total.Add(sub)
	}
	return items, total, nil
}

func clientUpsertInput(in ClientInput) (clients.UpsertInput, error) {
	taxID := clients.NormalizeTaxID(in.TaxID)
	if taxID == "" {
		return clients.UpsertInput{}, fmt.Errorf("%w: %v", ErrValidation, clients.ErrInvalidTaxID)
	}
	if in.LegalName == "" {
		return clients.UpsertInput{}, fmt.Errorf("%w: client legal name required", ErrValidation)
	}
	return clients.UpsertInput{
		TaxID:     taxID,
		LegalName: in.LegalName,
		Phone:     in.Phone,
		Address:   in.Address,
	}, nil
}
