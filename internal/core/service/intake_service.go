package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/textorder/textorder/internal/core/domain"
	"github.com/textorder/textorder/internal/core/parser"
	"github.com/textorder/textorder/internal/port"
)

// IntakeService is the single entry point shared by every inbound channel.
type IntakeService struct {
	menus     port.MenuRepository
	fallback  port.OrderParser
	validator *InventoryValidator
	tracker   *ConversationTracker
	lifecycle *LifecycleManager
	checkIns  *CheckInScheduler
	logger    *zap.Logger
	tracer    trace.Tracer
	locks     *keyedMutex
}

// NewIntakeService wires the intake flow. fallback may be nil.
func NewIntakeService(
	menus port.MenuRepository,
	fallback port.OrderParser,
	validator *InventoryValidator,
	tracker *ConversationTracker,
	lifecycle *LifecycleManager,
	checkIns *CheckInScheduler,
	logger *zap.Logger,
) *IntakeService {
	return &IntakeService{
		menus:     menus,
		fallback:  fallback,
		validator: validator,
		tracker:   tracker,
		lifecycle: lifecycle,
		checkIns:  checkIns,
		logger:    logger,
		tracer:    otel.Tracer("textorder/intake"),
		locks:     newKeyedMutex(),
	}
}

// HandleInboundMessage answers one customer message. Domain failures are
// reported in the reply; the error is non-nil only for malformed input.
func (s *IntakeService) HandleInboundMessage(ctx context.Context, msg domain.InboundMessage) (domain.Reply, error) {
	if msg.BusinessID == "" || msg.CustomerIdentity == "" {
		return domain.Reply{}, fmt.Errorf("%w: business and customer identity are required", domain.ErrInvalidInput)
	}

	ctx, span := s.tracer.Start(ctx, "intake.HandleInboundMessage", trace.WithAttributes(
		attribute.String("business.id", msg.BusinessID),
		attribute.String("channel", string(msg.Channel)),
	))
	defer span.End()

	unlock := s.locks.Lock(identityKey(msg.BusinessID, msg.CustomerIdentity))
	defer unlock()

	reply, err := s.handle(ctx, msg)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("inbound message failed",
			zap.String("business_id", msg.BusinessID),
			zap.String("customer", msg.CustomerIdentity),
			zap.Error(err))
		return domain.Reply{Text: upstreamReply}, nil
	}
	return reply, nil
}

func (s *IntakeService) handle(ctx context.Context, msg domain.InboundMessage) (domain.Reply, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return domain.Reply{Text: blankReply}, nil
	}

	if s.checkIns != nil {
		res, err := s.checkIns.ConsumeReply(ctx, msg.BusinessID, msg.CustomerIdentity, text)
		if err != nil {
			return domain.Reply{}, err
		}
		if res.Handled {
			return s.handleCheckIn(ctx, msg, res)
		}
	}

	menu, err := s.menus.GetMenu(ctx, msg.BusinessID)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("load menu: %w", err)
	}

	if parser.IsMenuRequest(text) {
		return domain.Reply{Text: menu.Listing()}, nil
	}

	session, err := s.tracker.GetSession(ctx, msg.BusinessID, msg.CustomerIdentity)
	if err != nil {
		return domain.Reply{}, err
	}
	if session != nil && session.Stage == domain.StageAwaitingName {
		pending, complete, err := s.tracker.ContinueSession(ctx, session, text)
		if err != nil {
			return domain.Reply{}, err
		}
		if !complete {
			return domain.Reply{Text: askNameReply, Parsed: &pending}, nil
		}
		return s.finalize(ctx, msg, pending)
	}

	parsed := s.parse(ctx, text, menu)
	if !parsed.IsValid {
		return domain.Reply{Text: helpReply(menu, parsed.ErrorMessage), Parsed: &parsed}, nil
	}

	report, err := s.validator.Validate(ctx, msg.BusinessID, parsed.Items)
	if err != nil {
		return domain.Reply{}, err
	}
	if report.Blocked() {
		return domain.Reply{Text: rejectionReply(report), Parsed: &parsed, Inventory: &report}, nil
	}

	if parsed.CustomerName == "" {
		name, err := s.tracker.RememberedName(ctx, msg.BusinessID, msg.CustomerIdentity)
		if err != nil {
			return domain.Reply{}, err
		}
		if name == "" {
			if _, err := s.tracker.OpenSession(ctx, msg.BusinessID, msg.CustomerIdentity, parsed); err != nil {
				return domain.Reply{}, err
			}
			return domain.Reply{Text: askNameReply, Parsed: &parsed, Inventory: &report}, nil
		}
		parsed.CustomerName = name
	}

	return s.create(ctx, msg, parsed, report)
}

// parse runs the deterministic parser and, when it finds nothing or is
// unsure, the optional fallback. A fallback result is used as-is.
func (s *IntakeService) parse(ctx context.Context, text string, menu domain.Menu) domain.ParsedOrder {
	parsed := parser.Parse(text, menu)
	if s.fallback == nil || (parsed.IsValid && !parsed.HasFuzzyMatch) {
		return parsed
	}

	alt, err := s.fallback.Parse(ctx, text, menu)
	if err != nil {
		s.logger.Warn("fallback parser failed", zap.Error(err))
		return parsed
	}
	if !alt.IsValid || len(alt.Items) == 0 {
		return parsed
	}

	for i, item := range alt.Items {
		if item.Price == 0 {
			alt.Items[i].Price = menu[item.Name]
		}
	}
	if alt.CustomerName == "" {
		alt.CustomerName = parsed.CustomerName
	}
	if alt.TableNumber == "" {
		alt.TableNumber = parsed.TableNumber
	}
	alt.Source = domain.ParseSourceLLM
	alt.Recompute()
	return alt
}

// finalize completes an order whose name arrived in a follow-up message.
func (s *IntakeService) finalize(ctx context.Context, msg domain.InboundMessage, pending domain.ParsedOrder) (domain.Reply, error) {
	report, err := s.validator.Validate(ctx, msg.BusinessID, pending.Items)
	if err != nil {
		return domain.Reply{}, err
	}
	if report.Blocked() {
		if err := s.tracker.CloseSession(ctx, msg.BusinessID, msg.CustomerIdentity); err != nil {
			return domain.Reply{}, err
		}
		return domain.Reply{Text: rejectionReply(report), Parsed: &pending, Inventory: &report}, nil
	}
	return s.create(ctx, msg, pending, report)
}

func (s *IntakeService) create(ctx context.Context, msg domain.InboundMessage, parsed domain.ParsedOrder, report domain.InventoryReport) (domain.Reply, error) {
	order, err := s.lifecycle.Create(ctx, msg.BusinessID, msg.CustomerIdentity, msg.Channel, parsed)
	if errors.Is(err, domain.ErrInventoryConflict) {
		if err := s.tracker.CloseSession(ctx, msg.BusinessID, msg.CustomerIdentity); err != nil {
			return domain.Reply{}, err
		}
		return domain.Reply{Text: soldOutRaceReply, Parsed: &parsed}, nil
	}
	if err != nil {
		return domain.Reply{}, err
	}

	if err := s.tracker.CloseSession(ctx, msg.BusinessID, msg.CustomerIdentity); err != nil {
		s.logger.Warn("failed to close session", zap.String("customer", msg.CustomerIdentity), zap.Error(err))
	}
	if err := s.tracker.RememberName(ctx, msg.BusinessID, msg.CustomerIdentity, order.CustomerName); err != nil {
		s.logger.Warn("failed to remember name", zap.String("customer", msg.CustomerIdentity), zap.Error(err))
	}

	return domain.Reply{
		Text:      orderReply(*order, parsed.HasFuzzyMatch, report.Warnings()),
		Order:     order,
		Parsed:    &parsed,
		Inventory: &report,
	}, nil
}

func (s *IntakeService) handleCheckIn(ctx context.Context, msg domain.InboundMessage, res CheckInResult) (domain.Reply, error) {
	if !res.Affirmative {
		s.logger.Info("inconclusive check-in reply",
			zap.String("business_id", msg.BusinessID),
			zap.String("order_id", res.OrderID))
		return domain.Reply{Text: checkInReply(nil, false)}, nil
	}

	open, err := s.lifecycle.MostRecentOpenForCustomer(ctx, msg.BusinessID, msg.CustomerIdentity)
	if err != nil {
		return domain.Reply{}, err
	}
	if open == nil {
		return domain.Reply{Text: checkInReply(nil, true)}, nil
	}

	order, err := s.lifecycle.UpdateStatus(ctx, open.ID, domain.OrderStatusComplete)
	if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
		return domain.Reply{Text: checkInReply(nil, true)}, nil
	}
	if err != nil {
		return domain.Reply{}, err
	}
	return domain.Reply{Text: checkInReply(order, true), Order: order}, nil
}
