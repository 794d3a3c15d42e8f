package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/HasanRzayev/OdiNow/internal/config"
	"github.com/HasanRzayev/OdiNow/internal/domain"
	"github.com/HasanRzayev/OdiNow/internal/usecase"
)

// Gateway sends allocation requests over Kafka and matches replies on the
// per-instance reply topic via correlation ids.
type Gateway struct {
	client      *kgo.Client
	cfg         *config.Config
	log         zerolog.Logger
	pendingResp sync.Map
}

func NewGateway(cfg *config.Config, client *kgo.Client, log zerolog.Logger) *Gateway {
	return &Gateway{
		client: client,
		cfg:    cfg,
		log:    log,
	}
}

func (g *Gateway) GetTicketSummary(ctx context.Context, userID uuid.UUID) (*domain.TicketSummary, error) {
	req := g.newRequest()
	req.UserID = userID.String()

	resp, err := g.requestReply(ctx, TopicTicketSummaryRequest, []byte(req.UserID), req)
	if err != nil {
		return nil, err
	}
	if resp.Status == StatusError {
		return nil, g.mapError(resp)
	}
	return resp.Summary, nil
}

func (g *Gateway) ConsumeTicketForOffer(ctx context.Context, userID, offerID uuid.UUID) (bool, error) {
	req := g.newRequest()
	req.UserID = userID.String()
	req.OfferID = offerID.String()

	key := fmt.Sprintf("%s:%s", req.UserID, req.OfferID)
	resp, err := g.requestReply(ctx, TopicTicketConsumeRequest, []byte(key), req)
	if err != nil {
		return false, err
	}
	if resp.Status == StatusError {
		return false, g.mapError(resp)
	}
	return resp.TicketSpent != nil && *resp.TicketSpent, nil
}

func (g *Gateway) GetCancellationRights(ctx context.Context, userID uuid.UUID) (*domain.CancellationRights, error) {
	req := g.newRequest()
	req.UserID = userID.String()

	resp, err := g.requestReply(ctx, TopicRightsGetRequest, []byte(req.UserID), req)
	if err != nil {
		return nil, err
	}
	if resp.Status == StatusError {
		return nil, g.mapError(resp)
	}
	return resp.Rights, nil
}

func (g *Gateway) UseCancellationRight(ctx context.Context, userID, orderID uuid.UUID) error {
	req := g.newRequest()
	req.UserID = userID.String()
	req.OrderID = orderID.String()

	resp, err := g.requestReply(ctx, TopicRightsUseRequest, []byte(req.UserID), req)
	if err != nil {
		return err
	}
	if resp.Status == StatusError {
		return g.mapError(resp)
	}
	return nil
}

func (g *Gateway) newRequest() RequestPayload {
	return RequestPayload{
		SchemaVersion: 1,
		CorrelationID: uuid.New().String(),
		ReplyTo:       fmt.Sprintf("%s%s", TopicReplyPrefix, g.cfg.KafkaInstanceID),
	}
}

func (g *Gateway) requestReply(ctx context.Context, topic string, key []byte, req RequestPayload) (*ResponsePayload, error) {
	respChan := make(chan *ResponsePayload, 1)
	g.pendingResp.Store(req.CorrelationID, respChan)
	defer g.pendingResp.Delete(req.CorrelationID)

	payload, _ := json.Marshal(req)
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: payload,
	}

	if err := g.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return nil, err
	}

	select {
	case resp := <-respChan:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(RequestTimeout):
		return nil, errors.New("timeout waiting for response")
	}
}

func (g *Gateway) HandleResponse(payload []byte) {
	var resp ResponsePayload
	if err := json.Unmarshal(payload, &resp); err != nil {
		g.log.Error().Err(err).Msg("failed to decode response payload")
		return
	}

	if ch, ok := g.pendingResp.Load(resp.CorrelationID); ok {
		ch.(chan *ResponsePayload) <- &resp
		return
	}

	g.log.Warn().Str("correlation_id", resp.CorrelationID).Msg("no pending response")
}

func (g *Gateway) mapError(resp *ResponsePayload) error {
	switch resp.ErrorCode {
	case ErrCodeOwnerNotFound:
		return domain.ErrOwnerNotFound
	case ErrCodeTargetNotFound:
		return domain.ErrTargetNotFound
	case ErrCodeNoUnitsAvailable:
		if resp.NextUnitAt != nil {
			return &domain.ExhaustedError{NextUnitAt: resp.NextUnitAt}
		}
		return domain.ErrNoUnitsAvailable
	default:
		return errors.New(resp.ErrorMessage)
	}
}

var _ usecase.AllocationGateway = (*Gateway)(nil)
