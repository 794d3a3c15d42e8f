package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/HasanRzayev/OdiNow/internal/domain"
	"github.com/HasanRzayev/OdiNow/internal/usecase"
)

type Consumer struct {
	client  *kgo.Client
	tickets *usecase.TicketService
	rights  *usecase.RightsService
	log     zerolog.Logger
	ready   chan struct{}
}

func NewConsumer(client *kgo.Client, tickets *usecase.TicketService, rights *usecase.RightsService, log zerolog.Logger) *Consumer {
	return &Consumer{
		client:  client,
		tickets: tickets,
		rights:  rights,
		log:     log,
		ready:   make(chan struct{}),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	close(c.ready)
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			c.log.Error().Interface("errors", errs).Msg("consumer poll errors")
		}

		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()
			c.processRecord(ctx, record)
		}

		if err := c.client.CommitRecords(ctx, fetches.Records()...); err != nil {
			c.log.Error().Err(err).Msg("failed to commit records")
		}
	}
}

// StartRetry drains the retry topics back onto the main request topics,
// honoring the x-next-at header.
func (c *Consumer) StartRetry(ctx context.Context) {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return
		}
		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()

			if nextAt, ok := retryNextAt(record); ok && time.Now().Before(nextAt) {
				time.Sleep(time.Until(nextAt))
			}

			mainTopic := strings.TrimSuffix(record.Topic, TopicRetrySuffix) + TopicRequestSuffix
			newRecord := &kgo.Record{
				Topic:   mainTopic,
				Key:     record.Key,
				Value:   record.Value,
				Headers: record.Headers,
			}
			if err := c.client.ProduceSync(ctx, newRecord).FirstErr(); err != nil {
				c.log.Error().Err(err).Msg("failed to requeue retry record")
			}
		}
		if err := c.client.CommitRecords(ctx, fetches.Records()...); err != nil {
			c.log.Error().Err(err).Msg("failed to commit retry records")
		}
	}
}

func (c *Consumer) Ready() <-chan struct{} {
	return c.ready
}

func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) {
	switch record.Topic {
	case TopicTicketSummaryRequest:
		c.handleTicketSummary(ctx, record)
	case TopicTicketConsumeRequest:
		c.handleTicketConsume(ctx, record)
	case TopicRightsGetRequest:
		c.handleRightsGet(ctx, record)
	case TopicRightsUseRequest:
		c.handleRightsUse(ctx, record)
	}
}

func (c *Consumer) handleTicketSummary(ctx context.Context, record *kgo.Record) {
	req, userID, ok := c.decode(ctx, record)
	if !ok {
		return
	}

	summary, err := c.tickets.GetSummary(ctx, userID)
	resp := successResponse(req.CorrelationID)
	if err != nil {
		resp = errorResponseFor(req.CorrelationID, err)
	} else {
		resp.Summary = summary
	}
	c.sendResponse(ctx, req.ReplyTo, resp)
}

func (c *Consumer) handleTicketConsume(ctx context.Context, record *kgo.Record) {
	req, userID, ok := c.decode(ctx, record)
	if !ok {
		return
	}
	offerID, err := uuid.Parse(req.OfferID)
	if err != nil {
		c.sendError(ctx, record, ErrCodeInvalidRequest, "invalid offer id")
		return
	}

	spent, err := c.tickets.ConsumeForOffer(ctx, userID, offerID)
	resp := successResponse(req.CorrelationID)
	if err != nil {
		resp = errorResponseFor(req.CorrelationID, err)
	} else {
		resp.TicketSpent = &spent
	}
	c.sendResponse(ctx, req.ReplyTo, resp)
}

func (c *Consumer) handleRightsGet(ctx context.Context, record *kgo.Record) {
	req, userID, ok := c.decode(ctx, record)
	if !ok {
		return
	}

	rights, err := c.rights.GetRights(ctx, userID)
	resp := successResponse(req.CorrelationID)
	if err != nil {
		resp = errorResponseFor(req.CorrelationID, err)
	} else {
		resp.Rights = rights
	}
	c.sendResponse(ctx, req.ReplyTo, resp)
}

func (c *Consumer) handleRightsUse(ctx context.Context, record *kgo.Record) {
	req, userID, ok := c.decode(ctx, record)
	if !ok {
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		c.sendError(ctx, record, ErrCodeInvalidRequest, "invalid order id")
		return
	}

	resp := successResponse(req.CorrelationID)
	if err := c.rights.UseRight(ctx, userID, orderID); err != nil {
		resp = errorResponseFor(req.CorrelationID, err)
	}
	c.sendResponse(ctx, req.ReplyTo, resp)
}

func (c *Consumer) decode(ctx context.Context, record *kgo.Record) (RequestPayload, uuid.UUID, bool) {
	var req RequestPayload
	if err := json.Unmarshal(record.Value, &req); err != nil {
		c.sendError(ctx, record, ErrCodeInvalidRequest, "invalid request payload")
		return req, uuid.Nil, false
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.sendError(ctx, record, ErrCodeInvalidRequest, "invalid user id")
		return req, uuid.Nil, false
	}
	return req, userID, true
}

func (c *Consumer) sendResponse(ctx context.Context, topic string, resp *ResponsePayload) {
	payload, _ := json.Marshal(resp)
	record := &kgo.Record{
		Topic: topic,
		Value: payload,
	}
	if err := c.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		c.log.Error().Err(err).Str("topic", topic).Msg("failed to send response")
	}
}

func (c *Consumer) sendError(ctx context.Context, record *kgo.Record, code, message string) {
	var req RequestPayload
	_ = json.Unmarshal(record.Value, &req)

	resp := errorResponse(req.CorrelationID, code, message)
	if req.ReplyTo != "" {
		c.sendResponse(ctx, req.ReplyTo, resp)
	}

	dlqTopic := record.Topic + TopicDLQSuffix
	dlqRecord := &kgo.Record{
		Topic: dlqTopic,
		Value: record.Value,
		Headers: []kgo.RecordHeader{
			{Key: ErrorHeaderKey, Value: []byte(message)},
		},
	}
	_ = c.client.ProduceSync(ctx, dlqRecord).FirstErr()
}

func retryNextAt(record *kgo.Record) (time.Time, bool) {
	for _, header := range record.Headers {
		if header.Key != RetryHeaderNextAt {
			continue
		}
		nextAt, err := time.Parse(time.RFC3339, string(header.Value))
		if err != nil {
			return time.Time{}, false
		}
		return nextAt, true
	}

	return time.Time{}, false
}

func successResponse(correlationID string) *ResponsePayload {
	return &ResponsePayload{
		SchemaVersion: 1,
		CorrelationID: correlationID,
		Status:        StatusSuccess,
	}
}

func errorResponse(correlationID, code, message string) *ResponsePayload {
	return &ResponsePayload{
		SchemaVersion: 1,
		CorrelationID: correlationID,
		Status:        StatusError,
		ErrorCode:     code,
		ErrorMessage:  message,
	}
}

func errorResponseFor(correlationID string, err error) *ResponsePayload {
	code := ErrCodeInternalError
	switch {
	case errors.Is(err, domain.ErrOwnerNotFound):
		code = ErrCodeOwnerNotFound
	case errors.Is(err, domain.ErrTargetNotFound):
		code = ErrCodeTargetNotFound
	case errors.Is(err, domain.ErrNoUnitsAvailable):
		code = ErrCodeNoUnitsAvailable
	}
	resp := errorResponse(correlationID, code, err.Error())
	var exhausted *domain.ExhaustedError
	if errors.As(err, &exhausted) {
		resp.NextUnitAt = exhausted.NextUnitAt
	}
	return resp
}
