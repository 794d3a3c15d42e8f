package kafka

import "time"

const (
	TopicTicketSummaryRequest = "tickets.summary.req"
	TopicTicketConsumeRequest = "tickets.consume.req"
	TopicRightsGetRequest     = "rights.get.req"
	TopicRightsUseRequest     = "rights.use.req"
	TopicTicketSummaryRetry   = "tickets.summary.retry"
	TopicTicketConsumeRetry   = "tickets.consume.retry"
	TopicRightsGetRetry       = "rights.get.retry"
	TopicRightsUseRetry       = "rights.use.retry"
	TopicReplyPrefix          = "allocation.reply."
	TopicRequestSuffix        = ".req"
	TopicRetrySuffix          = ".retry"
	TopicDLQSuffix            = ".dlq"

	RequestTimeout = 3 * time.Second

	RetryHeaderNextAt = "x-next-at"
	ErrorHeaderKey    = "x-error"
)
