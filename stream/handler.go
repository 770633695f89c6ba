// Package stream provides a DynamoDB Streams handler that fans out posts
// written to the posts table.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/ripple/feed"
	"github.com/jacentio/ripple/post"
	"github.com/jacentio/ripple/timeline"
)

// FanOuter delivers a published post to its author's followers.
type FanOuter interface {
	FanOut(ctx context.Context, ev feed.PostPublished) (timeline.Result, error)
}

// Handler turns new author cells of the posts table into fan-out calls.
//
// Each post is written as several cell items; only the insert of the userid
// cell triggers fan-out, so every post is delivered once per stream record.
type Handler struct {
	fanout FanOuter
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(fanout FanOuter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		fanout: fanout,
		logger: logger,
	}
}

// HandlePostStream processes a batch of posts table stream records.
// This function is designed to be used as an AWS Lambda handler with
// ReportBatchItemFailures enabled: failed records are returned by sequence
// number and retried. Fan-out is idempotent, so retrying a record that was
// partly delivered only rewrites existing pointers.
func (h *Handler) HandlePostStream(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var resp events.DynamoDBEventResponse
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"sequence", record.Change.SequenceNumber,
				"error", err,
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{
				ItemIdentifier: record.Change.SequenceNumber,
			})
		}
	}
	return resp, nil
}

// processRecord fans out the post announced by a single stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "INSERT" {
		return nil
	}
	if table := tableFromARN(record.EventSourceArn); table != "" && !strings.HasSuffix(table, "."+post.Table) {
		return nil
	}

	image := record.Change.NewImage
	if getStringAttr(image, "family") != post.Family || getStringAttr(image, "qualifier") != post.ColUserID {
		return nil
	}

	ev := feed.PostPublished{
		Key:       getStringAttr(image, "row"),
		AuthorID:  string(getBinaryAttr(image, "value")),
		Timestamp: getNumberAttr(image, "ts"),
	}
	if ev.Key == "" || ev.AuthorID == "" || ev.Timestamp <= 0 {
		h.logger.Warn("skipping malformed post record",
			"eventID", record.EventID,
			"post", ev.Key,
		)
		return nil
	}

	res, err := h.fanout.FanOut(ctx, ev)
	if err != nil {
		return fmt.Errorf("fan out %s: %w", ev.Key, err)
	}
	if res.Partial() {
		return fmt.Errorf("fan out %s: %d of %d followers failed", ev.Key, len(res.Failed), res.Attempted)
	}

	h.logger.Debug("post fanned out",
		"post", ev.Key,
		"author", ev.AuthorID,
		"delivered", res.Delivered,
	)
	return nil
}

// tableFromARN extracts the table name from a stream ARN of the form
// arn:aws:dynamodb:<region>:<account>:table/<name>/stream/<label>.
func tableFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// getBinaryAttr extracts a binary attribute from a DynamoDB stream image.
func getBinaryAttr(image map[string]events.DynamoDBAttributeValue, key string) []byte {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeBinary {
		return v.Binary()
	}
	return nil
}
