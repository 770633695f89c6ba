package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/ripple/feed"
	"github.com/jacentio/ripple/timeline"
)

// --- getStringAttr Tests ---

func TestGetStringAttr(t *testing.T) {
	tests := []struct {
		name     string
		image    map[string]events.DynamoDBAttributeValue
		expected string
	}{
		{"existing", map[string]events.DynamoDBAttributeValue{"row": events.NewStringAttribute("4_u1_9")}, "4_u1_9"},
		{"missing key", map[string]events.DynamoDBAttributeValue{"other": events.NewStringAttribute("x")}, ""},
		{"empty image", map[string]events.DynamoDBAttributeValue{}, ""},
		{"nil image", nil, ""},
		{"empty value", map[string]events.DynamoDBAttributeValue{"row": events.NewStringAttribute("")}, ""},
		{"unicode", map[string]events.DynamoDBAttributeValue{"row": events.NewStringAttribute("0_张三_1")}, "0_张三_1"},
		{"wrong type", map[string]events.DynamoDBAttributeValue{"row": events.NewNumberAttribute("42")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getStringAttr(tt.image, "row"); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

// --- getNumberAttr Tests ---

func TestGetNumberAttr(t *testing.T) {
	tests := []struct {
		name     string
		image    map[string]events.DynamoDBAttributeValue
		expected int64
	}{
		{"valid", map[string]events.DynamoDBAttributeValue{"ts": events.NewNumberAttribute("1704067200000")}, 1704067200000},
		{"zero", map[string]events.DynamoDBAttributeValue{"ts": events.NewNumberAttribute("0")}, 0},
		{"negative", map[string]events.DynamoDBAttributeValue{"ts": events.NewNumberAttribute("-100")}, -100},
		{"max int64", map[string]events.DynamoDBAttributeValue{"ts": events.NewNumberAttribute("9223372036854775807")}, 9223372036854775807},
		{"missing key", map[string]events.DynamoDBAttributeValue{"other": events.NewNumberAttribute("42")}, 0},
		{"nil image", nil, 0},
		{"string attribute", map[string]events.DynamoDBAttributeValue{"ts": events.NewStringAttribute("not-a-number")}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getNumberAttr(tt.image, "ts"); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

// --- getBinaryAttr Tests ---

func TestGetBinaryAttr(t *testing.T) {
	tests := []struct {
		name     string
		image    map[string]events.DynamoDBAttributeValue
		expected string
	}{
		{"valid", map[string]events.DynamoDBAttributeValue{"value": events.NewBinaryAttribute([]byte("u1"))}, "u1"},
		{"missing key", map[string]events.DynamoDBAttributeValue{}, ""},
		{"nil image", nil, ""},
		{"string attribute", map[string]events.DynamoDBAttributeValue{"value": events.NewStringAttribute("u1")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(getBinaryAttr(tt.image, "value")); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

// --- tableFromARN Tests ---

func TestTableFromARN(t *testing.T) {
	tests := []struct {
		arn      string
		expected string
	}{
		{"arn:aws:dynamodb:eu-west-1:123456789012:table/ripple.t_weibo/stream/2024-01-01T00:00:00.000", "ripple.t_weibo"},
		{"arn:aws:dynamodb:eu-west-1:123456789012:table/ripple.t_weibo", "ripple.t_weibo"},
		{"", ""},
		{"not-an-arn", ""},
	}

	for _, tt := range tests {
		t.Run(tt.arn, func(t *testing.T) {
			if got := tableFromARN(tt.arn); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

// --- processRecord Tests ---

type recordingFanOuter struct {
	events []feed.PostPublished
	result timeline.Result
	err    error
}

func (r *recordingFanOuter) FanOut(_ context.Context, ev feed.PostPublished) (timeline.Result, error) {
	r.events = append(r.events, ev)
	return r.result, r.err
}

func postRecord(eventName, family, qualifier string) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventID:        "ev-1",
		EventName:      eventName,
		EventSourceArn: "arn:aws:dynamodb:eu-west-1:123456789012:table/ripple.t_weibo/stream/label",
		Change: events.DynamoDBStreamRecord{
			SequenceNumber: "100",
			NewImage: map[string]events.DynamoDBAttributeValue{
				"row":       events.NewStringAttribute("4_u1_9223372036854775707"),
				"family":    events.NewStringAttribute(family),
				"qualifier": events.NewStringAttribute(qualifier),
				"ts":        events.NewNumberAttribute("100"),
				"value":     events.NewBinaryAttribute([]byte("u1")),
			},
		},
	}
}

func TestProcessRecord_SkipsIrrelevantRecords(t *testing.T) {
	otherTable := postRecord("INSERT", "cf1", "userid")
	otherTable.EventSourceArn = "arn:aws:dynamodb:eu-west-1:123456789012:table/ripple.t_user_weibo_list/stream/label"

	tests := []struct {
		name   string
		record events.DynamoDBEventRecord
	}{
		{"MODIFY", postRecord("MODIFY", "cf1", "userid")},
		{"REMOVE", postRecord("REMOVE", "cf1", "userid")},
		{"title column", postRecord("INSERT", "cf1", "title")},
		{"other family", postRecord("INSERT", "cf2", "userid")},
		{"other table", otherTable},
		{"empty image", events.DynamoDBEventRecord{EventName: "INSERT"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fanout := &recordingFanOuter{}
			h := NewHandler(fanout, nil)
			if err := h.processRecord(context.Background(), tt.record); err != nil {
				t.Errorf("expected no error, got %v", err)
			}
			if len(fanout.events) != 0 {
				t.Errorf("expected no fan-out, got %v", fanout.events)
			}
		})
	}
}

func TestProcessRecord_FansOutAuthorCell(t *testing.T) {
	fanout := &recordingFanOuter{result: timeline.Result{Attempted: 2, Delivered: 2}}
	h := NewHandler(fanout, nil)

	if err := h.processRecord(context.Background(), postRecord("INSERT", "cf1", "userid")); err != nil {
		t.Fatal(err)
	}
	if len(fanout.events) != 1 {
		t.Fatalf("expected 1 fan-out, got %d", len(fanout.events))
	}
	expected := feed.PostPublished{Key: "4_u1_9223372036854775707", AuthorID: "u1", Timestamp: 100}
	if fanout.events[0] != expected {
		t.Errorf("expected %+v, got %+v", expected, fanout.events[0])
	}
}

func TestProcessRecord_PartialFanoutFails(t *testing.T) {
	fanout := &recordingFanOuter{result: timeline.Result{Attempted: 2, Delivered: 1, Failed: []string{"u2"}}}
	h := NewHandler(fanout, nil)

	if err := h.processRecord(context.Background(), postRecord("INSERT", "cf1", "userid")); err == nil {
		t.Error("expected error for partial fan-out")
	}
}

func TestProcessRecord_FanoutError(t *testing.T) {
	cause := errors.New("boom")
	fanout := &recordingFanOuter{err: cause}
	h := NewHandler(fanout, nil)

	err := h.processRecord(context.Background(), postRecord("INSERT", "cf1", "userid"))
	if !errors.Is(err, cause) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
}

// --- Benchmark Tests ---

func BenchmarkGetStringAttr(b *testing.B) {
	image := map[string]events.DynamoDBAttributeValue{
		"row": events.NewStringAttribute("4_u1_9223372036854775707"),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		getStringAttr(image, "row")
	}
}

func BenchmarkGetNumberAttr(b *testing.B) {
	image := map[string]events.DynamoDBAttributeValue{
		"ts": events.NewNumberAttribute("1704067200000"),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		getNumberAttr(image, "ts")
	}
}
