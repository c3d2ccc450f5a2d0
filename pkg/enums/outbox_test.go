package enums

import "testing"

func TestParseOutboxTypes(t *testing.T) {
	if evt, err := ParseOutboxEventType("order_created"); err != nil || evt != EventOrderCreated {
		t.Fatalf("expected order_created, got %q err=%v", evt, err)
	}
	if _, err := ParseOutboxEventType("order_paid"); err == nil {
		t.Fatalf("expected unknown event type to fail")
	}
	if agg, err := ParseOutboxAggregateType("order"); err != nil || !agg.IsValid() {
		t.Fatalf("expected order aggregate, got %q err=%v", agg, err)
	}
	if OutboxAggregateType("store").IsValid() {
		t.Fatalf("store is not a valid aggregate")
	}
}

func TestOutboxDLQReasonIsValid(t *testing.T) {
	if !OutboxDLQReasonMaxAttempts.IsValid() || !OutboxDLQReasonNonRetryable.IsValid() {
		t.Fatalf("expected known reasons to be valid")
	}
	if OutboxDLQErrorReason("timeout").IsValid() {
		t.Fatalf("unexpected valid reason")
	}
}
