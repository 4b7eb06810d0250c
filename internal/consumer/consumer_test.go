package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/siem-platform/detect-service/internal/schema"
)

// fakeMsg records acknowledgment outcomes.
type fakeMsg struct {
	data  []byte
	acked bool
	naked bool
}

func (m *fakeMsg) Data() []byte { return m.data }
func (m *fakeMsg) Ack() error   { m.acked = true; return nil }
func (m *fakeMsg) Nak() error   { m.naked = true; return nil }

// stubEngine returns a fixed alert set and counts invocations.
type stubEngine struct {
	alerts []*schema.Alert
	calls  int
}

func (e *stubEngine) ProcessEvent(_ context.Context, _ *schema.Event) []*schema.Alert {
	e.calls++
	return e.alerts
}

// stubPublisher collects published alerts and can fail after n successes.
type stubPublisher struct {
	published []*schema.Alert
	failAfter int
	err       error
}

func (p *stubPublisher) Publish(_ context.Context, alert *schema.Alert) error {
	if p.err != nil && len(p.published) >= p.failAfter {
		return p.err
	}
	p.published = append(p.published, alert)
	return nil
}

func testAlert(tenant string) *schema.Alert {
	return &schema.Alert{
		TenantID:  tenant,
		AlertID:   uuid.New(),
		Timestamp: time.Now(),
		Severity:  8,
		RuleName:  "failed_login_threshold",
	}
}

func TestConsumer_HandleMessage_Success(t *testing.T) {
	engine := &stubEngine{alerts: []*schema.Alert{testAlert("t1"), testAlert("t1")}}
	pub := &stubPublisher{}
	c := New(DefaultConfig(), engine, pub)

	msg := &fakeMsg{data: []byte(`{"tenant_id":"t1","event_id":"e1","category":"auth"}`)}
	c.handleMessage(context.Background(), msg)

	if !msg.acked || msg.naked {
		t.Errorf("acked=%v naked=%v, want acked only", msg.acked, msg.naked)
	}
	if engine.calls != 1 {
		t.Errorf("engine called %d times, want 1", engine.calls)
	}
	if len(pub.published) != 2 {
		t.Errorf("published %d alerts, want 2", len(pub.published))
	}
	if got := c.Metrics(); got.Acked != 1 || got.Consumed != 1 {
		t.Errorf("Metrics() = %+v", got)
	}
}

func TestConsumer_HandleMessage_MalformedPayload(t *testing.T) {
	engine := &stubEngine{}
	c := New(DefaultConfig(), engine, &stubPublisher{})

	msg := &fakeMsg{data: []byte(`{broken`)}
	c.handleMessage(context.Background(), msg)

	if !msg.naked || msg.acked {
		t.Errorf("acked=%v naked=%v, want naked only", msg.acked, msg.naked)
	}
	if engine.calls != 0 {
		t.Errorf("engine called %d times for a malformed payload, want 0", engine.calls)
	}
	if got := c.Metrics(); got.Naked != 1 {
		t.Errorf("Metrics().Naked = %d, want 1", got.Naked)
	}
}

func TestConsumer_HandleMessage_NoAlerts(t *testing.T) {
	c := New(DefaultConfig(), &stubEngine{}, &stubPublisher{})

	msg := &fakeMsg{data: []byte(`{"tenant_id":"t1","event_id":"e1"}`)}
	c.handleMessage(context.Background(), msg)

	if !msg.acked {
		t.Error("alert-free event was not acked")
	}
}

func TestConsumer_HandleMessage_PublishFailure(t *testing.T) {
	engine := &stubEngine{alerts: []*schema.Alert{testAlert("t1"), testAlert("t1")}}
	pub := &stubPublisher{failAfter: 1, err: errors.New("sink unreachable")}
	c := New(DefaultConfig(), engine, pub)

	msg := &fakeMsg{data: []byte(`{"tenant_id":"t1","event_id":"e1"}`)}
	c.handleMessage(context.Background(), msg)

	if !msg.naked || msg.acked {
		t.Errorf("acked=%v naked=%v after publish failure, want naked only", msg.acked, msg.naked)
	}
	if len(pub.published) != 1 {
		t.Errorf("published %d alerts before the failure, want 1", len(pub.published))
	}
}

func TestConsumer_StopIsIdempotent(t *testing.T) {
	c := New(DefaultConfig(), &stubEngine{}, &stubPublisher{})

	c.Stop()
	c.Stop()

	select {
	case <-c.done:
	default:
		t.Error("done channel not closed after Stop")
	}
}

func TestConsumer_IsConnected_BeforeStart(t *testing.T) {
	c := New(DefaultConfig(), &stubEngine{}, &stubPublisher{})
	if c.IsConnected() {
		t.Error("IsConnected() = true before Start")
	}
}
