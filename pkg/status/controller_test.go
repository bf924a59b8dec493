package status

import (
	"errors"
	"testing"
	"time"

	"github.com/alantheprice/webforge/pkg/events"
	"github.com/alantheprice/webforge/pkg/generation"
	"github.com/alantheprice/webforge/pkg/health"
	"github.com/alantheprice/webforge/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthySnapshot() *health.Snapshot {
	return &health.Snapshot{
		Status:     health.StatusHealthy,
		BackendURL: "http://localhost:11434",
		Models: []health.ModelStatus{
			{Name: "llama3.2:3b", Available: true},
			{Name: "mistral:latest", Available: false},
		},
	}
}

func request(description string) generation.Request {
	return generation.Request{Description: description, ModelName: "llama3.2:3b", Kind: generation.KindHTML}
}

func readyController(t *testing.T) (*Controller, <-chan events.UIEvent) {
	t.Helper()
	bus := events.NewEventBus()
	ch := bus.Subscribe("test")
	c := NewController(bus, nil)
	c.HealthSucceeded(healthySnapshot())
	require.Equal(t, StatusReady, c.Status())
	drain(ch)
	return c, ch
}

func drain(ch <-chan events.UIEvent) []events.UIEvent {
	var out []events.UIEvent
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-time.After(20 * time.Millisecond):
			return out
		}
	}
}

func typesOf(evs []events.UIEvent) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func TestInitialState(t *testing.T) {
	c := NewController(nil, nil)
	st := c.State()
	assert.Equal(t, StatusInitializing, st.Status)
	assert.False(t, st.BackendHealthy)
	assert.False(t, c.CanGenerate("llama3.2:3b"))
}

// Scenario A: healthy backend, successful streaming generation.
func TestHappyPath(t *testing.T) {
	c, ch := readyController(t)
	assert.True(t, c.CanGenerate("llama3.2:3b"))

	require.NoError(t, c.BeginGeneration(request("A landing page for a coffee shop")))
	assert.Equal(t, StatusLoading, c.Status())
	assert.Equal(t, "Generating HTML...", c.State().Message)
	assert.False(t, c.CanGenerate("llama3.2:3b"))

	c.HandleEvent(generation.StatusEvent{Message: "Received 512 characters"})
	assert.Equal(t, StatusLoading, c.Status())
	assert.Equal(t, "Received 512 characters", c.State().Message)

	c.HandleEvent(generation.CompleteEvent{Kind: generation.KindHTML, Payload: generation.Payload{Primary: "<div/>"}})
	st := c.State()
	assert.Equal(t, StatusReady, st.Status)
	assert.Empty(t, st.Error)

	evs := drain(ch)
	assert.Equal(t, []string{
		events.EventTypeStatusChanged,
		events.EventTypeStatusChanged,
		events.EventTypeNotification,
	}, typesOf(evs))
}

// Scenario B: backend unreachable at startup.
func TestHealthFailure(t *testing.T) {
	bus := events.NewEventBus()
	ch := bus.Subscribe("test")
	c := NewController(bus, nil)

	c.HealthFailed(utils.NewTransportError("Cannot connect to backend at http://localhost:8000/api/ollama", errors.New("refused")))

	st := c.State()
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, "Cannot connect to backend at http://localhost:8000/api/ollama", st.Error)
	assert.False(t, c.CanGenerate("llama3.2:3b"))

	err := c.BeginGeneration(request("anything"))
	require.Error(t, err)
	assert.True(t, utils.IsValidationError(err))
	assert.Equal(t, StatusError, c.Status())

	evs := drain(ch)
	require.NotEmpty(t, evs)
	assert.Equal(t, events.EventTypeStatusChanged, evs[0].Type)
	assert.Equal(t, events.EventTypeNotification, evs[1].Type)
	assert.Equal(t, events.LevelError, evs[1].Data.(map[string]interface{})["level"])
}

func TestUnhealthySnapshotIsFailure(t *testing.T) {
	c := NewController(nil, nil)
	c.HealthSucceeded(&health.Snapshot{Status: health.StatusUnhealthy})

	st := c.State()
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, "Backend reported an unhealthy status", st.Error)
	assert.False(t, c.CanGenerate("llama3.2:3b"))
}

func TestEmptyPromptIsNoticeOnly(t *testing.T) {
	c, ch := readyController(t)

	err := c.BeginGeneration(request("   "))
	require.Error(t, err)
	assert.True(t, utils.IsValidationError(err))

	st := c.State()
	assert.Equal(t, StatusReady, st.Status)
	assert.Empty(t, st.Error)
	require.Len(t, st.Notifications, 1)
	assert.Equal(t, events.LevelWarning, st.Notifications[0].Level)

	assert.Equal(t, []string{events.EventTypeNotification}, typesOf(drain(ch)))
}

// Scenario D: the backend reports an error mid-stream.
func TestBackendErrorIsShownVerbatim(t *testing.T) {
	c, _ := readyController(t)
	require.NoError(t, c.BeginGeneration(request("x")))

	c.HandleEvent(generation.StatusEvent{Message: "Generating HTML..."})
	c.HandleEvent(generation.ErrorEvent{Err: utils.NewBackendError("model not found")})

	st := c.State()
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, "model not found", st.Error)
	assert.False(t, c.CanGenerate("llama3.2:3b"))

	c.Retry()
	assert.Equal(t, StatusInitializing, c.Status())
	assert.Empty(t, c.State().Error)
	c.HealthSucceeded(healthySnapshot())
	assert.True(t, c.CanGenerate("llama3.2:3b"))
}

func TestCanGenerateGuards(t *testing.T) {
	c, _ := readyController(t)

	assert.False(t, c.CanGenerate("mistral:latest"), "reported but unavailable")
	assert.False(t, c.CanGenerate("phi3:mini"), "not reported")
	assert.False(t, c.CanGenerate(""))

	err := c.BeginGeneration(generation.Request{Description: "x", ModelName: "mistral:latest", Kind: generation.KindHTML})
	require.Error(t, err)
	assert.Equal(t, "Model mistral:latest is not available on the backend", utils.UserMessage(err))
	assert.Equal(t, StatusReady, c.Status())
}

func TestBeginGenerationWhileLoadingIsRejected(t *testing.T) {
	c, _ := readyController(t)
	require.NoError(t, c.BeginGeneration(request("first")))

	err := c.BeginGeneration(request("second"))
	require.Error(t, err)
	assert.Equal(t, "A generation is already running", utils.UserMessage(err))
	assert.Equal(t, StatusLoading, c.Status())
}

func TestGenerationCancelled(t *testing.T) {
	c, _ := readyController(t)
	require.NoError(t, c.BeginGeneration(request("x")))

	c.GenerationCancelled()
	st := c.State()
	assert.Equal(t, StatusReady, st.Status)
	assert.Empty(t, st.Error)

	// cancelling outside loading changes nothing
	c.GenerationCancelled()
	assert.Equal(t, StatusReady, c.Status())
}

func TestEventsOutsideLoadingAreIgnored(t *testing.T) {
	c, _ := readyController(t)

	c.HandleEvent(generation.ErrorEvent{Err: utils.NewBackendError("late")})
	assert.Equal(t, StatusReady, c.Status())
	assert.Empty(t, c.State().Error)
}

func TestFailFromAnyState(t *testing.T) {
	for _, setup := range []func(*Controller){
		func(*Controller) {},
		func(c *Controller) { c.HealthSucceeded(healthySnapshot()) },
		func(c *Controller) {
			c.HealthSucceeded(healthySnapshot())
			_ = c.BeginGeneration(request("x"))
		},
	} {
		c := NewController(nil, nil)
		setup(c)
		c.Fail(errors.New("disk full"))
		assert.Equal(t, StatusError, c.Status())
		assert.Equal(t, "disk full", c.State().Error)
	}
}

func TestNotificationHistoryIsBounded(t *testing.T) {
	c, _ := readyController(t)
	for i := 0; i < maxNotifications+5; i++ {
		_ = c.BeginGeneration(request(""))
	}
	assert.Len(t, c.State().Notifications, maxNotifications)
}
