package monitorui_test

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/exp/teatest"

	"taskexec/internal/pubsub"
	"taskexec/internal/taskexec/monitorui"
	"taskexec/internal/taskexec/task"
)

func TestModel_RendersTaskStateTransitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := pubsub.NewBroker[task.Event]()
	defer events.Close()

	model := monitorui.New(ctx, events)
	tm := teatest.NewTestModel(t, &model, teatest.WithInitialTermSize(80, 24))

	events.Publish(pubsub.UpdatedEvent, task.Event{TaskID: "t1", State: task.StateRunning})

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return contains(out, "t1")
	}, teatest.WithDuration(time.Second))

	tm.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	tm.WaitFinished(t, teatest.WithFinalTimeout(time.Second))
}

func TestModel_HelpToggle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := pubsub.NewBroker[task.Event]()
	defer events.Close()

	model := monitorui.New(ctx, events)
	tm := teatest.NewTestModel(t, &model, teatest.WithInitialTermSize(80, 24))

	tm.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("?")})

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return contains(out, "toggle this help")
	}, teatest.WithDuration(time.Second))

	tm.Quit()
	tm.WaitFinished(t, teatest.WithFinalTimeout(time.Second))
}

func contains(haystack []byte, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(string(haystack), needle) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
