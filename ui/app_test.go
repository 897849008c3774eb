package ui

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joyshmitz/sbh/model"
)

var errTestPoll = errors.New("state file missing")

func TestGuardStylePicksExpectedColor(t *testing.T) {
	cases := []struct {
		status model.GuardStatus
		want   string
	}{
		{model.GuardPass, okStyle.Render("x")},
		{model.GuardFail, critStyle.Render("x")},
		{model.GuardUnknown, dimStyle.Render("x")},
	}
	for _, c := range cases {
		if got := guardStyle(c.status).Render("x"); got != c.want {
			t.Errorf("guardStyle(%v).Render(x) = %q, want %q", c.status, got, c.want)
		}
	}
}

func TestModelInitEmitsPollAndTick(t *testing.T) {
	m := New("/nonexistent/state.json", nil)
	cmd := m.Init()
	if cmd == nil {
		t.Fatal("want a non-nil batch command from Init")
	}
}

func TestUpdateHandlesQuitKeys(t *testing.T) {
	m := New("", nil)
	msgs := []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyCtrlC},
		{Type: tea.KeyEsc},
	}
	for _, msg := range msgs {
		_, cmd := m.Update(msg)
		if cmd == nil {
			t.Errorf("key %q: want tea.Quit command, got nil", msg.String())
		}
	}
}

func TestUpdateStoresWindowSize(t *testing.T) {
	m := New("", nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	got := next.(Model)
	if got.width != 120 || got.height != 40 {
		t.Fatalf("want width=120 height=40, got width=%d height=%d", got.width, got.height)
	}
}

func TestUpdateRecordsPollError(t *testing.T) {
	m := New("", nil)
	next, _ := m.Update(pollMsg{err: errTestPoll})
	got := next.(Model)
	if got.lastErr != errTestPoll {
		t.Fatalf("want lastErr set, got %v", got.lastErr)
	}
}

func TestViewRendersErrorWhenNoSnapshotYet(t *testing.T) {
	m := New("", nil)
	next, _ := m.Update(pollMsg{err: errTestPoll})
	got := next.(Model)
	view := got.View()
	if view == "" {
		t.Fatal("want a non-empty view even with no snapshot")
	}
}
