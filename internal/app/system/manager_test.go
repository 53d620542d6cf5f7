package system

import (
	"context"
	"errors"
	"testing"
)

type scriptedService struct {
	name     string
	startErr error
	events   *[]string
}

func (s *scriptedService) Name() string { return s.name }

func (s *scriptedService) Start(context.Context) error {
	*s.events = append(*s.events, "start:"+s.name)
	return s.startErr
}

func (s *scriptedService) Stop(context.Context) error {
	*s.events = append(*s.events, "stop:"+s.name)
	return nil
}

func TestStartStopOrder(t *testing.T) {
	var events []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&scriptedService{name: name, events: &events}); err != nil {
			t.Fatal(err)
		}
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("events = %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestStartFailureRollsBack(t *testing.T) {
	var events []string
	m := NewManager()
	boom := errors.New("boom")
	_ = m.Register(&scriptedService{name: "a", events: &events})
	_ = m.Register(&scriptedService{name: "b", startErr: boom, events: &events})
	_ = m.Register(&scriptedService{name: "c", events: &events})

	err := m.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("want start error, got %v", err)
	}

	want := []string{"start:a", "start:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	var events []string
	m := NewManager()
	if err := m.Register(&scriptedService{name: "a", events: &events}); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(&scriptedService{name: "a", events: &events}); err == nil {
		t.Fatal("duplicate name must be rejected")
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(&scriptedService{name: "b", events: &events}); err == nil {
		t.Fatal("registration after start must be rejected")
	}
}
