package rpc

import (
	"context"
	"testing"
	"time"
)

type greeter struct{}

func (g *greeter) Greet(ctx context.Context, name string) (string, error) {
	return "hello, " + name, nil
}

var greeterSchema = NewSchemaBuilder(&greeter{}).
	Method(MethodSpec{
		Name:           "greet",
		ArgsLoggable:   []bool{true},
		ResultLoggable: true,
		Invoke: func(ctx context.Context, recv any, args []any) (any, error) {
			return recv.(*greeter).Greet(ctx, args[0].(string))
		},
	}).
	Build()

func TestAddTargetAndCallDispatches(t *testing.T) {
	info := NewContextInfo(nil, nil)
	c := NewContext(info)

	g := &greeter{}
	target := NewTarget("g1", g, greeterSchema)
	if _, err := c.AddTarget(target); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	if !c.HasId("g1") {
		t.Fatal("expected HasId(g1) to be true after AddTarget")
	}

	resolved, err := c.GetAuthorizedTarget(context.Background(), "g1", nil)
	if err != nil {
		t.Fatalf("GetAuthorizedTarget: %v", err)
	}

	result, err := resolved.Call(context.Background(), Payload{Name: "greet", Args: []any{"world"}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != "hello, world" {
		t.Fatalf("result = %v, want %q", result, "hello, world")
	}
}

func TestAddTargetRejectsDuplicateID(t *testing.T) {
	info := NewContextInfo(nil, nil)
	c := NewContext(info)

	if _, err := c.AddTarget(NewTarget("dup", &greeter{}, greeterSchema)); err != nil {
		t.Fatalf("first AddTarget: %v", err)
	}
	if _, err := c.AddTarget(NewTarget("dup", &greeter{}, greeterSchema)); err == nil {
		t.Fatal("expected error adding a second target with a duplicate id")
	}
}

func TestCallUnknownMethodIsRejected(t *testing.T) {
	info := NewContextInfo(nil, nil)
	c := NewContext(info)

	target := NewTarget("g1", &greeter{}, greeterSchema)
	if _, err := c.AddTarget(target); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	resolved, _ := c.GetAuthorizedTarget(context.Background(), "g1", nil)

	if _, err := resolved.Call(context.Background(), Payload{Name: "_private"}); err == nil {
		t.Fatal("expected underscore-prefixed method to be rejected")
	}
	if _, err := resolved.Call(context.Background(), Payload{Name: "constructor"}); err == nil {
		t.Fatal("expected constructor to be rejected")
	}
	if _, err := resolved.Call(context.Background(), Payload{Name: "notAMethod"}); err == nil {
		t.Fatal("expected unregistered method name to be rejected")
	}
}

func TestGetAuthorizedTargetUnknownID(t *testing.T) {
	info := NewContextInfo(nil, nil)
	c := NewContext(info)

	if _, err := c.GetAuthorizedTarget(context.Background(), "never-bound", nil); err == nil {
		t.Fatal("expected an error resolving an id that was never bound")
	}
}

func TestGCIdleTargetsSkipsEvergreen(t *testing.T) {
	info := NewContextInfo(nil, nil)
	c := NewContext(info)
	c.SetIdleWindow(10 * time.Millisecond)

	if _, err := c.AddEvergreenTarget(NewTarget("meta", &greeter{}, greeterSchema)); err != nil {
		t.Fatalf("AddEvergreenTarget: %v", err)
	}
	if _, err := c.AddTarget(NewTarget("scratch", &greeter{}, greeterSchema)); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	removed := c.GCIdleTargets(time.Now())
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if !c.HasId("meta") {
		t.Fatal("evergreen target must survive idle GC")
	}
	if c.HasId("scratch") {
		t.Fatal("non-evergreen idle target should have been collected")
	}
}

func TestGetRemoteForReusesExistingBinding(t *testing.T) {
	info := NewContextInfo(nil, nil)
	c := NewContext(info)

	obj := &greeter{}
	first, err := c.GetRemoteFor(context.Background(), obj, greeterSchema)
	if err != nil {
		t.Fatalf("GetRemoteFor: %v", err)
	}
	second, err := c.GetRemoteFor(context.Background(), obj, greeterSchema)
	if err != nil {
		t.Fatalf("GetRemoteFor second call: %v", err)
	}
	if first.TargetID != second.TargetID {
		t.Fatalf("expected the same remote for the same object, got %q and %q", first.TargetID, second.TargetID)
	}
}
