package rpc

import (
	"context"
	"testing"
)

func TestMetaHandlerPing(t *testing.T) {
	m := NewMetaHandler("conn-1", nil)
	ok, err := m.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if !ok {
		t.Fatal("expected Ping to return true")
	}
}

func TestMetaSchemaDispatchesConnectionID(t *testing.T) {
	m := NewMetaHandler("conn-42", map[string]any{"version": "v1"})
	target := NewTarget(MetaTargetID, m, MetaSchema())

	result, err := target.Call(context.Background(), Payload{Name: "connectionId"})
	if err != nil {
		t.Fatalf("Call connectionId: %v", err)
	}
	if result != "conn-42" {
		t.Fatalf("connectionId = %v, want %q", result, "conn-42")
	}
}

func TestMetaSchemaDispatchesServerInfo(t *testing.T) {
	info := map[string]any{"version": "v1"}
	m := NewMetaHandler("conn-1", info)
	target := NewTarget(MetaTargetID, m, MetaSchema())

	result, err := target.Call(context.Background(), Payload{Name: "serverInfo"})
	if err != nil {
		t.Fatalf("Call serverInfo: %v", err)
	}
	got, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", result)
	}
	if got["version"] != "v1" {
		t.Fatalf("serverInfo[version] = %v, want v1", got["version"])
	}
}

func TestMetaSchemaRejectsUnknownMethod(t *testing.T) {
	m := NewMetaHandler("conn-1", nil)
	target := NewTarget(MetaTargetID, m, MetaSchema())

	if _, err := target.Call(context.Background(), Payload{Name: "notReal"}); err == nil {
		t.Fatal("expected an error for an unregistered method name")
	}
}

func TestNewBaseConnectionBindsEvergreenMeta(t *testing.T) {
	info := NewContextInfo(nil, nil)
	bc, err := NewBaseConnection(info, discardLogger(), nil, map[string]any{"name": "quillcore"})
	if err != nil {
		t.Fatalf("NewBaseConnection: %v", err)
	}

	if !bc.Context().HasId(MetaTargetID) {
		t.Fatal("expected the meta target to be bound at connection open")
	}
}
