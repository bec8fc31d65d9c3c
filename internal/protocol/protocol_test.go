package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeRequest(t *testing.T) {
	env, err := Decode([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !env.IsRequest() || env.IsNotification() || env.IsResponse() {
		t.Fatalf("expected request, got %+v", env)
	}
	if env.Method != "tools/list" {
		t.Fatalf("Method = %q", env.Method)
	}
}

func TestDecodeNotification(t *testing.T) {
	env, err := Decode([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !env.IsNotification() || env.IsRequest() || env.IsResponse() {
		t.Fatalf("expected notification, got %+v", env)
	}
}

func TestDecodeResponse(t *testing.T) {
	env, err := Decode([]byte(`{"jsonrpc":"2.0","id":7,"result":{"ok":true}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !env.IsResponse() || env.IsRequest() || env.IsNotification() {
		t.Fatalf("expected response, got %+v", env)
	}
}

func TestIDRoundTripsAsRawMessage(t *testing.T) {
	// A string ID must survive unchanged, not get coerced to a number or back.
	env, err := Decode([]byte(`{"jsonrpc":"2.0","id":"abc-123","method":"ping"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	resp := Success(env.ID, json.RawMessage(`{}`))
	out, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != `{"jsonrpc":"2.0","id":"abc-123","result":{}}` {
		t.Fatalf("round trip mismatch: %s", out)
	}
}

func TestFailProducesErrorObject(t *testing.T) {
	resp := Fail(json.RawMessage("1"), CodeToolNotFound, "tool not found", nil)
	if resp.Error == nil || resp.Error.Code != CodeToolNotFound {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Result != nil {
		t.Fatalf("Fail response should not carry a result")
	}
}
