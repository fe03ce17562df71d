package models

import (
	"encoding/json"
	"testing"
)

func TestNewResponse_DecodeResult(t *testing.T) {
	env, err := NewResponse("req-1", Status{State: "Visible", PID: 42})
	if err != nil {
		t.Fatalf("NewResponse() error: %v", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var got MessageEnvelope
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if got.Type != TypeResponse || got.Response == nil {
		t.Fatalf("envelope = %+v, want response", got)
	}
	if got.Response.IsError() {
		t.Error("IsError() should be false")
	}

	var status Status
	if err := got.Response.Decode(&status); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if status.State != "Visible" || status.PID != 42 {
		t.Errorf("status = %+v", status)
	}
}

func TestNewErrorResponse(t *testing.T) {
	env := NewErrorResponse("req-2", CodeMethodNotFound, "unknown method: fly")

	if !env.Response.IsError() {
		t.Fatal("IsError() should be true")
	}
	if env.Response.GetError() != "unknown method: fly" {
		t.Errorf("GetError() = %q", env.Response.GetError())
	}
	if env.Response.Error.Code != CodeMethodNotFound {
		t.Errorf("Code = %d, want %d", env.Response.Error.Code, CodeMethodNotFound)
	}
}

func TestDecode_EmptyResult(t *testing.T) {
	r := &Response{ID: "x"}
	var ack Ack
	if err := r.Decode(&ack); err != nil {
		t.Errorf("Decode() on empty result = %v, want nil", err)
	}
}
