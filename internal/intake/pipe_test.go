package intake

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseSignalJSON(t *testing.T) {
	raw := map[string]interface{}{
		"device":  "sos-a101",
		"kind":    "SOS_Button",
		"flat":    "A-101",
		"ts":      "2025-06-14T10:20:00Z",
		"message": "button pressed",
		"battery": float64(87),
	}

	data, _ := json.Marshal(raw)
	sig, err := parseSignalJSON(data)
	if err != nil {
		t.Fatalf("parseSignalJSON error: %v", err)
	}

	if sig.DeviceTag != "sos-a101" {
		t.Errorf("DeviceTag = %q", sig.DeviceTag)
	}
	if sig.Kind != "sos_button" {
		t.Errorf("Kind = %q, want lower-cased", sig.Kind)
	}
	if sig.Flat != "A-101" {
		t.Errorf("Flat = %q", sig.Flat)
	}
	if !sig.At.Equal(time.Date(2025, 6, 14, 10, 20, 0, 0, time.UTC)) {
		t.Errorf("At = %v", sig.At)
	}
	if sig.Message != "button pressed" {
		t.Errorf("Message = %q", sig.Message)
	}
	if sig.Fields["battery"] != "87" {
		t.Errorf("battery field = %q, want %q", sig.Fields["battery"], "87")
	}
}

func TestParseSignalJSONUnixTimestamp(t *testing.T) {
	sig, err := parseSignalJSON([]byte(`{"device_tag":"gas-c302","type":"gas","timestamp":1718360400}`))
	if err != nil {
		t.Fatal(err)
	}
	if sig.At.Unix() != 1718360400 {
		t.Errorf("At = %v", sig.At)
	}
	if sig.Kind != "gas" {
		t.Errorf("Kind = %q", sig.Kind)
	}
}

func TestParseSignalJSONMissingTimestamp(t *testing.T) {
	sig, err := parseSignalJSON([]byte(`{"device":"x","ts":"yesterday"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !sig.At.IsZero() {
		t.Errorf("unparseable ts should yield zero time, got %v", sig.At)
	}
}

func TestParseSignalJSONInvalid(t *testing.T) {
	if _, err := parseSignalJSON([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := parseSignalJSON([]byte(`{"flat":"A-101"}`)); err == nil {
		t.Error("expected error for signal without device or kind")
	}
}

func TestReaderSource(t *testing.T) {
	input := strings.Join([]string{
		`{"device":"sos-a101","kind":"sos"}`,
		`garbage`,
		``,
		`{"device":"smoke-b205","kind":"smoke"}`,
	}, "\n")

	src := NewReaderSource(strings.NewReader(input))
	ch, err := src.Signals(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for sig := range ch {
		got = append(got, sig.DeviceTag)
	}
	if len(got) != 2 || got[0] != "sos-a101" || got[1] != "smoke-b205" {
		t.Errorf("signals = %v", got)
	}
}
