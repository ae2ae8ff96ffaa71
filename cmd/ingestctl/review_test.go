package main

import "testing"

func TestParseValue(t *testing.T) {
	if v, ok := parseValue("112.5").(float64); !ok || v != 112.5 {
		t.Fatalf("expected number, got %#v", parseValue("112.5"))
	}
	if v, ok := parseValue("true").(bool); !ok || !v {
		t.Fatalf("expected bool, got %#v", parseValue("true"))
	}
	if v := parseValue("2025-01-17"); v != "2025-01-17" {
		t.Fatalf("expected text, got %#v", v)
	}
	if v := parseValue(`"EUR"`); v != "EUR" {
		t.Fatalf("expected quoted json string, got %#v", v)
	}
}
