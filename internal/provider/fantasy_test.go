package provider

import (
	"context"
	"testing"
)

func TestInferProvider(t *testing.T) {
	cases := map[string]string{
		"claude-sonnet-4-5": "anthropic",
		"gpt-4o":            "openai",
		"o3-mini":           "openai",
		"gemini-2.0-flash":  "google",
		"mistral-large":     "mistral",
		"mixtral-8x7b":      "mistral",
		"unknown-model":     "",
	}
	for model, want := range cases {
		if got := InferProvider(model); got != want {
			t.Errorf("InferProvider(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestConnect_UnknownProvider(t *testing.T) {
	_, err := Connect(context.Background(), EndpointConfig{Model: "unknown-model"})
	if err == nil {
		t.Fatal("expected error for undeterminable provider")
	}

	_, err = Connect(context.Background(), EndpointConfig{Provider: "bogus", Model: "x"})
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestConnect_CompatRequiresBaseURL(t *testing.T) {
	_, err := newEndpoint("ollama", "", "")
	if err == nil {
		t.Fatal("expected error when base_url is missing")
	}
}
