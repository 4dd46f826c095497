package command

import "testing"

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"https://chat.example.com", "wss://chat.example.com/ws"},
		{"http://localhost:8080", "ws://localhost:8080/ws"},
		{"https://chat.example.com/", "wss://chat.example.com/ws"},
	}
	for _, tt := range tests {
		if got := websocketURL(tt.input); got != tt.expected {
			t.Errorf("websocketURL(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}
