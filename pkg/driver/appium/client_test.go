package appium

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
)

// writeJSON encodes data as JSON to the response writer.
func writeJSON(w http.ResponseWriter, data interface{}) {
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func connectedClient(url string) *Client {
	c := NewClient(url)
	c.sessionID = "test-session"
	return c
}

func TestClient_Connect(t *testing.T) {
	var gotCaps map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session" && r.Method == http.MethodPost {
			var body struct {
				Capabilities struct {
					AlwaysMatch map[string]interface{} `json:"alwaysMatch"`
				} `json:"capabilities"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			gotCaps = body.Capabilities.AlwaysMatch
			writeJSON(w, map[string]interface{}{
				"value": map[string]interface{}{
					"sessionId":    "test-session-123",
					"capabilities": map[string]interface{}{"platformName": "Android"},
				},
			})
			return
		}
		if r.URL.Path == "/session/test-session-123/window/rect" {
			writeJSON(w, map[string]interface{}{
				"value": map[string]interface{}{"width": 1080.0, "height": 1920.0},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	id, err := client.Connect(context.Background(), core.DefaultCapabilities().ToW3C())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if id != "test-session-123" || client.SessionID() != id {
		t.Errorf("SessionID() = %q, want %q", client.SessionID(), "test-session-123")
	}
	if gotCaps["platformName"] != "Android" || gotCaps["appium:automationName"] != "UiAutomator2" {
		t.Errorf("alwaysMatch = %v", gotCaps)
	}
	if w, h := client.ScreenSize(); w != 1080 || h != 1920 {
		t.Errorf("ScreenSize() = %dx%d, want 1080x1920", w, h)
	}
}

func TestClient_ConnectMissingSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{}})
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Connect(context.Background(), map[string]interface{}{})
	if !errors.Is(err, core.ErrTransientDevice) {
		t.Errorf("Connect() error = %v, want ErrTransientDevice", err)
	}
}

func TestClient_Disconnect(t *testing.T) {
	deleteCalled := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session/test-session" && r.Method == http.MethodDelete {
			deleteCalled = true
			writeJSON(w, map[string]interface{}{"value": nil})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := connectedClient(server.URL)
	if err := client.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if !deleteCalled {
		t.Error("DELETE /session was not called")
	}
	if client.SessionID() != "" {
		t.Error("sessionID should be cleared after disconnect")
	}
}

func TestClient_FindElement(t *testing.T) {
	tests := []struct {
		name  string
		value map[string]interface{}
		want  string
	}{
		{"w3c", map[string]interface{}{w3cElementKey: "elem-123"}, "elem-123"},
		{"legacy", map[string]interface{}{"ELEMENT": "elem-456"}, "elem-456"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/session/test-session/element" && r.Method == http.MethodPost {
					writeJSON(w, map[string]interface{}{"value": tt.value})
					return
				}
				w.WriteHeader(http.StatusNotFound)
			}))
			defer server.Close()

			id, err := connectedClient(server.URL).FindElement(context.Background(), "accessibility id", "myButton")
			if err != nil {
				t.Fatalf("FindElement failed: %v", err)
			}
			if id != tt.want {
				t.Errorf("FindElement() = %q, want %q", id, tt.want)
			}
		})
	}
}

func TestClient_WebDriverErrors(t *testing.T) {
	tests := []struct {
		errType string
		want    *core.ExecutionError
	}{
		{"no such element", core.ErrElementNotFound},
		{"stale element reference", core.ErrElementNotFound},
		{"timeout", core.ErrActionTimeout},
		{"invalid session id", core.ErrNotConnected},
		{"unknown error", core.ErrTransientDevice},
	}

	for _, tt := range tests {
		t.Run(tt.errType, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				writeJSON(w, map[string]interface{}{
					"value": map[string]interface{}{"error": tt.errType, "message": "boom"},
				})
			}))
			defer server.Close()

			_, err := connectedClient(server.URL).FindElement(context.Background(), "id", "missing")
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want.Code)
			}
		})
	}
}

func TestClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := connectedClient(url).Source(context.Background())
	if !errors.Is(err, core.ErrTransientDevice) {
		t.Errorf("Source() error = %v, want ErrTransientDevice", err)
	}
}

func TestClient_Screenshot(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4E, 0x47}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session/test-session/screenshot" {
			writeJSON(w, map[string]interface{}{"value": base64.StdEncoding.EncodeToString(png)})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	got, err := connectedClient(server.URL).Screenshot(context.Background())
	if err != nil {
		t.Fatalf("Screenshot failed: %v", err)
	}
	if string(got) != string(png) {
		t.Errorf("Screenshot() = %v, want %v", got, png)
	}
}

func TestClient_Back(t *testing.T) {
	var keycode float64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session/test-session/appium/device/press_keycode" {
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			keycode, _ = body["keycode"].(float64)
			writeJSON(w, map[string]interface{}{"value": nil})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if err := connectedClient(server.URL).Back(context.Background()); err != nil {
		t.Fatalf("Back failed: %v", err)
	}
	if keycode != 4 {
		t.Errorf("keycode = %v, want 4", keycode)
	}
}
