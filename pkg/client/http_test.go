package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGetDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q", got)
		}
		w.Write([]byte(`[{"symbol":"BTC/USDT"},{"symbol":"ETH/USDT"}]`))
	}))
	defer srv.Close()

	var out []map[string]string
	if err := NewHTTPClient(time.Second).Get(context.Background(), srv.URL, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(out) != 2 || out[1]["symbol"] != "ETH/USDT" {
		t.Errorf("unexpected body %v", out)
	}
}

func TestGetErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"status", http.StatusServiceUnavailable, "maintenance", "unexpected status code: 503"},
		{"json", http.StatusOK, "not json", "unmarshaling response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			var out []interface{}
			err := NewHTTPClient(0).Get(context.Background(), srv.URL, &out)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Get() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
