package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"videorelay/pkg/video"
)

func TestParseInvocation_OperationOrder(t *testing.T) {
	t.Parallel()

	inv, err := parseInvocation([]string{
		"-in", "https://x/a.mp4",
		"-out", "out/a.mp4",
		"-resize", "640x360",
		"-op", "-an",
		"-mp4",
		"-op", "-ss 5 -t 10",
	}, io.Discard)
	if err != nil {
		t.Fatalf("parseInvocation: %v", err)
	}

	want := [][]string{
		{"-vf", "scale=640:360"},
		{"-an"},
		video.ConvertToMP4().Args,
		{"-ss", "5", "-t", "10"},
	}
	if len(inv.Operations) != len(want) {
		t.Fatalf("operations = %v, want %d entries", inv.Operations, len(want))
	}
	for i, args := range want {
		if strings.Join(inv.Operations[i].Args, " ") != strings.Join(args, " ") {
			t.Errorf("operation %d = %v, want %v", i, inv.Operations[i].Args, args)
		}
	}
}

func TestParseInvocation_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"missing in", []string{"-out", "o"}},
		{"missing out", []string{"-in", "https://x/a.mp4"}},
		{"bad resize", []string{"-in", "https://x/a.mp4", "-out", "o", "-resize", "640"}},
		{"zero width", []string{"-in", "https://x/a.mp4", "-out", "o", "-resize", "0x360"}},
		{"empty op", []string{"-in", "https://x/a.mp4", "-out", "o", "-op", "  "}},
		{"positional", []string{"-in", "https://x/a.mp4", "-out", "o", "extra"}},
		{"unknown flag", []string{"-bogus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := parseInvocation(tt.args, io.Discard); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseInvocation_BoolOpFalse(t *testing.T) {
	t.Parallel()

	inv, err := parseInvocation([]string{"-in", "https://x/a.mp4", "-out", "o", "-mp4=false"}, io.Discard)
	if err != nil {
		t.Fatalf("parseInvocation: %v", err)
	}
	if len(inv.Operations) != 0 {
		t.Errorf("operations = %v, want none", inv.Operations)
	}
}

func TestRun_PrintsOutputURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req video.Request
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(video.Result{OutputURL: "https://cdn/" + req.OutputKey})
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := run([]string{"-api", srv.URL, "-key", "k", "-in", "https://x/a.mp4", "-out", "out/a.mp4"}, &stdout, &stderr)

	if code != exitSuccess {
		t.Fatalf("exit = %d, stderr = %s", code, stderr.String())
	}
	if got := strings.TrimSpace(stdout.String()); got != "https://cdn/out/a.mp4" {
		t.Errorf("stdout = %q", got)
	}
}

func TestRun_ServiceError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(video.ErrorResponse{Error: "failed to create machine"})
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := run([]string{"-api", srv.URL, "-in", "https://x/a.mp4", "-out", "o"}, &stdout, &stderr)

	if code != exitJobFailure {
		t.Errorf("exit = %d, want %d", code, exitJobFailure)
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty", stdout.String())
	}
	if !strings.Contains(stderr.String(), "failed to create machine") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRun_InvalidInvocation(t *testing.T) {
	t.Parallel()

	if code := run([]string{"-out", "o"}, io.Discard, io.Discard); code != exitInvalidInvocation {
		t.Errorf("exit = %d, want %d", code, exitInvalidInvocation)
	}
}
