package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kalambet/interviewd/internal/config"
)

type recordedRequest struct {
	Method      string
	Path        string
	Body        string
	Auth        string
	ContentType string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			Body:        body.String(),
			Auth:        r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"success":false,"message":"Registration not found","error":{"message":"Registration not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

const submitResponse = `{"success":true,"message":"Registration submitted successfully","data":{"id":"abc","registrationId":"REG-1","status":"processing","sessionToken":"session_x","summary":"Go developer."}}`

func TestRegister_Text(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/registrations": submitResponse,
	})

	result, err := submitRegistration(ctx, ts.client(), registerFlags{
		name:           "Ada",
		email:          "ada@example.com",
		registrationID: "REG-1",
		text:           "Analytical engine programmer",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Data.SessionToken != "session_x" || result.Data.Summary != "Go developer." {
		t.Errorf("result = %+v", result.Data)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.ContentType != "application/json" {
		t.Errorf("content type = %q", r.ContentType)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["registrationId"] != "REG-1" || body["extractedText"] != "Analytical engine programmer" {
		t.Errorf("body = %v", body)
	}
}

func TestRegister_File(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/submit-interview-form": submitResponse,
	})

	path := filepath.Join(t.TempDir(), "cv.txt")
	if err := os.WriteFile(path, []byte("resume contents"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := submitRegistration(ctx, ts.client(), registerFlags{
		name:           "Ada",
		email:          "ada@example.com",
		registrationID: "REG-1",
		file:           path,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := ts.requests[0]
	if !strings.HasPrefix(r.ContentType, "multipart/form-data; boundary=") {
		t.Errorf("content type = %q", r.ContentType)
	}
	for _, want := range []string{`name="resume"; filename="cv.txt"`, "resume contents", `name="registrationId"`} {
		if !strings.Contains(r.Body, want) {
			t.Errorf("multipart body missing %q", want)
		}
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", r.Auth)
	}
}

func TestRegister_MissingFile(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := submitRegistration(ctx, ts.client(), registerFlags{
		name: "Ada", email: "ada@example.com", registrationID: "REG-1",
		file: filepath.Join(t.TempDir(), "nope.docx"),
	})
	if err == nil || !strings.Contains(err.Error(), "reading resume") {
		t.Errorf("err = %v", err)
	}
	if len(ts.requests) != 0 {
		t.Errorf("expected no requests, got %d", len(ts.requests))
	}
}

func TestRegisterFlags_Validate(t *testing.T) {
	base := registerFlags{name: "Ada", email: "ada@example.com", registrationID: "REG-1"}

	tests := []struct {
		name    string
		edit    func(f *registerFlags)
		wantErr bool
	}{
		{"text only", func(f *registerFlags) { f.text = "x" }, false},
		{"file only", func(f *registerFlags) { f.file = "cv.docx" }, false},
		{"both", func(f *registerFlags) { f.text, f.file = "x", "cv.docx" }, true},
		{"neither", func(f *registerFlags) {}, true},
		{"missing email", func(f *registerFlags) { f.text, f.email = "x", "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := base
			tt.edit(&f)
			if err := f.validate(); (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegisterCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"register"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error when no flags provided")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestRegistrationsStatusCommand_InvalidStatus(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"registrations", "status", "abc", "archived"})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid status") {
		t.Errorf("err = %v, want invalid status", err)
	}
}

func TestRegistrationsList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/registrations": `{"success":true,"data":[{"id":"a","registrationId":"REG-1","name":"Ada","email":"ada@example.com","status":"completed","submittedAt":"2025-01-01T10:00:00Z"}]}`,
	})

	resp, err := ts.client().get(ctx, "/api/registrations?limit=5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var list struct {
		Data []registrationRow `json:"data"`
	}
	if err := decodeJSON(resp, &list); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(list.Data) != 1 || list.Data[0].Status != "completed" {
		t.Fatalf("list = %+v", list.Data)
	}
	if ts.requests[0].Path != "/api/registrations?limit=5" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestFormatRegistration(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	line := formatRegistration(registrationRow{
		RegistrationID: "REG-1",
		Name:           "Ada",
		Email:          "ada@example.com",
		Status:         "in_progress",
		SubmittedAt:    time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
	})
	for _, want := range []string{"REG-1", "in_progress", "Ada <ada@example.com>"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestStatusCommand_Running(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/health": `{"status":"OK","message":"Server is running"}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/api/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status code = %d, want 200", resp.StatusCode)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/api/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/health": `{"status":"OK"}`,
	})

	client := ts.client()
	client.token = "my-secret-token"
	resp, err := client.get(ctx, "/api/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	client.token = ""
	resp, err = client.get(ctx, "/api/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if ts.requests[0].Auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want %q", ts.requests[0].Auth, "Bearer my-secret-token")
	}
	if ts.requests[1].Auth != "" {
		t.Errorf("auth without token = %q, want empty", ts.requests[1].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	resp, err := ts.client().get(ctx, "/api/registrations/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if err.Error() != "server returned 404: Registration not found" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestDecodeJSON_PlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	err = decodeJSON(resp, &struct{}{})
	if err == nil || !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "upstream exploded") {
		t.Errorf("err = %v", err)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.LLM.Model = "phi3.5"
	cfg.Admin.JWTSecret = "do-not-print"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
		if k.Value == "do-not-print" {
			t.Errorf("ShowAll exposes secret %s", k.Key)
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := hashPassword("correct horse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("correct horse")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}

	if _, err := hashPassword(""); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestAdminHashPasswordCommand_Stdin(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader("battery staple\n"))
	rootCmd.SetOut(&out)
	defer func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	}()

	rootCmd.SetArgs([]string{"admin", "hash-password"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hash := strings.TrimSpace(out.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("battery staple")); err != nil {
		t.Errorf("hash %q does not verify: %v", hash, err)
	}
}

func TestParseLogLevel(t *testing.T) {
	if got := parseLogLevel("debug").String(); got != "DEBUG" {
		t.Errorf("debug = %s", got)
	}
	if got := parseLogLevel("WARN").String(); got != "WARN" {
		t.Errorf("WARN = %s", got)
	}
	if got := parseLogLevel("loud").String(); got != "INFO" {
		t.Errorf("unknown = %s", got)
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "nested"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error after removal")
	}
}

func TestCountLabel(t *testing.T) {
	tests := []struct {
		count, limit int
		want         string
	}{
		{0, 100, "0"},
		{42, 100, "42"},
		{100, 100, "100+"},
	}
	for _, tt := range tests {
		if got := countLabel(tt.count, tt.limit); got != tt.want {
			t.Errorf("countLabel(%d, %d) = %q, want %q", tt.count, tt.limit, got, tt.want)
		}
	}
}
