//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jalsetu/apiserver/config"
	"github.com/jalsetu/apiserver/internal/db"
	"github.com/jalsetu/apiserver/internal/server"
	_ "github.com/lib/pq"
)

const (
	serverPort = 18080
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	setTestEnv()

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestReportLifecycle(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	suffix := time.Now().UnixNano()

	residentToken, _, err := signup(baseURL, fmt.Sprintf("resident_%d@example.com", suffix), "resident")
	if err != nil {
		t.Fatalf("signup resident: %v", err)
	}
	officerToken, officerID, err := signup(baseURL, fmt.Sprintf("officer_%d@example.com", suffix), "panchayat_officer")
	if err != nil {
		t.Fatalf("signup officer: %v", err)
	}
	technicianToken, technicianID, err := signup(baseURL, fmt.Sprintf("tech_%d@example.com", suffix), "maintenance_technician")
	if err != nil {
		t.Fatalf("signup technician: %v", err)
	}

	created, err := createReport(baseURL, residentToken)
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	if created.ID == 0 || created.Status != "pending" {
		t.Fatalf("unexpected created report: %+v", created)
	}
	if created.PhotoURL == nil {
		t.Fatalf("expected photo to be stored")
	}

	steps := []struct {
		token  string
		path   string
		body   any
		status string
	}{
		{officerToken, "assign", map[string]int{"technician_id": technicianID}, "assigned"},
		{technicianToken, "accept", nil, "in_progress"},
		{technicianToken, "complete", map[string]string{"completion_notes": "joint replaced"}, "awaiting_approval"},
		{officerToken, "approve", nil, "approved"},
	}

	var last reportResponse
	for _, step := range steps {
		last, err = reportAction(baseURL, step.token, created.ID, step.path, step.body)
		if err != nil {
			t.Fatalf("%s: %v", step.path, err)
		}
		if last.Status != step.status {
			t.Fatalf("%s: status = %q, want %q", step.path, last.Status, step.status)
		}
	}

	if last.ApprovedBy == nil || *last.ApprovedBy != officerID {
		t.Fatalf("approved_by = %v, want %d", last.ApprovedBy, officerID)
	}
	if last.RejectionReason != nil {
		t.Fatalf("rejection_reason = %q, want null", *last.RejectionReason)
	}

	if _, err := reportAction(baseURL, officerToken, created.ID, "reject", map[string]string{"reason": "late"}); err == nil {
		t.Fatalf("expected approved report to reject further review")
	}
}

type reportResponse struct {
	ID              int     `json:"id"`
	Status          string  `json:"status"`
	PhotoURL        *string `json:"photo_url"`
	ApprovedBy      *int    `json:"approved_by"`
	RejectionReason *string `json:"rejection_reason"`
}

type authResponse struct {
	Token string `json:"token"`
	User  struct {
		ID int `json:"id"`
	} `json:"user"`
}

func signup(baseURL, email, role string) (string, int, error) {
	payload := map[string]string{
		"email":     email,
		"password":  "testpass123!",
		"full_name": "Test " + role,
		"phone":     "+919800000000",
		"address":   "Ward 4",
		"role":      role,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/auth/signup", bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("signup status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed authResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, err
	}
	if parsed.Token == "" {
		return "", 0, fmt.Errorf("missing token in signup response")
	}
	return parsed.Token, parsed.User.ID, nil
}

func createReport(baseURL, token string) (reportResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := map[string]string{
		"full_name": "Test Resident",
		"phone":     "+919800000000",
		"address":   "Near the ward 4 tank",
		"notes":     "water pooling on the road",
		"lat":       "11.2588",
		"lng":       "75.7804",
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return reportResponse{}, err
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="photo"; filename="damage.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		return reportResponse{}, err
	}
	if _, err := part.Write([]byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}); err != nil {
		return reportResponse{}, err
	}
	if err := writer.Close(); err != nil {
		return reportResponse{}, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/reports", &buf)
	if err != nil {
		return reportResponse{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	return doReport(req, http.StatusCreated)
}

func reportAction(baseURL, token string, id int, action string, payload any) (reportResponse, error) {
	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return reportResponse{}, err
		}
		body = bytes.NewReader(data)
	}

	url := fmt.Sprintf("%s/api/reports/%d/%s", baseURL, id, action)
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return reportResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	return doReport(req, http.StatusOK)
}

func doReport(req *http.Request, want int) (reportResponse, error) {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return reportResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(resp.Body)
		return reportResponse{}, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed reportResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return reportResponse{}, err
	}
	return parsed, nil
}

func setTestEnv() {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("AUTH_REQUIRE_OTP", "off")
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "jalsetu")
	_ = os.Setenv("DB_PASSWORD", "jalsetu")
	_ = os.Setenv("DB_NAME", "jalsetu")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "jalsetu")
	_ = os.Setenv("MQ_BACKEND", "memory")
	_ = os.Setenv("REDIS_ADDR", "localhost:6379")
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.PostgresURL(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg := config.LoadConfig()
	migrationsURL := "file://" + filepath.Join(root, "internal", "db", "migrations")

	migrator, err := migrate.New(migrationsURL, db.PostgresURL(cfg.Database))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func startServer(ctx context.Context) (*server.Server, error) {
	cfg := config.LoadConfig()

	// MinIO and Redis may still be booting after postgres answers.
	var (
		srv *server.Server
		err error
	)
	for {
		srv, err = server.New(ctx, cfg)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(time.Second):
		}
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
