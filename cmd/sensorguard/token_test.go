package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/sensorguard/internal/auth"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sensorguard.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunToken_IssuesVerifiableToken(t *testing.T) {
	const secret = "token-cmd-secret-0123456789abcdef"
	cfg := writeConfig(t, "auth:\n  jwt_secret: "+secret+"\n  token_ttl: 1h\n")

	var stdout, stderr bytes.Buffer
	code := runToken([]string{"-config", cfg, "-subject", "gateway-1", "-role", "admin"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %s", code, stderr.String())
	}

	claims, err := auth.NewTokenService([]byte(secret), time.Hour).ValidateToken(strings.TrimSpace(stdout.String()))
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "gateway-1" || claims.Role != string(auth.RoleAdmin) {
		t.Errorf("claims = %+v", claims)
	}
}

func TestRunToken_Errors(t *testing.T) {
	withSecret := writeConfig(t, "auth:\n  jwt_secret: abc\n")
	noSecret := writeConfig(t, "server:\n  port: 9000\n")

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantErr  string
	}{
		{name: "missing subject", args: []string{"-config", withSecret}, wantCode: 2, wantErr: "-subject is required"},
		{name: "no secret", args: []string{"-config", noSecret, "-subject", "x"}, wantCode: 1, wantErr: "jwt_secret is not configured"},
		{name: "bad role", args: []string{"-config", withSecret, "-subject", "x", "-role", "root"}, wantCode: 1, wantErr: "invalid role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := runToken(tt.args, &stdout, &stderr); code != tt.wantCode {
				t.Errorf("exit = %d, want %d", code, tt.wantCode)
			}
			if !strings.Contains(stderr.String(), tt.wantErr) {
				t.Errorf("stderr = %q, want it to contain %q", stderr.String(), tt.wantErr)
			}
			if stdout.Len() != 0 {
				t.Errorf("stdout = %q, want empty", stdout.String())
			}
		})
	}
}

func TestRunToken_SecretFromEnvironment(t *testing.T) {
	const secret = "env-secret-0123456789abcdef0123"
	t.Setenv("SG_AUTH_JWT_SECRET", secret)
	cfg := writeConfig(t, "server:\n  port: 9000\n")

	var stdout, stderr bytes.Buffer
	if code := runToken([]string{"-config", cfg, "-subject", "edge-7", "-ttl", "5m"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit = %d, stderr = %s", code, stderr.String())
	}
	claims, err := auth.NewTokenService([]byte(secret), time.Hour).ValidateToken(strings.TrimSpace(stdout.String()))
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Role != string(auth.RoleOperator) {
		t.Errorf("Role = %q, want default operator", claims.Role)
	}
	if life := claims.ExpiresAt.Sub(claims.IssuedAt.Time); life != 5*time.Minute {
		t.Errorf("lifetime = %v, want 5m", life)
	}
}
