package email

import (
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderAccountCreatedTemplate(t *testing.T) {
	data := CredentialsData{
		AppName:  appName,
		FullName: "Jane Doe",
		Username: "jane.doe",
		Password: "Ab3!xyzQ9&kL",
		Role:     "developer",
	}

	html, err := renderTemplate(accountCreatedTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	for _, want := range []string{"Task Manager", "Jane Doe", "jane.doe", "developer"} {
		if !strings.Contains(html, want) {
			t.Errorf("template should contain %q", want)
		}
	}
	// html/template escapes & in the password.
	if !strings.Contains(html, "Ab3!xyzQ9&amp;kL") {
		t.Error("template should contain the escaped password")
	}
}

func TestRenderPasswordResetTemplate(t *testing.T) {
	data := CredentialsData{
		AppName:  appName,
		FullName: "Test User",
		Username: "test",
		Password: "Zz9#Zz9#Zz9#",
	}

	html, err := renderTemplate(passwordResetTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Test User") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "Zz9#Zz9#Zz9#") {
		t.Error("template should contain the new password")
	}
}

func TestSendWithoutConfiguration(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendAccountCreatedEmail("a@example.com", CredentialsData{}); err == nil {
		t.Fatal("expected error when SMTP is not configured")
	}
}
