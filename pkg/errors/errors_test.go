package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("connection refused")
	err := NewTransportError("Load Shipments failed", 0, originalErr)

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Error("errors.Is should find the cause")
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("resource", "orders").WithContext("count", 42)

	if err.Context["resource"] != "orders" {
		t.Errorf("Context[resource] = %v, want 'orders'", err.Context["resource"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestNewLoginFailedError(t *testing.T) {
	err := NewLoginFailedError(401, nil)
	if err.Code != ErrCodeLoginFailed {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeLoginFailed)
	}
	if err.Message != "Login failed" {
		t.Errorf("Message = %q, want %q", err.Message, "Login failed")
	}
	if err.HTTPStatus != 401 {
		t.Errorf("HTTPStatus = %v, want 401", err.HTTPStatus)
	}
}

func TestGetAppError_ThroughWrapping(t *testing.T) {
	appErr := NewDecodeError("malformed shipments", errors.New("unexpected EOF"))
	wrapped := fmt.Errorf("poll shipments: %w", appErr)

	got := GetAppError(wrapped)
	if got != appErr {
		t.Fatalf("GetAppError() = %v, want %v", got, appErr)
	}
	if got.Code != ErrCodeDecodeFailed {
		t.Errorf("Code = %s, want %s", got.Code, ErrCodeDecodeFailed)
	}
}

func TestGetAppError_Nil(t *testing.T) {
	if GetAppError(nil) != nil {
		t.Error("GetAppError(nil) should be nil")
	}
	if GetAppError(errors.New("plain")) != nil {
		t.Error("GetAppError(plain) should be nil")
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(NewTransportError("Load Active Users failed", 500, nil)); got != "Load Active Users failed" {
		t.Errorf("UserMessage() = %q", got)
	}
	if got := UserMessage(errors.New("boom")); got != "boom" {
		t.Errorf("UserMessage() = %q", got)
	}
	if got := UserMessage(nil); got != "" {
		t.Errorf("UserMessage(nil) = %q", got)
	}
}
